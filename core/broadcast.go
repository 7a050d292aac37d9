package core

// Real-time events pushed to the members of a room.
const (
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventRoomClosed  = "room_closed"
	EventPomodoro    = "pomodoro"
	EventVideoJoined = "video_joined"
	EventVideoLeft   = "video_left"
)

// RoomBroadcaster pushes an event to every client connected to a room.
type RoomBroadcaster interface {
	Broadcast(roomCode, event string, payload interface{})
	// Kick detaches every connection of userID from the room; they stop receiving its traffic.
	Kick(roomCode, userID string)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

var _ RoomBroadcaster = NopBroadcaster{}

func (NopBroadcaster) Broadcast(string, string, interface{}) {}

func (NopBroadcaster) Kick(string, string) {}
