// Package hub fans real-time room events out to WebSocket clients.
// Clients join one room at a time; chat, typing and WebRTC signals only reach the clients of that room.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
)

const (
	maxChatLength = 2000
	sendBufSize   = 64
	checkTimeout  = 5 * time.Second
)

// Client frame types
const (
	TypeJoin   = "join"
	TypeLeave  = "leave"
	TypeChat   = "chat"
	TypeTyping = "typing"
	TypeSignal = "signal"
	TypePing   = "ping"
)

// Server frame types, on top of the core.Event* pushes
const (
	TypeJoined   = "joined"
	TypeLeft     = "left"
	TypePresence = "presence"
	TypePong     = "pong"
	TypeError    = "error"
)

var (
	errNotMember     = "you are not a member of this room"
	errNotInRoom     = "join a room first"
	errEmptyChat     = "message cannot be empty"
	errChatTooLong   = "message is too long"
	errPeerNotInRoom = "recipient is not in this room"
	errUnknownFrame  = "unknown message type"
	errBadFrame      = "malformed message"
	errServer        = "something went wrong"
)

type (
	// MembershipChecker is implemented by room.Service.
	MembershipChecker interface {
		IsMember(ctx context.Context, code, userID string) (bool, error)
	}

	// Identity is the authenticated user behind a connection.
	Identity struct {
		UserID   string `json:"user_id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	}

	// Inbound is a frame sent by a client.
	Inbound struct {
		Type string          `json:"type"`
		Room string          `json:"room,omitempty"`
		Body string          `json:"body,omitempty"`
		To   string          `json:"to,omitempty"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	// Frame is a frame sent by the server.
	Frame struct {
		Type     string      `json:"type"`
		Room     string      `json:"room,omitempty"`
		From     string      `json:"from,omitempty"`
		Name     string      `json:"name,omitempty"`
		Body     string      `json:"body,omitempty"`
		SentAt   *time.Time  `json:"sent_at,omitempty"`
		Presence []Identity  `json:"presence,omitempty"`
		Data     interface{} `json:"data,omitempty"`
		Message  string      `json:"message,omitempty"`
	}
)

type Hub struct {
	members  MembershipChecker
	logger   core.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

var _ core.RoomBroadcaster = (*Hub)(nil)

func New(members MembershipChecker, logger core.Logger, allowOrigins []string) *Hub {
	return &Hub{
		members: members,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowOrigins),
		},
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

func checkOrigin(allowOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowOrigins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// SetMembershipChecker replaces the membership checker; the room service is built after the hub.
func (h *Hub) SetMembershipChecker(members MembershipChecker) {
	h.mu.Lock()
	h.members = members
	h.mu.Unlock()
}

// ServeWS upgrades the request and serves the connection of id until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id Identity) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		return nil
	}

	c := newClient(h, conn, id)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	c.readPump()
	return nil
}

// Broadcast pushes a service event to every client of a room.
func (h *Hub) Broadcast(roomCode, event string, payload interface{}) {
	roomCode = room.NormalizeCode(roomCode)
	msg, err := json.Marshal(Frame{Type: event, Room: roomCode, Data: payload})
	if err != nil {
		h.logger.Error("encoding broadcast", errors.Wrap(err, event))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomCode] {
		h.deliverLocked(c, msg)
	}

	if event == core.EventRoomClosed {
		for c := range h.rooms[roomCode] {
			c.room = ""
		}
		delete(h.rooms, roomCode)
	}
}

// Kick detaches the connections of userID from a room, tells them they left and updates the presence of the others.
func (h *Hub) Kick(roomCode, userID string) {
	roomCode = room.NormalizeCode(roomCode)

	h.mu.Lock()
	defer h.mu.Unlock()
	var kicked []*Client
	for c := range h.rooms[roomCode] {
		if c.id.UserID == userID {
			kicked = append(kicked, c)
		}
	}
	for _, c := range kicked {
		h.leaveLocked(c)
		h.sendLocked(c, Frame{Type: TypeLeft, Room: roomCode})
	}
}

// Presence returns the users connected to a room, sorted by username.
func (h *Hub) Presence(roomCode string) []Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presenceLocked(room.NormalizeCode(roomCode))
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) presenceLocked(roomCode string) []Identity {
	seen := make(map[string]struct{})
	users := make([]Identity, 0, len(h.rooms[roomCode]))
	for c := range h.rooms[roomCode] {
		if _, ok := seen[c.id.UserID]; ok {
			continue
		}
		seen[c.id.UserID] = struct{}{}
		users = append(users, c.id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// deliverLocked queues msg for c; a client whose buffer is full is dropped.
func (h *Hub) deliverLocked(c *Client, msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("dropping slow client", map[string]interface{}{"user": c.id.UserID, "room": c.room})
		roomCode := c.room
		h.removeLocked(c)
		h.broadcastPresenceLocked(roomCode)
	}
}

func (h *Hub) broadcastLocked(roomCode string, f Frame, except *Client) {
	msg, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encoding frame", errors.Wrap(err, f.Type))
		return
	}
	for c := range h.rooms[roomCode] {
		if c != except {
			h.deliverLocked(c, msg)
		}
	}
}

func (h *Hub) broadcastPresenceLocked(roomCode string) {
	if roomCode == "" {
		return
	}
	h.broadcastLocked(roomCode, Frame{Type: TypePresence, Room: roomCode, Presence: h.presenceLocked(roomCode)}, nil)
}

func (h *Hub) sendLocked(c *Client, f Frame) {
	msg, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encoding frame", errors.Wrap(err, f.Type))
		return
	}
	h.deliverLocked(c, msg)
}

func (h *Hub) send(c *Client, f Frame) {
	h.mu.Lock()
	h.sendLocked(c, f)
	h.mu.Unlock()
}

func (h *Hub) sendError(c *Client, msg string) {
	h.send(c, Frame{Type: TypeError, Message: msg})
}

// leaveLocked detaches c from its room and tells the others.
func (h *Hub) leaveLocked(c *Client) string {
	roomCode := c.room
	if roomCode == "" {
		return ""
	}
	if clients, ok := h.rooms[roomCode]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomCode)
		}
	}
	c.room = ""
	h.broadcastPresenceLocked(roomCode)
	return roomCode
}

// removeLocked unregisters c and closes its send channel once.
func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	if roomCode := c.room; roomCode != "" {
		if clients, ok := h.rooms[roomCode]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, roomCode)
			}
		}
		c.room = ""
	}
	delete(h.clients, c)
	c.closed = true
	close(c.send)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomCode := c.room
	h.removeLocked(c)
	h.broadcastPresenceLocked(roomCode)
}

func (h *Hub) handle(c *Client, in Inbound) {
	switch in.Type {
	case TypeJoin:
		h.join(c, in.Room)
	case TypeLeave:
		h.mu.Lock()
		if roomCode := h.leaveLocked(c); roomCode != "" {
			h.sendLocked(c, Frame{Type: TypeLeft, Room: roomCode})
		}
		h.mu.Unlock()
	case TypeChat:
		h.chat(c, in.Body)
	case TypeTyping:
		h.mu.Lock()
		if c.room == "" {
			h.sendLocked(c, Frame{Type: TypeError, Message: errNotInRoom})
		} else {
			h.broadcastLocked(c.room, Frame{Type: TypeTyping, Room: c.room, From: c.id.UserID, Name: c.id.Name}, c)
		}
		h.mu.Unlock()
	case TypeSignal:
		h.signal(c, in.To, in.Data)
	case TypePing:
		h.send(c, Frame{Type: TypePong})
	default:
		h.sendError(c, errUnknownFrame)
	}
}

func (h *Hub) join(c *Client, roomCode string) {
	roomCode = room.NormalizeCode(roomCode)

	h.mu.Lock()
	members := h.members
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	ok, err := members.IsMember(ctx, roomCode, c.id.UserID)
	if err != nil {
		h.logger.Error("checking room membership", err, map[string]interface{}{"user": c.id.UserID, "room": roomCode})
		h.sendError(c, errServer)
		return
	}
	if !ok {
		h.sendError(c, errNotMember)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if c.room != roomCode {
		h.leaveLocked(c)
		clients, ok := h.rooms[roomCode]
		if !ok {
			clients = make(map[*Client]struct{})
			h.rooms[roomCode] = clients
		}
		clients[c] = struct{}{}
		c.room = roomCode
	}
	presence := h.presenceLocked(roomCode)
	h.sendLocked(c, Frame{Type: TypeJoined, Room: roomCode, Presence: presence})
	h.broadcastLocked(roomCode, Frame{Type: TypePresence, Room: roomCode, Presence: presence}, c)
}

func (h *Hub) chat(c *Client, body string) {
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		h.sendError(c, errEmptyChat)
		return
	case utf8.RuneCountInString(body) > maxChatLength:
		h.sendError(c, errChatTooLong)
		return
	}

	now := time.Now().UTC()
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room == "" {
		h.sendLocked(c, Frame{Type: TypeError, Message: errNotInRoom})
		return
	}
	h.broadcastLocked(c.room, Frame{Type: TypeChat, Room: c.room, From: c.id.UserID, Name: c.id.Name, Body: body, SentAt: &now}, nil)
}

// signal relays WebRTC offers, answers and ICE candidates to the connections of one user in the same room.
func (h *Hub) signal(c *Client, to string, data json.RawMessage) {
	if to == "" || len(data) == 0 {
		h.sendError(c, errBadFrame)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c.room == "" {
		h.sendLocked(c, Frame{Type: TypeError, Message: errNotInRoom})
		return
	}

	msg, err := json.Marshal(Frame{Type: TypeSignal, Room: c.room, From: c.id.UserID, Name: c.id.Name, Data: data})
	if err != nil {
		h.logger.Error("encoding signal", err)
		return
	}
	var delivered bool
	for peer := range h.rooms[c.room] {
		if peer.id.UserID == to && peer != c {
			h.deliverLocked(peer, msg)
			delivered = true
		}
	}
	if !delivered {
		h.sendLocked(c, Frame{Type: TypeError, Message: errPeerNotInRoom})
	}
}
