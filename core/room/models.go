package room

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

// codeAlphabet leaves out characters that are easily confused (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type Room struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	OwnerID         string    `json:"owner_id"`
	MaxParticipants int       `json:"max_participants"`
	IsActive        bool      `json:"is_active"`
	ActiveMembers   int       `json:"active_members"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
	ClosedAt        time.Time `json:"closed_at"`  // UTC; zero while open
}

func (r Room) IsFull() bool { return r.ActiveMembers >= r.MaxParticipants }

// Session is a user's membership within a Room. It is active until LeftAt is set.
type Session struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"` // UTC
	LeftAt   time.Time `json:"left_at"`   // UTC; zero while active
}

func (s Session) IsActive() bool { return s.LeftAt.IsZero() }

// Member is an active Session along with its user's public info.
type Member struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	IsOwner   bool      `json:"is_owner"`
	JoinedAt  time.Time `json:"joined_at"`
}

// NewRoom contains information needed to create a new Room.
type NewRoom struct {
	Name            string `json:"name" validate:"required,notblank,max=100"`
	Description     string `json:"description" validate:"max=500"`
	MaxParticipants int    `json:"max_participants" validate:"omitempty,min=2,max=100"`
}

func (nr *NewRoom) Validate(validate *validator.Validate) error {
	nr.Name = core.CleanString(nr.Name)
	nr.Description = core.CleanString(nr.Description)
	return validate.Struct(nr)
}

// NormalizeCode upper-cases a user supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}

// ValidCode reports whether code only contains characters a generated code can hold.
func ValidCode(code string) bool {
	if code == "" {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			return false
		}
	}
	return true
}
