package pomodoro

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
)

// Kinds
const (
	KindFocus      = "focus"
	KindShortBreak = "short_break"
	KindLongBreak  = "long_break"
)

// Statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var (
	Kinds    = []string{KindFocus, KindShortBreak, KindLongBreak}
	Statuses = []string{StatusRunning, StatusCompleted, StatusCancelled}
)

// Pomodoro is a timed focus or break interval tied to a room Session.
type Pomodoro struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	RoomID          string    `json:"room_id"`
	RoomCode        string    `json:"room_code"`
	UserID          string    `json:"user_id"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"` // UTC
	EndsAt          time.Time `json:"ends_at"`    // UTC
	EndedAt         time.Time `json:"ended_at"`   // UTC; zero while running
}

func (p Pomodoro) IsRunning() bool { return p.Status == StatusRunning }

// Expired reports whether a running pomodoro reached its end.
func (p Pomodoro) Expired(now time.Time) bool { return p.IsRunning() && !now.Before(p.EndsAt) }

// Remaining returns the time left before the pomodoro ends.
func (p Pomodoro) Remaining(now time.Time) time.Duration {
	if !p.IsRunning() || !now.Before(p.EndsAt) {
		return 0
	}
	return p.EndsAt.Sub(now)
}

// StartPomodoro contains information needed to start a Pomodoro.
type StartPomodoro struct {
	RoomCode        string `json:"room_code" validate:"required,roomcode"`
	Kind            string `json:"kind" validate:"required,oneof=focus short_break long_break"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,min=1,max=180"`
}

func (sp *StartPomodoro) Validate(validate *validator.Validate) error {
	sp.RoomCode = room.NormalizeCode(sp.RoomCode)
	sp.Kind = core.CleanString(sp.Kind, true /* lower */)
	return validate.Struct(sp)
}

type QueryFilter struct {
	RoomCode string `query:"room"`
	Status   string `query:"status"`
	Kind     string `query:"kind"`
}

func (qf *QueryFilter) Clean() {
	qf.RoomCode = room.NormalizeCode(qf.RoomCode)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Kind = core.CleanString(qf.Kind, true /* lower */)
}

type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Cancelled      int `json:"cancelled"`
	Running        int `json:"running"`
	FocusMinutes   int `json:"focus_minutes"`
	CompletedToday int `json:"completed_today"`
}

// Event is pushed to the room whenever a pomodoro changes.
type Event struct {
	Action   string   `json:"action"` // started | completed | cancelled
	Pomodoro Pomodoro `json:"pomodoro"`
}
