package pomodoro

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("pomodoro not found")
	ErrAlreadyRunning = core.NewValidationError(errors.New("a pomodoro is already running in this room"))
	ErrNotRunning     = core.NewValidationError(errors.New("pomodoro is not running"))

	orderingFields = map[string]string{
		"started_at": "p.started_at",
		"ends_at":    "p.ends_at",
		"kind":       "p.kind",
		"status":     "p.status",
	}
)

type (
	Repository interface {
		CreatePomodoro(ctx context.Context, p Pomodoro, exec ...core.DBExecutor) error
		GetPomodoro(ctx context.Context, id string, exec ...core.DBExecutor) (Pomodoro, error)
		GetRunningPomodoro(ctx context.Context, sessionID string, exec ...core.DBExecutor) (Pomodoro, error)
		// FinishPomodoro reports false when the pomodoro was not running anymore.
		FinishPomodoro(ctx context.Context, id, status string, at time.Time, exec ...core.DBExecutor) (bool, error)
		// ListRunningRoomPomodoros lists the running pomodoros of room; of userID only when not empty.
		ListRunningRoomPomodoros(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) ([]Pomodoro, error)
		ListExpiredPomodoros(ctx context.Context, now time.Time, limit uint64, exec ...core.DBExecutor) ([]Pomodoro, error)
		QueryPomodoros(ctx context.Context, userID string, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Pomodoro, error)
		PomodoroStats(ctx context.Context, userID string, since time.Time, exec ...core.DBExecutor) (Stats, error)
	}

	// Membership is implemented by room.Service.
	Membership interface {
		ActiveSession(ctx context.Context, code, userID string) (room.Room, room.Session, error)
		LockActiveSession(ctx context.Context, tx core.DBExecutor, sessionID string) error
	}
)

type Service struct {
	db          core.DB
	repo        Repository
	rooms       Membership
	broadcaster core.RoomBroadcaster
	durations   map[string]time.Duration
	nowFunc     func() time.Time
}

var _ room.SessionListener = (*Service)(nil)

func NewService(db core.DB, repo Repository, rooms Membership, broadcaster core.RoomBroadcaster, conf *core.Config) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		rooms:       rooms,
		broadcaster: broadcaster,
		durations: map[string]time.Duration{
			KindFocus:      conf.Pomodoro.Focus,
			KindShortBreak: conf.Pomodoro.ShortBreak,
			KindLongBreak:  conf.Pomodoro.LongBreak,
		},
		nowFunc: time.Now,
	}
}

func (svc *Service) now() time.Time { return svc.nowFunc().UTC() }

func (svc *Service) notify(action string, p Pomodoro) {
	svc.broadcaster.Broadcast(p.RoomCode, core.EventPomodoro, Event{Action: action, Pomodoro: p})
}

// end finishes a running pomodoro at the given time; an expired one is always completed at its end time.
// ex may be nil outside of a transaction.
func (svc *Service) end(ctx context.Context, ex core.DBExecutor, p Pomodoro, status string, at time.Time) (Pomodoro, error) {
	if p.Expired(at) {
		status, at = StatusCompleted, p.EndsAt
	}
	ok, err := svc.repo.FinishPomodoro(ctx, p.ID, status, at, ex)
	if err != nil {
		return Pomodoro{}, pkgerrors.Wrap(err, "finishing pomodoro")
	}
	if !ok {
		return Pomodoro{}, ErrNotRunning
	}
	p.Status, p.EndedAt = status, at
	return p, nil
}

func (svc *Service) finish(ctx context.Context, p Pomodoro, status string) (Pomodoro, error) {
	p, err := svc.end(ctx, nil, p, status, svc.now())
	if err != nil {
		return Pomodoro{}, err
	}
	svc.notify(p.Status, p)
	return p, nil
}

// Start starts a pomodoro in a room where userID has an active Session.
// The Session row stays locked until the pomodoro is stored so only one can run at a time.
func (svc *Service) Start(ctx context.Context, userID string, sp StartPomodoro) (Pomodoro, error) {
	rm, sess, err := svc.rooms.ActiveSession(ctx, sp.RoomCode, userID)
	if err != nil {
		return Pomodoro{}, err
	}

	duration := svc.durations[sp.Kind]
	if sp.DurationMinutes > 0 {
		duration = time.Duration(sp.DurationMinutes) * time.Minute
	}
	now := svc.now()
	p := Pomodoro{
		ID:              uuid.NewString(),
		SessionID:       sess.ID,
		RoomID:          rm.ID,
		RoomCode:        rm.Code,
		UserID:          userID,
		Kind:            sp.Kind,
		Status:          StatusRunning,
		DurationSeconds: int(duration / time.Second),
		StartedAt:       now,
		EndsAt:          now.Add(duration),
	}

	var expired Pomodoro
	err = core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		if err := svc.rooms.LockActiveSession(ctx, tx, sess.ID); err != nil {
			return err
		}
		running, err := svc.repo.GetRunningPomodoro(ctx, sess.ID, tx)
		switch {
		case err == nil:
			if !running.Expired(now) {
				return ErrAlreadyRunning
			}
			if expired, err = svc.end(ctx, tx, running, StatusCompleted, now); err != nil && err != ErrNotRunning {
				return err
			}
		case err != ErrNotFound:
			return pkgerrors.Wrap(err, "finding running pomodoro")
		}
		return pkgerrors.Wrap(svc.repo.CreatePomodoro(ctx, p, tx), "creating pomodoro")
	})
	if err != nil {
		return Pomodoro{}, err
	}

	if expired.ID != "" {
		svc.notify(expired.Status, expired)
	}
	svc.notify("started", p)
	return p, nil
}

// Current returns the running pomodoro of userID in the room.
// A pomodoro that reached its end is completed instead and ErrNotFound is returned.
func (svc *Service) Current(ctx context.Context, userID, roomCode string) (Pomodoro, error) {
	_, sess, err := svc.rooms.ActiveSession(ctx, roomCode, userID)
	if err != nil {
		return Pomodoro{}, err
	}
	p, err := svc.repo.GetRunningPomodoro(ctx, sess.ID)
	if err != nil {
		return Pomodoro{}, err
	}
	if p.Expired(svc.now()) {
		if _, err = svc.finish(ctx, p, StatusCompleted); err != nil && err != ErrNotRunning {
			return Pomodoro{}, err
		}
		return Pomodoro{}, ErrNotFound
	}
	return p, nil
}

func (svc *Service) getOwned(ctx context.Context, userID, id string) (Pomodoro, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Pomodoro{}, ErrNotFound
	}
	p, err := svc.repo.GetPomodoro(ctx, id)
	if err != nil {
		return Pomodoro{}, err
	}
	if p.UserID != userID {
		return Pomodoro{}, ErrNotFound
	}
	if !p.IsRunning() {
		return Pomodoro{}, ErrNotRunning
	}
	return p, nil
}

// Complete marks a running pomodoro of userID as completed.
func (svc *Service) Complete(ctx context.Context, userID, id string) (Pomodoro, error) {
	p, err := svc.getOwned(ctx, userID, id)
	if err != nil {
		return Pomodoro{}, err
	}
	return svc.finish(ctx, p, StatusCompleted)
}

// Cancel interrupts a running pomodoro of userID.
func (svc *Service) Cancel(ctx context.Context, userID, id string) (Pomodoro, error) {
	p, err := svc.getOwned(ctx, userID, id)
	if err != nil {
		return Pomodoro{}, err
	}
	return svc.finish(ctx, p, StatusCancelled)
}

// History lists the pomodoros of userID, most recent first unless ordering says otherwise.
// Unknown ordering fields are ignored.
func (svc *Service) History(ctx context.Context, userID string, filter QueryFilter, ordering []core.DBOrdering) ([]Pomodoro, error) {
	orderings := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := orderingFields[ord.Field]; ok {
			orderings = append(orderings, core.DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	if len(orderings) == 0 {
		orderings = append(orderings, core.DBOrdering{Field: orderingFields["started_at"]})
	}
	return svc.repo.QueryPomodoros(ctx, userID, filter, orderings)
}

// Stats aggregates the pomodoros of userID; "today" starts at midnight UTC.
func (svc *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	now := svc.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return svc.repo.PomodoroStats(ctx, userID, dayStart)
}

// CompleteExpired completes running pomodoros that reached their end.
func (svc *Service) CompleteExpired(ctx context.Context) (int, error) {
	expired, err := svc.repo.ListExpiredPomodoros(ctx, svc.now(), 500)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "listing expired pomodoros")
	}
	var n int
	for _, p := range expired {
		if _, err = svc.finish(ctx, p, StatusCompleted); err != nil {
			if err == ErrNotRunning {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// SessionsEnded cancels the running pomodoros of the sessions that ended.
// Those that already reached their end are completed instead. Members are told once the sessions ended for good.
func (svc *Service) SessionsEnded(ctx context.Context, exec core.DBExecutor, rm room.Room, userID string, at time.Time) (func(), error) {
	running, err := svc.repo.ListRunningRoomPomodoros(ctx, rm.ID, userID, exec)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listing room pomodoros")
	}

	finished := make([]Pomodoro, 0, len(running))
	for _, p := range running {
		p, err = svc.end(ctx, exec, p, StatusCancelled, at)
		if err == ErrNotRunning {
			continue
		} else if err != nil {
			return nil, err
		}
		finished = append(finished, p)
	}
	if len(finished) == 0 {
		return nil, nil
	}
	return func() {
		for _, p := range finished {
			svc.notify(p.Status, p)
		}
	}, nil
}
