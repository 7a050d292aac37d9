package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

const maxCodeAttempts = 10

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("room not found")
	ErrSessionNotFound = core.NewNotFoundError("session not found")
	ErrNotMember       = core.NewPermissionError("you are not a member of this room")
	ErrNotOwner        = core.NewPermissionError("only the room owner can do this")
	ErrRoomFull        = core.NewValidationError(errors.New("room is full"))
	ErrRoomClosed      = core.NewValidationError(errors.New("room is closed"))
	errCodeExhausted   = errors.New("could not generate a unique room code")
)

type Repository interface {
	CreateRoom(ctx context.Context, rm Room, exec ...core.DBExecutor) error
	CodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error)
	// GetRoomByCode locks the room row until the end of the transaction when forUpdate is set.
	GetRoomByCode(ctx context.Context, code string, forUpdate bool, exec ...core.DBExecutor) (Room, error)
	// ListUserRooms returns the active rooms owned by userID or where userID has an active Session.
	ListUserRooms(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Room, error)
	CloseRoom(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error

	GetActiveSession(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (Session, error)
	CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) error
	// LockSession locks the session row until the end of the transaction and returns it.
	LockSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
	// EndSessions sets left_at on the active sessions of room; of userID only when not empty.
	EndSessions(ctx context.Context, roomID, userID string, at time.Time, exec ...core.DBExecutor) (int64, error)
	ListMembers(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]Member, error)
}

// SessionListener is notified, inside the ending transaction, when sessions of a room end.
// userID is empty when every session of the room ended.
// The returned func, when not nil, runs once the transaction committed.
type SessionListener interface {
	SessionsEnded(ctx context.Context, exec core.DBExecutor, rm Room, userID string, at time.Time) (func(), error)
}

type Service struct {
	db              core.DB
	repo            Repository
	broadcaster     core.RoomBroadcaster
	listeners       []SessionListener
	codeLength      int
	maxParticipants int
}

func NewService(db core.DB, repo Repository, broadcaster core.RoomBroadcaster, conf *core.Config) *Service {
	return &Service{
		db:              db,
		repo:            repo,
		broadcaster:     broadcaster,
		codeLength:      conf.Room.CodeLength,
		maxParticipants: conf.Room.MaxParticipants,
	}
}

// AddSessionListener registers l to be called whenever sessions end.
func (svc *Service) AddSessionListener(l SessionListener) {
	svc.listeners = append(svc.listeners, l)
}

func (svc *Service) generateCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := core.RandomString(svc.codeLength, codeAlphabet)
		if err != nil {
			return "", pkgerrors.Wrap(err, "generating room code")
		}
		exists, err := svc.repo.CodeExists(ctx, code)
		if err != nil {
			return "", pkgerrors.Wrap(err, "checking room code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", errCodeExhausted
}

// Create creates a room owned by ownerID and joins the owner to it.
func (svc *Service) Create(ctx context.Context, ownerID string, nr NewRoom) (Room, error) {
	code, err := svc.generateCode(ctx)
	if err != nil {
		return Room{}, err
	}
	now := time.Now().UTC()
	maxParticipants := nr.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = svc.maxParticipants
	}
	rm := Room{
		ID:              uuid.NewString(),
		Code:            code,
		Name:            nr.Name,
		Description:     nr.Description,
		OwnerID:         ownerID,
		MaxParticipants: maxParticipants,
		IsActive:        true,
		ActiveMembers:   1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		if err := svc.repo.CreateRoom(ctx, rm, tx); err != nil {
			return pkgerrors.Wrap(err, "creating room")
		}
		sess := Session{ID: uuid.NewString(), RoomID: rm.ID, UserID: ownerID, JoinedAt: now}
		return pkgerrors.Wrap(svc.repo.CreateSession(ctx, sess, tx), "creating owner session")
	})
	if err != nil {
		return Room{}, err
	}
	return rm, nil
}

// GetByCode returns the room identified by code (case-insensitive) with its active members count.
func (svc *Service) GetByCode(ctx context.Context, code string) (Room, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return Room{}, ErrNotFound
	}
	return svc.repo.GetRoomByCode(ctx, code, false)
}

func (svc *Service) ListForUser(ctx context.Context, userID string) ([]Room, error) {
	return svc.repo.ListUserRooms(ctx, userID)
}

// Join creates an active Session for userID in the room. Joining twice returns the existing Session.
func (svc *Service) Join(ctx context.Context, code string, usr user.User) (Session, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return Session{}, ErrNotFound
	}

	var (
		sess    Session
		created bool
	)
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		rm, err := svc.repo.GetRoomByCode(ctx, code, true, tx)
		if err != nil {
			return err
		}
		if !rm.IsActive {
			return ErrRoomClosed
		}

		sess, err = svc.repo.GetActiveSession(ctx, rm.ID, usr.ID, tx)
		if err == nil {
			return nil
		} else if err != ErrSessionNotFound {
			return pkgerrors.Wrap(err, "finding active session")
		}

		if rm.IsFull() {
			return ErrRoomFull
		}
		sess = Session{ID: uuid.NewString(), RoomID: rm.ID, UserID: usr.ID, JoinedAt: time.Now().UTC()}
		created = true
		return pkgerrors.Wrap(svc.repo.CreateSession(ctx, sess, tx), "creating session")
	})
	if err != nil {
		return Session{}, err
	}

	if created {
		svc.broadcaster.Broadcast(code, core.EventUserJoined, presenceEvent{UserID: usr.ID, Name: usr.Name, Username: usr.Username})
	}
	return sess, nil
}

// Leave ends the active Session of usr in the room.
func (svc *Service) Leave(ctx context.Context, code string, usr user.User) error {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return ErrNotFound
	}

	var afterCommit []func()
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		rm, err := svc.repo.GetRoomByCode(ctx, code, false, tx)
		if err != nil {
			return err
		}
		afterCommit, err = svc.endSessions(ctx, tx, rm, usr.ID)
		return err
	})
	if err != nil {
		return err
	}

	for _, fn := range afterCommit {
		fn()
	}
	svc.broadcaster.Kick(code, usr.ID)
	svc.broadcaster.Broadcast(code, core.EventUserLeft, presenceEvent{UserID: usr.ID, Name: usr.Name, Username: usr.Username})
	return nil
}

// endSessions ends the sessions and notifies the listeners. The returned funcs must run after commit.
func (svc *Service) endSessions(ctx context.Context, tx core.DBExecutor, rm Room, userID string) ([]func(), error) {
	now := time.Now().UTC()
	n, err := svc.repo.EndSessions(ctx, rm.ID, userID, now, tx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "ending sessions")
	}
	if n == 0 && userID != "" {
		return nil, ErrNotMember
	}
	var afterCommit []func()
	for _, l := range svc.listeners {
		fn, err := l.SessionsEnded(ctx, tx, rm, userID, now)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			afterCommit = append(afterCommit, fn)
		}
	}
	return afterCommit, nil
}

// Members returns the active members of the room; only members may list them.
func (svc *Service) Members(ctx context.Context, code, userID string) ([]Member, error) {
	rm, _, err := svc.ActiveSession(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	return svc.repo.ListMembers(ctx, rm.ID)
}

// Close deactivates the room and ends every Session. Only the owner can close a room.
func (svc *Service) Close(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return ErrNotFound
	}

	var afterCommit []func()
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		rm, err := svc.repo.GetRoomByCode(ctx, code, true, tx)
		if err != nil {
			return err
		}
		if rm.OwnerID != userID {
			return ErrNotOwner
		}
		if !rm.IsActive {
			return ErrRoomClosed
		}
		if err = svc.repo.CloseRoom(ctx, rm.ID, time.Now().UTC(), tx); err != nil {
			return pkgerrors.Wrap(err, "closing room")
		}
		afterCommit, err = svc.endSessions(ctx, tx, rm, "")
		return err
	})
	if err != nil {
		return err
	}

	// members hear about their timers and the call before the room goes away
	for _, fn := range afterCommit {
		fn()
	}
	svc.broadcaster.Broadcast(code, core.EventRoomClosed, map[string]string{"room": code})
	return nil
}

// LockActiveSession locks the session row until the end of the transaction.
// ErrNotMember is returned when the session ended in the meantime.
func (svc *Service) LockActiveSession(ctx context.Context, tx core.DBExecutor, sessionID string) error {
	sess, err := svc.repo.LockSession(ctx, sessionID, tx)
	switch {
	case err == ErrSessionNotFound:
		return ErrNotMember
	case err != nil:
		return pkgerrors.Wrap(err, "locking session")
	case !sess.IsActive():
		return ErrNotMember
	}
	return nil
}

// ActiveSession returns the room and the active Session of userID in it.
// ErrNotMember is returned when userID has no active Session there.
func (svc *Service) ActiveSession(ctx context.Context, code, userID string) (Room, Session, error) {
	rm, err := svc.GetByCode(ctx, code)
	if err != nil {
		return Room{}, Session{}, err
	}
	sess, err := svc.repo.GetActiveSession(ctx, rm.ID, userID)
	if err != nil {
		if err == ErrSessionNotFound {
			return Room{}, Session{}, ErrNotMember
		}
		return Room{}, Session{}, pkgerrors.Wrap(err, "finding active session")
	}
	return rm, sess, nil
}

// IsMember reports whether userID has an active Session in the room.
func (svc *Service) IsMember(ctx context.Context, code, userID string) (bool, error) {
	_, _, err := svc.ActiveSession(ctx, code, userID)
	switch {
	case err == nil:
		return true, nil
	case err == ErrNotMember || err == ErrNotFound:
		return false, nil
	default:
		return false, err
	}
}

type presenceEvent struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}
