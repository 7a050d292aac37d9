package video

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("video session not found")
	ErrNotInCall        = core.NewValidationError(errors.New("you are not in the video call"))
	ErrVideoUnavailable = core.NewUnavailableError("video conferencing is not configured")
)

// VideoSession is a participant's entry in a room's video call. It is active until LeftAt is set.
type VideoSession struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	RoomCode string    `json:"room_code"`
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"` // UTC
	LeftAt   time.Time `json:"left_at"`   // UTC; zero while active
}

type (
	Repository interface {
		GetActiveVideoSession(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (VideoSession, error)
		CreateVideoSession(ctx context.Context, vs VideoSession, exec ...core.DBExecutor) error
		// EndVideoSessions ends the active video sessions of room; of userID only when not empty.
		EndVideoSessions(ctx context.Context, roomID, userID string, at time.Time, exec ...core.DBExecutor) (int64, error)
		// EndVideoSession reports false when the video session had already ended.
		EndVideoSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (bool, error)
		ListActiveVideoSessions(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]VideoSession, error)
		// ListStaleVideoSessions lists active video sessions joined before joinedBefore or
		// whose user has no active room session anymore.
		ListStaleVideoSessions(ctx context.Context, joinedBefore time.Time, exec ...core.DBExecutor) ([]VideoSession, error)
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
	issuer      *TokenIssuer
	broadcaster core.RoomBroadcaster
	maxCallAge  time.Duration
}

var _ room.SessionListener = (*Service)(nil)

func NewService(db core.DB, repo Repository, rooms Membership, issuer *TokenIssuer, broadcaster core.RoomBroadcaster, conf *core.Config) *Service {
	return &Service{
		db:          db,
		repo:        repo,
		rooms:       rooms,
		issuer:      issuer,
		broadcaster: broadcaster,
		maxCallAge:  conf.LiveKit.TokenTTL,
	}
}

// Join adds usr to the video call of a room they are a member of. Joining twice returns the same VideoSession.
func (svc *Service) Join(ctx context.Context, code string, usr user.User) (VideoSession, error) {
	rm, sess, err := svc.rooms.ActiveSession(ctx, code, usr.ID)
	if err != nil {
		return VideoSession{}, err
	}

	var (
		vs      VideoSession
		created bool
	)
	err = core.InTx(ctx, svc.db, func(tx core.DBExecutor) (err error) {
		if err = svc.rooms.LockActiveSession(ctx, tx, sess.ID); err != nil {
			return err
		}
		vs, err = svc.repo.GetActiveVideoSession(ctx, rm.ID, usr.ID, tx)
		if err == nil {
			return nil
		} else if err != ErrNotFound {
			return pkgerrors.Wrap(err, "finding active video session")
		}

		vs = VideoSession{
			ID:       uuid.NewString(),
			RoomID:   rm.ID,
			RoomCode: rm.Code,
			UserID:   usr.ID,
			Name:     usr.Name,
			Username: usr.Username,
			JoinedAt: time.Now().UTC(),
		}
		created = true
		return pkgerrors.Wrap(svc.repo.CreateVideoSession(ctx, vs, tx), "creating video session")
	})
	if err != nil {
		return VideoSession{}, err
	}

	if created {
		svc.broadcaster.Broadcast(rm.Code, core.EventVideoJoined, vs)
	}
	return vs, nil
}

func (svc *Service) notifyLeft(roomCode, userID, name string) {
	svc.broadcaster.Broadcast(roomCode, core.EventVideoLeft, map[string]string{"user_id": userID, "name": name})
}

// Leave removes usr from the video call of a room.
func (svc *Service) Leave(ctx context.Context, code string, usr user.User) error {
	rm, err := svc.roomOf(ctx, code, usr.ID)
	if err != nil {
		return err
	}
	n, err := svc.repo.EndVideoSessions(ctx, rm.ID, usr.ID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(err, "ending video session")
	}
	if n == 0 {
		return ErrNotInCall
	}
	svc.notifyLeft(rm.Code, usr.ID, usr.Name)
	return nil
}

// roomOf returns the room when userID is a member of it.
func (svc *Service) roomOf(ctx context.Context, code, userID string) (room.Room, error) {
	rm, _, err := svc.rooms.ActiveSession(ctx, code, userID)
	return rm, err
}

// Participants lists the active participants of a room's video call; only members may list them.
func (svc *Service) Participants(ctx context.Context, code, userID string) ([]VideoSession, error) {
	rm, err := svc.roomOf(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	return svc.repo.ListActiveVideoSessions(ctx, rm.ID)
}

// IssueToken returns a LiveKit access token for usr in a room they are a member of.
func (svc *Service) IssueToken(ctx context.Context, code string, usr user.User) (AccessToken, error) {
	if !svc.issuer.Enabled() {
		return AccessToken{}, ErrVideoUnavailable
	}
	rm, err := svc.roomOf(ctx, code, usr.ID)
	if err != nil {
		return AccessToken{}, err
	}
	name := usr.Name
	if name == "" {
		name = usr.Username
	}
	return svc.issuer.Issue(usr.ID, name, rm.Code)
}

// EndStale ends video sessions older than the token lifetime or left behind by users who left the room.
func (svc *Service) EndStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	stale, err := svc.repo.ListStaleVideoSessions(ctx, now.Add(-svc.maxCallAge))
	if err != nil {
		return 0, pkgerrors.Wrap(err, "listing stale video sessions")
	}
	var n int64
	for _, vs := range stale {
		ok, err := svc.repo.EndVideoSession(ctx, vs.ID, now)
		if err != nil {
			return n, pkgerrors.Wrap(err, "ending stale video session")
		}
		if ok {
			svc.notifyLeft(vs.RoomCode, vs.UserID, vs.Name)
			n++
		}
	}
	return n, nil
}

// SessionsEnded ends the video sessions of the room sessions that ended. Members are told once the sessions ended for good.
func (svc *Service) SessionsEnded(ctx context.Context, exec core.DBExecutor, rm room.Room, userID string, at time.Time) (func(), error) {
	active, err := svc.repo.ListActiveVideoSessions(ctx, rm.ID, exec)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listing room video sessions")
	}
	ended := make([]VideoSession, 0, len(active))
	for _, vs := range active {
		if userID == "" || vs.UserID == userID {
			ended = append(ended, vs)
		}
	}
	if len(ended) == 0 {
		return nil, nil
	}
	if _, err = svc.repo.EndVideoSessions(ctx, rm.ID, userID, at, exec); err != nil {
		return nil, pkgerrors.Wrap(err, "ending room video sessions")
	}
	return func() {
		for _, vs := range ended {
			svc.notifyLeft(rm.Code, vs.UserID, vs.Name)
		}
	}, nil
}
