package room_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
	"github.com/SkTech0/VirtualClassroom-sub000/testutil"
)

type event struct {
	room, name string
}

type recorder struct {
	mu     sync.Mutex
	events []event
	kicked []string
}

func (r *recorder) Broadcast(roomCode, name string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{roomCode, name})
}

func (r *recorder) Kick(roomCode, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked = append(r.kicked, roomCode+"/"+userID)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.name)
	}
	return names
}

type endedCall struct {
	roomID, userID string
}

type listener struct {
	calls     []endedCall
	committed []endedCall
	fail      error
}

func (l *listener) SessionsEnded(_ context.Context, _ core.DBExecutor, rm room.Room, userID string, _ time.Time) (func(), error) {
	call := endedCall{rm.ID, userID}
	l.calls = append(l.calls, call)
	if l.fail != nil {
		return nil, l.fail
	}
	return func() { l.committed = append(l.committed, call) }, nil
}

type roomEnv struct {
	db       core.DB
	svc      *room.Service
	events   *recorder
	listener *listener
	owner    user.User
	alice    user.User
	bob      user.User
}

func newRoomEnv(t *testing.T) *roomEnv {
	t.Helper()
	conf := core.NewTestConfig()
	db := testutil.OpenDB(t, conf)
	usrRepo := sqlxrepos.NewUserRepository(db)
	env := &roomEnv{db: db, events: new(recorder), listener: new(listener)}
	env.svc = room.NewService(db, sqlxrepos.NewRoomRepository(db), env.events, conf)
	env.svc.AddSessionListener(env.listener)
	env.owner = testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@test.cd", "", true)
	env.alice = testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", true)
	env.bob = testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.cd", "", true)
	return env
}

func TestService_Create(t *testing.T) {
	env := newRoomEnv(t)
	ctx := context.Background()

	rm, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Maths"})
	require.NoError(t, err)
	assert.Len(t, rm.Code, 6)
	assert.True(t, room.ValidCode(rm.Code))
	assert.Equal(t, 25, rm.MaxParticipants)
	assert.True(t, rm.IsActive)

	got, err := env.svc.GetByCode(ctx, " "+rm.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, rm.ID, got.ID)
	assert.Equal(t, 1, got.ActiveMembers)

	isMember, err := env.svc.IsMember(ctx, rm.Code, env.owner.ID)
	require.NoError(t, err)
	assert.True(t, isMember)

	rm2, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Physics", MaxParticipants: 4})
	require.NoError(t, err)
	assert.NotEqual(t, rm.Code, rm2.Code)
	assert.Equal(t, 4, rm2.MaxParticipants)

	rooms, err := env.svc.ListForUser(ctx, env.owner.ID)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	_, err = env.svc.GetByCode(ctx, "lol!")
	assert.Equal(t, room.ErrNotFound, err)
	_, err = env.svc.GetByCode(ctx, "ZZZZZZ")
	assert.Equal(t, room.ErrNotFound, err)
}

func TestService_JoinLeave(t *testing.T) {
	env := newRoomEnv(t)
	ctx := context.Background()
	rm, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Maths", MaxParticipants: 2})
	require.NoError(t, err)
	code := rm.Code

	sess, err := env.svc.Join(ctx, code, env.alice)
	require.NoError(t, err)
	again, err := env.svc.Join(ctx, code, env.alice)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, []string{core.EventUserJoined}, env.events.names())

	_, err = env.svc.Join(ctx, code, env.bob)
	assert.Equal(t, room.ErrRoomFull, err)

	members, err := env.svc.Members(ctx, code, env.alice.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	_, err = env.svc.Members(ctx, code, env.bob.ID)
	assert.Equal(t, room.ErrNotMember, err)

	require.NoError(t, env.svc.Leave(ctx, code, env.alice))
	assert.Equal(t, []endedCall{{rm.ID, env.alice.ID}}, env.listener.calls)
	assert.Equal(t, env.listener.calls, env.listener.committed)
	assert.Equal(t, []string{code + "/" + env.alice.ID}, env.events.kicked)
	assert.Equal(t, []string{core.EventUserJoined, core.EventUserLeft}, env.events.names())
	assert.Equal(t, room.ErrNotMember, env.svc.Leave(ctx, code, env.alice))
	assert.Len(t, env.events.kicked, 1)

	_, err = env.svc.Join(ctx, code, env.bob)
	require.NoError(t, err)

	isMember, err := env.svc.IsMember(ctx, code, env.alice.ID)
	require.NoError(t, err)
	assert.False(t, isMember)

	// rejoining after leaving opens a new session
	_, err = env.svc.Join(ctx, code, env.alice)
	assert.Equal(t, room.ErrRoomFull, err)
	require.NoError(t, env.svc.Leave(ctx, code, env.bob))
	sess2, err := env.svc.Join(ctx, code, env.alice)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, sess2.ID)
}

func TestService_LeaveRollsBack(t *testing.T) {
	env := newRoomEnv(t)
	ctx := context.Background()
	rm, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Maths"})
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, rm.Code, env.alice)
	require.NoError(t, err)

	env.listener.fail = errors.New("listener failed")
	assert.EqualError(t, env.svc.Leave(ctx, rm.Code, env.alice), "listener failed")
	assert.Empty(t, env.listener.committed)
	assert.Empty(t, env.events.kicked)

	isMember, err := env.svc.IsMember(ctx, rm.Code, env.alice.ID)
	require.NoError(t, err)
	assert.True(t, isMember, "the session is still active")
}

func TestService_LockActiveSession(t *testing.T) {
	env := newRoomEnv(t)
	ctx := context.Background()
	rm, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Maths"})
	require.NoError(t, err)
	sess, err := env.svc.Join(ctx, rm.Code, env.alice)
	require.NoError(t, err)

	lock := func(id string) error {
		return core.InTx(ctx, env.db, func(tx core.DBExecutor) error {
			return env.svc.LockActiveSession(ctx, tx, id)
		})
	}
	require.NoError(t, lock(sess.ID))
	assert.Equal(t, room.ErrNotMember, lock(uuid.NewString()))

	require.NoError(t, env.svc.Leave(ctx, rm.Code, env.alice))
	assert.Equal(t, room.ErrNotMember, lock(sess.ID))
}

func TestService_Close(t *testing.T) {
	env := newRoomEnv(t)
	ctx := context.Background()
	rm, err := env.svc.Create(ctx, env.owner.ID, room.NewRoom{Name: "Maths"})
	require.NoError(t, err)
	_, err = env.svc.Join(ctx, rm.Code, env.alice)
	require.NoError(t, err)

	assert.Equal(t, room.ErrNotOwner, env.svc.Close(ctx, rm.Code, env.alice.ID))
	require.NoError(t, env.svc.Close(ctx, rm.Code, env.owner.ID))
	assert.Equal(t, []endedCall{{rm.ID, ""}}, env.listener.calls)
	assert.Equal(t, env.listener.calls, env.listener.committed)
	assert.Contains(t, env.events.names(), core.EventRoomClosed)

	got, err := env.svc.GetByCode(ctx, rm.Code)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 0, got.ActiveMembers)

	assert.Equal(t, room.ErrRoomClosed, env.svc.Close(ctx, rm.Code, env.owner.ID))
	_, err = env.svc.Join(ctx, rm.Code, env.bob)
	assert.Equal(t, room.ErrRoomClosed, err)

	rooms, err := env.svc.ListForUser(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestCodes(t *testing.T) {
	assert.Equal(t, "ABC234", room.NormalizeCode("  abc234 "))
	assert.True(t, room.ValidCode("ABC234"))
	assert.False(t, room.ValidCode(""))
	assert.False(t, room.ValidCode("ABC10O"))
	assert.False(t, room.ValidCode("abc234"))
}
