package video_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
	"github.com/SkTech0/VirtualClassroom-sub000/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Broadcast(roomCode, name string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case core.EventVideoJoined:
		r.events = append(r.events, name+":"+payload.(video.VideoSession).UserID)
	case core.EventVideoLeft:
		r.events = append(r.events, name+":"+payload.(map[string]string)["user_id"])
	}
}

func (r *recorder) Kick(string, string) {}

func (r *recorder) reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

type videoEnv struct {
	svc     *video.Service
	roomSvc *room.Service
	events  *recorder
	alice   user.User
	bob     user.User
	rm      room.Room
}

func newVideoEnv(t *testing.T, configure ...func(conf *core.Config)) *videoEnv {
	t.Helper()
	conf := core.NewTestConfig()
	for _, fn := range configure {
		fn(conf)
	}
	db := testutil.OpenDB(t, conf)
	usrRepo := sqlxrepos.NewUserRepository(db)

	env := &videoEnv{events: new(recorder)}
	env.roomSvc = room.NewService(db, sqlxrepos.NewRoomRepository(db), env.events, conf)
	env.svc = video.NewService(db, sqlxrepos.NewVideoRepository(db), env.roomSvc, video.NewTokenIssuer(conf), env.events, conf)
	env.roomSvc.AddSessionListener(env.svc)

	env.alice = testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", true)
	env.bob = testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.cd", "", true)
	rm, err := env.roomSvc.Create(context.Background(), env.alice.ID, room.NewRoom{Name: "Study"})
	require.NoError(t, err)
	env.rm = rm
	return env
}

func TestService_Call(t *testing.T) {
	env := newVideoEnv(t)
	ctx := context.Background()

	_, err := env.svc.Join(ctx, env.rm.Code, env.bob)
	assert.Equal(t, room.ErrNotMember, err)
	_, err = env.svc.Participants(ctx, env.rm.Code, env.bob.ID)
	assert.Equal(t, room.ErrNotMember, err)

	vs, err := env.svc.Join(ctx, env.rm.Code, env.alice)
	require.NoError(t, err)
	assert.Equal(t, env.alice.ID, vs.UserID)
	assert.Equal(t, env.rm.Code, vs.RoomCode)
	again, err := env.svc.Join(ctx, env.rm.Code, env.alice)
	require.NoError(t, err)
	assert.Equal(t, vs.ID, again.ID)
	assert.Equal(t, []string{"video_joined:" + env.alice.ID}, env.events.reset())

	_, err = env.roomSvc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)
	assert.Equal(t, video.ErrNotInCall, env.svc.Leave(ctx, env.rm.Code, env.bob))
	_, err = env.svc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)

	participants, err := env.svc.Participants(ctx, env.rm.Code, env.bob.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	require.NoError(t, env.svc.Leave(ctx, env.rm.Code, env.alice))
	participants, err = env.svc.Participants(ctx, env.rm.Code, env.bob.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, env.bob.ID, participants[0].UserID)

	// leaving the room leaves the call
	env.events.reset()
	require.NoError(t, env.roomSvc.Leave(ctx, env.rm.Code, env.bob))
	assert.Equal(t, []string{"video_left:" + env.bob.ID}, env.events.reset())
	participants, err = env.svc.Participants(ctx, env.rm.Code, env.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	n, err := env.svc.EndStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_CloseEndsCall(t *testing.T) {
	env := newVideoEnv(t)
	ctx := context.Background()
	_, err := env.roomSvc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)
	for _, usr := range []user.User{env.alice, env.bob} {
		_, err = env.svc.Join(ctx, env.rm.Code, usr)
		require.NoError(t, err)
	}
	env.events.reset()

	require.NoError(t, env.roomSvc.Close(ctx, env.rm.Code, env.alice.ID))
	assert.ElementsMatch(t, []string{"video_left:" + env.alice.ID, "video_left:" + env.bob.ID}, env.events.reset())
}

func TestService_EndStale(t *testing.T) {
	// calls last no longer than a token
	env := newVideoEnv(t, func(conf *core.Config) { conf.LiveKit.TokenTTL = time.Millisecond })
	ctx := context.Background()
	_, err := env.svc.Join(ctx, env.rm.Code, env.alice)
	require.NoError(t, err)
	env.events.reset()

	time.Sleep(5 * time.Millisecond)
	n, err := env.svc.EndStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"video_left:" + env.alice.ID}, env.events.reset())

	n, err = env.svc.EndStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Empty(t, env.events.reset())
}

func TestService_JoinConcurrently(t *testing.T) {
	env := newVideoEnv(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vs, err := env.svc.Join(ctx, env.rm.Code, env.alice)
			assert.NoError(t, err)
			ids[i] = vs.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	participants, err := env.svc.Participants(ctx, env.rm.Code, env.alice.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)
	assert.Len(t, env.events.reset(), 1, "one video_joined")
}

func TestService_IssueToken(t *testing.T) {
	env := newVideoEnv(t)
	ctx := context.Background()

	tok, err := env.svc.IssueToken(ctx, env.rm.Code, env.alice)
	require.NoError(t, err)
	assert.Equal(t, env.rm.Code, tok.Room)
	assert.Equal(t, env.alice.ID, tok.Identity)
	assert.NotEmpty(t, tok.Token)

	_, err = env.svc.IssueToken(ctx, env.rm.Code, env.bob)
	assert.Equal(t, room.ErrNotMember, err)

	disabled := newVideoEnv(t, func(conf *core.Config) { conf.LiveKit.APIKey = "" })
	_, err = disabled.svc.IssueToken(ctx, disabled.rm.Code, disabled.alice)
	assert.Equal(t, video.ErrVideoUnavailable, err)
}
