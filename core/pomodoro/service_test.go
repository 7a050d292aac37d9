package pomodoro_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
	"github.com/SkTech0/VirtualClassroom-sub000/testutil"
)

type recorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *recorder) Broadcast(_, name string, payload interface{}) {
	if name != core.EventPomodoro {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, payload.(pomodoro.Event).Action)
}

func (r *recorder) Kick(string, string) {}

func (r *recorder) reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := r.actions
	r.actions = nil
	return actions
}

type pomodoroEnv struct {
	svc     *pomodoro.Service
	roomSvc *room.Service
	events  *recorder
	now     time.Time
	alice   user.User
	bob     user.User
	rm      room.Room
}

func (env *pomodoroEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func newPomodoroEnv(t *testing.T) *pomodoroEnv {
	t.Helper()
	ctx := context.Background()
	conf := core.NewTestConfig()
	db := testutil.OpenDB(t, conf)
	usrRepo := sqlxrepos.NewUserRepository(db)

	env := &pomodoroEnv{
		events: new(recorder),
		now:    time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
	env.roomSvc = room.NewService(db, sqlxrepos.NewRoomRepository(db), env.events, conf)
	env.svc = pomodoro.NewService(db, sqlxrepos.NewPomodoroRepository(db), env.roomSvc, env.events, conf)
	env.svc.SetNowFunc(func() time.Time { return env.now })
	env.roomSvc.AddSessionListener(env.svc)

	env.alice = testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", true)
	env.bob = testutil.CreateUser(t, usrRepo, "Bob", "bob", "bob@test.cd", "", true)
	rm, err := env.roomSvc.Create(ctx, env.alice.ID, room.NewRoom{Name: "Study"})
	require.NoError(t, err)
	env.rm = rm
	return env
}

func (env *pomodoroEnv) start(t *testing.T, usr user.User, kind string, minutes ...int) pomodoro.Pomodoro {
	t.Helper()
	sp := pomodoro.StartPomodoro{RoomCode: env.rm.Code, Kind: kind}
	if len(minutes) > 0 {
		sp.DurationMinutes = minutes[0]
	}
	p, err := env.svc.Start(context.Background(), usr.ID, sp)
	require.NoError(t, err)
	return p
}

func TestService_Start(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()

	p := env.start(t, env.alice, pomodoro.KindFocus)
	assert.Equal(t, pomodoro.StatusRunning, p.Status)
	assert.Equal(t, 25*60, p.DurationSeconds)
	assert.Equal(t, env.now, p.StartedAt)
	assert.Equal(t, env.now.Add(25*time.Minute), p.EndsAt)
	assert.Equal(t, env.rm.Code, p.RoomCode)
	assert.Equal(t, []string{"started"}, env.events.reset())

	_, err := env.svc.Start(ctx, env.alice.ID, pomodoro.StartPomodoro{RoomCode: env.rm.Code, Kind: pomodoro.KindShortBreak})
	assert.Equal(t, pomodoro.ErrAlreadyRunning, err)

	_, err = env.svc.Start(ctx, env.bob.ID, pomodoro.StartPomodoro{RoomCode: env.rm.Code, Kind: pomodoro.KindFocus})
	assert.Equal(t, room.ErrNotMember, err)

	// the running one expired: it is completed and a new one starts
	env.advance(25 * time.Minute)
	brk := env.start(t, env.alice, pomodoro.KindShortBreak)
	assert.Equal(t, 5*60, brk.DurationSeconds)
	assert.Equal(t, []string{pomodoro.StatusCompleted, "started"}, env.events.reset())

	history, err := env.svc.History(ctx, env.alice.ID, pomodoro.QueryFilter{Status: pomodoro.StatusCompleted}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, p.ID, history[0].ID)
	assert.Equal(t, p.EndsAt, history[0].EndedAt)

	_, err = env.roomSvc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)
	custom := env.start(t, env.bob, pomodoro.KindFocus, 50)
	assert.Equal(t, 50*60, custom.DurationSeconds)
}

func TestService_Current(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()

	_, err := env.svc.Current(ctx, env.alice.ID, env.rm.Code)
	assert.Equal(t, pomodoro.ErrNotFound, err)
	_, err = env.svc.Current(ctx, env.bob.ID, env.rm.Code)
	assert.Equal(t, room.ErrNotMember, err)

	p := env.start(t, env.alice, pomodoro.KindLongBreak)
	env.advance(10 * time.Minute)
	cur, err := env.svc.Current(ctx, env.alice.ID, env.rm.Code)
	require.NoError(t, err)
	assert.Equal(t, p.ID, cur.ID)
	assert.Equal(t, 5*time.Minute, cur.Remaining(env.now))

	env.advance(5 * time.Minute)
	_, err = env.svc.Current(ctx, env.alice.ID, env.rm.Code)
	assert.Equal(t, pomodoro.ErrNotFound, err)
	assert.Equal(t, []string{"started", pomodoro.StatusCompleted}, env.events.reset())
}

func TestService_CompleteCancel(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()

	p := env.start(t, env.alice, pomodoro.KindFocus)
	_, err := env.svc.Complete(ctx, env.bob.ID, p.ID)
	assert.Equal(t, pomodoro.ErrNotFound, err)
	_, err = env.svc.Cancel(ctx, env.alice.ID, "not-an-id")
	assert.Equal(t, pomodoro.ErrNotFound, err)

	env.advance(10 * time.Minute)
	cancelled, err := env.svc.Cancel(ctx, env.alice.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pomodoro.StatusCancelled, cancelled.Status)
	assert.Equal(t, env.now, cancelled.EndedAt)

	_, err = env.svc.Complete(ctx, env.alice.ID, p.ID)
	assert.Equal(t, pomodoro.ErrNotRunning, err)

	p2 := env.start(t, env.alice, pomodoro.KindFocus)
	env.advance(time.Minute)
	completed, err := env.svc.Complete(ctx, env.alice.ID, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, pomodoro.StatusCompleted, completed.Status)

	// cancelling past the end completes it at its end time
	p3 := env.start(t, env.alice, pomodoro.KindShortBreak)
	env.advance(time.Hour)
	late, err := env.svc.Cancel(ctx, env.alice.ID, p3.ID)
	require.NoError(t, err)
	assert.Equal(t, pomodoro.StatusCompleted, late.Status)
	assert.Equal(t, p3.EndsAt, late.EndedAt)

	stats, err := env.svc.Stats(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, pomodoro.Stats{Total: 3, Completed: 2, Cancelled: 1, FocusMinutes: 25, CompletedToday: 2}, stats)

	history, err := env.svc.History(ctx, env.alice.ID, pomodoro.QueryFilter{}, []core.DBOrdering{{Field: "started_at", Ascending: true}, {Field: "nope"}})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{p.ID, p2.ID, p3.ID}, []string{history[0].ID, history[1].ID, history[2].ID})

	history, err = env.svc.History(ctx, env.alice.ID, pomodoro.QueryFilter{Kind: pomodoro.KindShortBreak}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, p3.ID, history[0].ID)
}

func TestService_CompleteExpired(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()
	_, err := env.roomSvc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)

	env.start(t, env.alice, pomodoro.KindShortBreak)
	env.start(t, env.bob, pomodoro.KindFocus)
	env.events.reset()

	n, err := env.svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.advance(6 * time.Minute)
	n, err = env.svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env.advance(time.Hour)
	n, err = env.svc.CompleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{pomodoro.StatusCompleted, pomodoro.StatusCompleted}, env.events.reset())
}

func TestService_StartConcurrently(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Start(ctx, env.alice.ID, pomodoro.StartPomodoro{RoomCode: env.rm.Code, Kind: pomodoro.KindFocus})
		}(i)
	}
	wg.Wait()

	var started int
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.Equal(t, pomodoro.ErrAlreadyRunning, err)
	}
	assert.Equal(t, 1, started)

	stats, err := env.svc.Stats(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Total)
}

func TestService_SessionsEnded(t *testing.T) {
	env := newPomodoroEnv(t)
	ctx := context.Background()
	_, err := env.roomSvc.Join(ctx, env.rm.Code, env.bob)
	require.NoError(t, err)

	// leaving and closing a room happen at the wall clock time
	now := time.Now().UTC().Truncate(time.Second)
	env.now = now.Add(-10 * time.Minute)
	brk := env.start(t, env.alice, pomodoro.KindShortBreak)
	env.now = now
	focus := env.start(t, env.bob, pomodoro.KindFocus)
	env.events.reset()

	require.NoError(t, env.roomSvc.Leave(ctx, env.rm.Code, env.bob))
	assert.Equal(t, []string{pomodoro.StatusCancelled}, env.events.reset())
	_, err = env.svc.Complete(ctx, env.bob.ID, focus.ID)
	assert.Equal(t, pomodoro.ErrNotRunning, err)

	history, err := env.svc.History(ctx, env.bob.ID, pomodoro.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pomodoro.StatusCancelled, history[0].Status)
	assert.True(t, history[0].EndedAt.Before(focus.EndsAt))

	// alice's break is left alone until the room closes
	history, err = env.svc.History(ctx, env.alice.ID, pomodoro.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pomodoro.StatusRunning, history[0].Status)

	require.NoError(t, env.roomSvc.Close(ctx, env.rm.Code, env.alice.ID))
	assert.Equal(t, []string{pomodoro.StatusCompleted}, env.events.reset())

	history, err = env.svc.History(ctx, env.alice.ID, pomodoro.QueryFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pomodoro.StatusCompleted, history[0].Status)
	assert.Equal(t, brk.EndsAt, history[0].EndedAt)

	stats, err := env.svc.Stats(ctx, env.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Running)
}
