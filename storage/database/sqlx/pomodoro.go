package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
)

const maxPomodoroResults = 500

var pomodoroColumns = []string{
	"p.id", "p.session_id", "p.room_id", "r.code AS room_code", "p.user_id", "p.kind", "p.status",
	"p.duration_seconds", "p.started_at", "p.ends_at", "p.ended_at",
}

type pomodoroRow struct {
	ID              string    `db:"id"`
	SessionID       string    `db:"session_id"`
	RoomID          string    `db:"room_id"`
	RoomCode        string    `db:"room_code"`
	UserID          string    `db:"user_id"`
	Kind            string    `db:"kind"`
	Status          string    `db:"status"`
	DurationSeconds int       `db:"duration_seconds"`
	StartedAt       time.Time `db:"started_at"`
	EndsAt          time.Time `db:"ends_at"`
	EndedAt         null.Time `db:"ended_at"`
}

type pomodoroStatsRow struct {
	Total          int64 `db:"total"`
	Completed      int64 `db:"completed"`
	Cancelled      int64 `db:"cancelled"`
	Running        int64 `db:"running"`
	FocusSeconds   int64 `db:"focus_seconds"`
	CompletedToday int64 `db:"completed_today"`
}

type pomodoroRepository struct {
	repository
}

var _ pomodoro.Repository = (*pomodoroRepository)(nil) // interface compliance check

func NewPomodoroRepository(db core.DB) *pomodoroRepository {
	return &pomodoroRepository{repository{exec: db}}
}

func (repo pomodoroRepository) unboil(row pomodoroRow) pomodoro.Pomodoro {
	return pomodoro.Pomodoro{
		ID:              row.ID,
		SessionID:       row.SessionID,
		RoomID:          row.RoomID,
		RoomCode:        row.RoomCode,
		UserID:          row.UserID,
		Kind:            row.Kind,
		Status:          row.Status,
		DurationSeconds: row.DurationSeconds,
		StartedAt:       utc(row.StartedAt),
		EndsAt:          utc(row.EndsAt),
		EndedAt:         utc(row.EndedAt.Time),
	}
}

func (repo pomodoroRepository) selectPomodoros(ex core.DBExecutor) sq.SelectBuilder {
	return builder(ex).Select(pomodoroColumns...).From("pomodoros p").Join("rooms r ON r.id = p.room_id")
}

func (repo pomodoroRepository) getPomodoro(ctx context.Context, ex core.DBExecutor, where sq.Sqlizer) (pomodoro.Pomodoro, error) {
	var row pomodoroRow
	b := repo.selectPomodoros(ex).Where(where).OrderBy("p.started_at DESC").Limit(1)
	if err := get(ctx, ex, &row, b); err != nil {
		return pomodoro.Pomodoro{}, trapNoRowsErr(err, pomodoro.ErrNotFound, "selecting pomodoro")
	}
	return repo.unboil(row), nil
}

func (repo pomodoroRepository) listPomodoros(ctx context.Context, ex core.DBExecutor, b sq.SelectBuilder) ([]pomodoro.Pomodoro, error) {
	var rows []pomodoroRow
	if err := selectAll(ctx, ex, &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting pomodoros")
	}
	pomodoros := make([]pomodoro.Pomodoro, 0, len(rows))
	for _, row := range rows {
		pomodoros = append(pomodoros, repo.unboil(row))
	}
	return pomodoros, nil
}

func (repo pomodoroRepository) CreatePomodoro(ctx context.Context, p pomodoro.Pomodoro, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	b := builder(ex).Insert("pomodoros").
		Columns("id", "session_id", "room_id", "user_id", "kind", "status", "duration_seconds", "started_at", "ends_at", "ended_at").
		Values(p.ID, p.SessionID, p.RoomID, p.UserID, p.Kind, p.Status, p.DurationSeconds,
			p.StartedAt.UTC(), p.EndsAt.UTC(), nullTime(p.EndedAt))
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "inserting pomodoro")
}

func (repo pomodoroRepository) GetPomodoro(ctx context.Context, id string, exec ...core.DBExecutor) (pomodoro.Pomodoro, error) {
	return repo.getPomodoro(ctx, repo.getExec(exec), sq.Eq{"p.id": id})
}

func (repo pomodoroRepository) GetRunningPomodoro(ctx context.Context, sessionID string, exec ...core.DBExecutor) (pomodoro.Pomodoro, error) {
	return repo.getPomodoro(ctx, repo.getExec(exec), sq.Eq{"p.session_id": sessionID, "p.status": pomodoro.StatusRunning})
}

func (repo pomodoroRepository) FinishPomodoro(ctx context.Context, id, status string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	b := builder(ex).Update("pomodoros").
		Set("status", status).
		Set("ended_at", at.UTC()).
		Where(sq.Eq{"id": id, "status": pomodoro.StatusRunning})
	n, err := execute(ctx, ex, b)
	if err != nil {
		return false, errors.Wrap(err, "finishing pomodoro")
	}
	return n > 0, nil
}

func (repo pomodoroRepository) ListRunningRoomPomodoros(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) ([]pomodoro.Pomodoro, error) {
	ex := repo.getExec(exec)
	where := sq.Eq{"p.room_id": roomID, "p.status": pomodoro.StatusRunning}
	if userID != "" {
		where["p.user_id"] = userID
	}
	return repo.listPomodoros(ctx, ex, repo.selectPomodoros(ex).Where(where).OrderBy("p.started_at ASC"))
}

func (repo pomodoroRepository) ListExpiredPomodoros(ctx context.Context, now time.Time, limit uint64, exec ...core.DBExecutor) ([]pomodoro.Pomodoro, error) {
	ex := repo.getExec(exec)
	b := repo.selectPomodoros(ex).
		Where(sq.Eq{"p.status": pomodoro.StatusRunning}).
		Where(sq.LtOrEq{"p.ends_at": now.UTC()}).
		OrderBy("p.ends_at ASC").
		Limit(limit)
	return repo.listPomodoros(ctx, ex, b)
}

func (repo pomodoroRepository) QueryPomodoros(ctx context.Context, userID string, filter pomodoro.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]pomodoro.Pomodoro, error) {
	ex := repo.getExec(exec)
	where := sq.Eq{"p.user_id": userID}
	if filter.RoomCode != "" {
		where["r.code"] = filter.RoomCode
	}
	if filter.Status != "" {
		where["p.status"] = filter.Status
	}
	if filter.Kind != "" {
		where["p.kind"] = filter.Kind
	}

	b := repo.selectPomodoros(ex).Where(where).Limit(maxPomodoroResults)
	for _, ord := range ordering {
		b = b.OrderBy(ord.String())
	}
	return repo.listPomodoros(ctx, ex, b)
}

func (repo pomodoroRepository) PomodoroStats(ctx context.Context, userID string, since time.Time, exec ...core.DBExecutor) (pomodoro.Stats, error) {
	ex := repo.getExec(exec)
	b := builder(ex).Select(
		"COUNT(*) AS total",
		"COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed",
		"COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled",
		"COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0) AS running",
		"COALESCE(SUM(CASE WHEN status = 'completed' AND kind = 'focus' THEN duration_seconds ELSE 0 END), 0) AS focus_seconds",
	).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN status = 'completed' AND ended_at >= ? THEN 1 ELSE 0 END), 0) AS completed_today", since.UTC())).
		From("pomodoros").
		Where(sq.Eq{"user_id": userID})

	var row pomodoroStatsRow
	if err := get(ctx, ex, &row, b); err != nil {
		return pomodoro.Stats{}, errors.Wrap(err, "aggregating pomodoros")
	}
	return pomodoro.Stats{
		Total:          int(row.Total),
		Completed:      int(row.Completed),
		Cancelled:      int(row.Cancelled),
		Running:        int(row.Running),
		FocusMinutes:   int(row.FocusSeconds / 60),
		CompletedToday: int(row.CompletedToday),
	}, nil
}
