package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
)

type videoSessionRow struct {
	ID       string    `db:"id"`
	RoomID   string    `db:"room_id"`
	RoomCode string    `db:"room_code"`
	UserID   string    `db:"user_id"`
	Name     string    `db:"name"`
	Username string    `db:"username"`
	JoinedAt time.Time `db:"joined_at"`
	LeftAt   null.Time `db:"left_at"`
}

type videoRepository struct {
	repository
}

var _ video.Repository = (*videoRepository)(nil) // interface compliance check

func NewVideoRepository(db core.DB) *videoRepository {
	return &videoRepository{repository{exec: db}}
}

func (repo videoRepository) unboil(row videoSessionRow) video.VideoSession {
	return video.VideoSession{
		ID:       row.ID,
		RoomID:   row.RoomID,
		RoomCode: row.RoomCode,
		UserID:   row.UserID,
		Name:     row.Name,
		Username: row.Username,
		JoinedAt: utc(row.JoinedAt),
		LeftAt:   utc(row.LeftAt.Time),
	}
}

func (repo videoRepository) selectSessions(ex core.DBExecutor) sq.SelectBuilder {
	return builder(ex).
		Select("v.id", "v.room_id", "r.code AS room_code", "v.user_id", "u.name", "u.username", "v.joined_at", "v.left_at").
		From("video_sessions v").
		Join("rooms r ON r.id = v.room_id").
		Join("users u ON u.id = v.user_id")
}

func (repo videoRepository) GetActiveVideoSession(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (video.VideoSession, error) {
	ex := repo.getExec(exec)
	var row videoSessionRow
	b := repo.selectSessions(ex).Where(sq.Eq{"v.room_id": roomID, "v.user_id": userID, "v.left_at": nil}).Limit(1)
	if err := get(ctx, ex, &row, b); err != nil {
		return video.VideoSession{}, trapNoRowsErr(err, video.ErrNotFound, "selecting video session")
	}
	return repo.unboil(row), nil
}

func (repo videoRepository) CreateVideoSession(ctx context.Context, vs video.VideoSession, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	b := builder(ex).Insert("video_sessions").
		Columns("id", "room_id", "user_id", "joined_at", "left_at").
		Values(vs.ID, vs.RoomID, vs.UserID, vs.JoinedAt.UTC(), nullTime(vs.LeftAt))
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "inserting video session")
}

func (repo videoRepository) EndVideoSessions(ctx context.Context, roomID, userID string, at time.Time, exec ...core.DBExecutor) (int64, error) {
	ex := repo.getExec(exec)
	where := sq.Eq{"room_id": roomID, "left_at": nil}
	if userID != "" {
		where["user_id"] = userID
	}
	n, err := execute(ctx, ex, builder(ex).Update("video_sessions").Set("left_at", at.UTC()).Where(where))
	return n, errors.Wrap(err, "ending video sessions")
}

func (repo videoRepository) EndVideoSession(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	b := builder(ex).Update("video_sessions").Set("left_at", at.UTC()).Where(sq.Eq{"id": id, "left_at": nil})
	n, err := execute(ctx, ex, b)
	if err != nil {
		return false, errors.Wrap(err, "ending video session")
	}
	return n > 0, nil
}

func (repo videoRepository) listSessions(ctx context.Context, ex core.DBExecutor, b sq.SelectBuilder) ([]video.VideoSession, error) {
	var rows []videoSessionRow
	if err := selectAll(ctx, ex, &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting video sessions")
	}
	sessions := make([]video.VideoSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, repo.unboil(row))
	}
	return sessions, nil
}

func (repo videoRepository) ListActiveVideoSessions(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]video.VideoSession, error) {
	ex := repo.getExec(exec)
	b := repo.selectSessions(ex).Where(sq.Eq{"v.room_id": roomID, "v.left_at": nil}).OrderBy("v.joined_at ASC")
	return repo.listSessions(ctx, ex, b)
}

func (repo videoRepository) ListStaleVideoSessions(ctx context.Context, joinedBefore time.Time, exec ...core.DBExecutor) ([]video.VideoSession, error) {
	ex := repo.getExec(exec)
	b := repo.selectSessions(ex).
		Where(sq.Eq{"v.left_at": nil}).
		Where(sq.Or{
			sq.Lt{"v.joined_at": joinedBefore.UTC()},
			sq.Expr("NOT EXISTS (SELECT 1 FROM room_sessions s WHERE s.room_id = v.room_id AND s.user_id = v.user_id AND s.left_at IS NULL)"),
		}).
		OrderBy("v.joined_at ASC")
	return repo.listSessions(ctx, ex, b)
}
