package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
)

var (
	roomColumns = []string{
		"r.id", "r.code", "r.name", "r.description", "r.owner_id", "r.max_participants", "r.is_active",
		"r.created_at", "r.updated_at", "r.closed_at",
		"(SELECT COUNT(*) FROM room_sessions s WHERE s.room_id = r.id AND s.left_at IS NULL) AS active_members",
	}
	sessionColumns = []string{"id", "room_id", "user_id", "joined_at", "left_at"}
)

type roomRow struct {
	ID              string    `db:"id"`
	Code            string    `db:"code"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	OwnerID         string    `db:"owner_id"`
	MaxParticipants int       `db:"max_participants"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	ClosedAt        null.Time `db:"closed_at"`
	ActiveMembers   int       `db:"active_members"`
}

type sessionRow struct {
	ID       string    `db:"id"`
	RoomID   string    `db:"room_id"`
	UserID   string    `db:"user_id"`
	JoinedAt time.Time `db:"joined_at"`
	LeftAt   null.Time `db:"left_at"`
}

type memberRow struct {
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Username  string    `db:"username"`
	IsOwner   bool      `db:"is_owner"`
	JoinedAt  time.Time `db:"joined_at"`
}

type roomRepository struct {
	repository
}

var _ room.Repository = (*roomRepository)(nil) // interface compliance check

func NewRoomRepository(db core.DB) *roomRepository {
	return &roomRepository{repository{exec: db}}
}

func (repo roomRepository) unboil(row roomRow) room.Room {
	return room.Room{
		ID:              row.ID,
		Code:            row.Code,
		Name:            row.Name,
		Description:     row.Description,
		OwnerID:         row.OwnerID,
		MaxParticipants: row.MaxParticipants,
		IsActive:        row.IsActive,
		ActiveMembers:   row.ActiveMembers,
		CreatedAt:       utc(row.CreatedAt),
		UpdatedAt:       utc(row.UpdatedAt),
		ClosedAt:        utc(row.ClosedAt.Time),
	}
}

func (repo roomRepository) unboilSession(row sessionRow) room.Session {
	return room.Session{
		ID:       row.ID,
		RoomID:   row.RoomID,
		UserID:   row.UserID,
		JoinedAt: utc(row.JoinedAt),
		LeftAt:   utc(row.LeftAt.Time),
	}
}

func (repo roomRepository) CreateRoom(ctx context.Context, rm room.Room, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	b := builder(ex).Insert("rooms").
		Columns("id", "code", "name", "description", "owner_id", "max_participants", "is_active", "created_at", "updated_at", "closed_at").
		Values(rm.ID, rm.Code, rm.Name, rm.Description, rm.OwnerID, rm.MaxParticipants, rm.IsActive,
			rm.CreatedAt.UTC(), rm.UpdatedAt.UTC(), nullTime(rm.ClosedAt))
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "inserting room")
}

func (repo roomRepository) CodeExists(ctx context.Context, code string, exec ...core.DBExecutor) (bool, error) {
	ex := repo.getExec(exec)
	var count int
	if err := get(ctx, ex, &count, builder(ex).Select("COUNT(*)").From("rooms").Where(sq.Eq{"code": code})); err != nil {
		return false, errors.Wrap(err, "counting rooms by code")
	}
	return count > 0, nil
}

func (repo roomRepository) GetRoomByCode(ctx context.Context, code string, forUpdate bool, exec ...core.DBExecutor) (room.Room, error) {
	ex := repo.getExec(exec)
	if forUpdate {
		if err := lockRow(ctx, ex, "rooms", "code", code); err != nil {
			return room.Room{}, trapNoRowsErr(err, room.ErrNotFound, "locking room")
		}
	}
	var row roomRow
	b := builder(ex).Select(roomColumns...).From("rooms r").Where(sq.Eq{"r.code": code})
	if err := get(ctx, ex, &row, b); err != nil {
		return room.Room{}, trapNoRowsErr(err, room.ErrNotFound, "selecting room")
	}
	return repo.unboil(row), nil
}

func (repo roomRepository) ListUserRooms(ctx context.Context, userID string, exec ...core.DBExecutor) ([]room.Room, error) {
	ex := repo.getExec(exec)
	b := builder(ex).Select(roomColumns...).From("rooms r").
		Where(sq.Eq{"r.is_active": true}).
		Where(sq.Or{
			sq.Eq{"r.owner_id": userID},
			sq.Expr("EXISTS (SELECT 1 FROM room_sessions m WHERE m.room_id = r.id AND m.user_id = ? AND m.left_at IS NULL)", userID),
		}).
		OrderBy("r.created_at DESC")

	var rows []roomRow
	if err := selectAll(ctx, ex, &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting user rooms")
	}
	rooms := make([]room.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, repo.unboil(row))
	}
	return rooms, nil
}

func (repo roomRepository) CloseRoom(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	b := builder(ex).Update("rooms").SetMap(map[string]interface{}{
		"is_active":  false,
		"closed_at":  at.UTC(),
		"updated_at": at.UTC(),
	}).Where(sq.Eq{"id": id})
	n, err := execute(ctx, ex, b)
	if err != nil {
		return errors.Wrap(err, "closing room")
	}
	if n == 0 {
		return room.ErrNotFound
	}
	return nil
}

func (repo roomRepository) GetActiveSession(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (room.Session, error) {
	ex := repo.getExec(exec)
	var row sessionRow
	b := builder(ex).Select(sessionColumns...).From("room_sessions").
		Where(sq.Eq{"room_id": roomID, "user_id": userID, "left_at": nil}).
		OrderBy("joined_at DESC").
		Limit(1)
	if err := get(ctx, ex, &row, b); err != nil {
		return room.Session{}, trapNoRowsErr(err, room.ErrSessionNotFound, "selecting active session")
	}
	return repo.unboilSession(row), nil
}

func (repo roomRepository) LockSession(ctx context.Context, id string, exec ...core.DBExecutor) (room.Session, error) {
	ex := repo.getExec(exec)
	if err := lockRow(ctx, ex, "room_sessions", "id", id); err != nil {
		return room.Session{}, trapNoRowsErr(err, room.ErrSessionNotFound, "locking session")
	}
	var row sessionRow
	b := builder(ex).Select(sessionColumns...).From("room_sessions").Where(sq.Eq{"id": id})
	if err := get(ctx, ex, &row, b); err != nil {
		return room.Session{}, trapNoRowsErr(err, room.ErrSessionNotFound, "selecting session")
	}
	return repo.unboilSession(row), nil
}

func (repo roomRepository) CreateSession(ctx context.Context, s room.Session, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	b := builder(ex).Insert("room_sessions").Columns(sessionColumns...).
		Values(s.ID, s.RoomID, s.UserID, s.JoinedAt.UTC(), nullTime(s.LeftAt))
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "inserting session")
}

func (repo roomRepository) EndSessions(ctx context.Context, roomID, userID string, at time.Time, exec ...core.DBExecutor) (int64, error) {
	ex := repo.getExec(exec)
	where := sq.Eq{"room_id": roomID, "left_at": nil}
	if userID != "" {
		where["user_id"] = userID
	}
	n, err := execute(ctx, ex, builder(ex).Update("room_sessions").Set("left_at", at.UTC()).Where(where))
	return n, errors.Wrap(err, "ending sessions")
}

func (repo roomRepository) ListMembers(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]room.Member, error) {
	ex := repo.getExec(exec)
	b := builder(ex).Select(
		"s.id AS session_id", "s.user_id", "u.name", "u.username", "s.joined_at",
		"CASE WHEN r.owner_id = s.user_id THEN 1 ELSE 0 END AS is_owner",
	).
		From("room_sessions s").
		Join("users u ON u.id = s.user_id").
		Join("rooms r ON r.id = s.room_id").
		Where(sq.Eq{"s.room_id": roomID, "s.left_at": nil}).
		OrderBy("s.joined_at ASC")

	var rows []memberRow
	if err := selectAll(ctx, ex, &rows, b); err != nil {
		return nil, errors.Wrap(err, "selecting members")
	}
	members := make([]room.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, room.Member{
			SessionID: row.SessionID,
			UserID:    row.UserID,
			Name:      row.Name,
			Username:  row.Username,
			IsOwner:   row.IsOwner,
			JoinedAt:  utc(row.JoinedAt),
		})
	}
	return members, nil
}
