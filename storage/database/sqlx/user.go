package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

var userColumns = []string{
	"id", "name", "username", "email", "password_hash", "is_active", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastLogin    null.Time `db:"last_login"`
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{repository{exec: db}}
}

func (repo userRepository) unboil(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username,
		Email:        row.Email,
		IsActive:     row.IsActive,
		PasswordHash: []byte(row.PasswordHash),
		CreatedAt:    utc(row.CreatedAt),
		UpdatedAt:    utc(row.UpdatedAt),
		LastLogin:    utc(row.LastLogin.Time),
	}
}

func (repo userRepository) getUser(ctx context.Context, where sq.Sqlizer, exec []core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	var row userRow
	b := builder(ex).Select(userColumns...).From("users").Where(where).Limit(1)
	if err := get(ctx, ex, &row, b); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "selecting user")
	}
	return repo.unboil(row), nil
}

func (repo userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedIDs ...string) error {
	ex := repo.getExec(nil)
	where := sq.And{sq.Or{sq.Eq{"username": username}, sq.Eq{"email": email}}}
	if len(excludedIDs) > 0 {
		where = append(where, sq.NotEq{"id": excludedIDs})
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err := selectAll(ctx, ex, &rows, builder(ex).Select("username", "email").From("users").Where(where)); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if r.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ex := repo.getExec(nil)
	b := builder(ex).Insert("users").Columns(userColumns...).Values(
		usr.ID, usr.Name, usr.Username, usr.Email, string(usr.PasswordHash), usr.IsActive,
		usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), nullTime(usr.LastLogin),
	)
	if _, err := execute(ctx, ex, b); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getUser(ctx, sq.Eq{"id": id}, nil)
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, sq.Eq{"email": email}, nil)
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, login string) (user.User, error) {
	return repo.getUser(ctx, sq.Or{sq.Eq{"username": login}, sq.Eq{"email": login}}, nil)
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	ex := repo.getExec(nil)
	b := builder(ex).Update("users").SetMap(map[string]interface{}{
		"name":          usr.Name,
		"username":      usr.Username,
		"email":         usr.Email,
		"password_hash": string(usr.PasswordHash),
		"is_active":     usr.IsActive,
		"updated_at":    usr.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": usr.ID})
	n, err := execute(ctx, ex, b)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	ex := repo.getExec(nil)
	_, err := execute(ctx, ex, builder(ex).Update("users").Set("last_login", at.UTC()).Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "setting last login")
}
