package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
)

var refreshTokenColumns = []string{"id", "user_id", "token_hash", "created_at", "expires_at", "revoked_at", "replaced_by"}

type refreshTokenRow struct {
	ID         string      `db:"id"`
	UserID     string      `db:"user_id"`
	TokenHash  string      `db:"token_hash"`
	CreatedAt  time.Time   `db:"created_at"`
	ExpiresAt  time.Time   `db:"expires_at"`
	RevokedAt  null.Time   `db:"revoked_at"`
	ReplacedBy null.String `db:"replaced_by"`
}

type refreshTokenRepository struct {
	repository
}

var _ auth.Repository = (*refreshTokenRepository)(nil) // interface compliance check

func NewRefreshTokenRepository(db core.DB) *refreshTokenRepository {
	return &refreshTokenRepository{repository{exec: db}}
}

func (repo refreshTokenRepository) CreateRefreshToken(ctx context.Context, tok auth.RefreshToken) error {
	ex := repo.getExec(nil)
	b := builder(ex).Insert("refresh_tokens").Columns(refreshTokenColumns...).Values(
		tok.ID, tok.UserID, tok.TokenHash, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC(),
		nullTime(tok.RevokedAt), nullString(tok.ReplacedBy),
	)
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "inserting refresh token")
}

func (repo refreshTokenRepository) GetRefreshTokenByHash(ctx context.Context, hash string) (auth.RefreshToken, error) {
	ex := repo.getExec(nil)
	var row refreshTokenRow
	b := builder(ex).Select(refreshTokenColumns...).From("refresh_tokens").Where(sq.Eq{"token_hash": hash})
	if err := get(ctx, ex, &row, b); err != nil {
		return auth.RefreshToken{}, trapNoRowsErr(err, auth.ErrNotFound, "selecting refresh token")
	}
	return auth.RefreshToken{
		ID:         row.ID,
		UserID:     row.UserID,
		TokenHash:  row.TokenHash,
		CreatedAt:  utc(row.CreatedAt),
		ExpiresAt:  utc(row.ExpiresAt),
		RevokedAt:  utc(row.RevokedAt.Time),
		ReplacedBy: row.ReplacedBy.String,
	}, nil
}

func (repo refreshTokenRepository) RevokeRefreshToken(ctx context.Context, id string, at time.Time, replacedBy string) (bool, error) {
	ex := repo.getExec(nil)
	b := builder(ex).Update("refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("replaced_by", nullString(replacedBy)).
		Where(sq.Eq{"id": id, "revoked_at": nil})
	n, err := execute(ctx, ex, b)
	if err != nil {
		return false, errors.Wrap(err, "revoking refresh token")
	}
	return n > 0, nil
}

func (repo refreshTokenRepository) RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) error {
	ex := repo.getExec(nil)
	b := builder(ex).Update("refresh_tokens").
		Set("revoked_at", at.UTC()).
		Where(sq.Eq{"user_id": userID, "revoked_at": nil})
	_, err := execute(ctx, ex, b)
	return errors.Wrap(err, "revoking user refresh tokens")
}

func (repo refreshTokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	ex := repo.getExec(nil)
	n, err := execute(ctx, ex, builder(ex).Delete("refresh_tokens").Where(sq.Lt{"expires_at": before.UTC()}))
	return n, errors.Wrap(err, "deleting expired refresh tokens")
}
