package inmemdb

import (
	"context"
	"time"

	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
)

type refreshTokenRepository struct {
	db *refreshTokenTable
}

var _ auth.Repository = (*refreshTokenRepository)(nil) // interface compliance check

func NewRefreshTokenRepository(db *DB) *refreshTokenRepository {
	return &refreshTokenRepository{db: db.refreshToken}
}

func (repo *refreshTokenRepository) CreateRefreshToken(_ context.Context, tok auth.RefreshToken) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	t := tok
	repo.db.table[tok.ID] = &t
	return nil
}

func (repo *refreshTokenRepository) GetRefreshTokenByHash(_ context.Context, hash string) (auth.RefreshToken, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, tok := range repo.db.table {
		if tok.TokenHash == hash {
			return *tok, nil
		}
	}
	return auth.RefreshToken{}, auth.ErrNotFound
}

func (repo *refreshTokenRepository) RevokeRefreshToken(_ context.Context, id string, at time.Time, replacedBy string) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tok, ok := repo.db.table[id]
	if !ok || tok.IsRevoked() {
		return false, nil
	}
	tok.RevokedAt, tok.ReplacedBy = at.UTC(), replacedBy
	return true, nil
}

func (repo *refreshTokenRepository) RevokeUserRefreshTokens(_ context.Context, userID string, at time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, tok := range repo.db.table {
		if tok.UserID == userID && !tok.IsRevoked() {
			tok.RevokedAt = at.UTC()
		}
	}
	return nil
}

func (repo *refreshTokenRepository) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int64
	for id, tok := range repo.db.table {
		if tok.ExpiresAt.Before(before) {
			delete(repo.db.table, id)
			n++
		}
	}
	return n, nil
}
