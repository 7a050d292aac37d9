package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

const (
	TokenType     = "Bearer"
	audience      = "virtualclassroom"
	refreshTokLen = 32
)

var (
	ErrInvalidRefreshToken = core.NewAuthenticationError("invalid or expired refresh token")
	ErrInvalidAccessToken  = core.NewAuthenticationError("invalid or expired access token")
	ErrNotFound            = core.NewNotFoundError("refresh token not found")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// RefreshToken is the stored side of an opaque refresh token: only its hash is kept.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  time.Time // zero while usable
	ReplacedBy string
}

func (t RefreshToken) IsRevoked() bool { return !t.RevokedAt.IsZero() }

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type (
	Repository interface {
		CreateRefreshToken(ctx context.Context, tok RefreshToken) error
		GetRefreshTokenByHash(ctx context.Context, hash string) (RefreshToken, error)
		// RevokeRefreshToken reports false when the token was already revoked.
		RevokeRefreshToken(ctx context.Context, id string, at time.Time, replacedBy string) (bool, error)
		RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) error
		DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
	}

	// UserGetter is implemented by user.Service.
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}
)

type Service struct {
	repo       Repository
	users      UserGetter
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowFunc    func() time.Time
}

func NewService(repo Repository, users UserGetter, conf *core.Config) *Service {
	return &Service{
		repo:       repo,
		users:      users,
		signingKey: []byte(conf.SecretKey),
		issuer:     conf.AppName,
		accessTTL:  conf.Server.JWTExpirationDelta,
		refreshTTL: conf.Server.RefreshExpirationDelta,
		nowFunc:    time.Now,
	}
}

// SigningKey is the HMAC key of access tokens.
func (svc *Service) SigningKey() []byte { return svc.signingKey }

func (svc *Service) newClaims(usr user.User, now time.Time) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    svc.issuer,
			Subject:   usr.ID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(svc.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Username: usr.Username,
		Email:    usr.Email,
		Name:     usr.Name,
	}
}

// GenerateAccessToken signs a short-lived JWT for usr.
func (svc *Service) GenerateAccessToken(usr user.User) (string, time.Time, error) {
	claims := svc.newClaims(usr, svc.nowFunc())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(svc.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "signing token")
	}
	return ss, claims.ExpiresAt.Time, nil
}

// ParseAccessToken validates a signed JWT and returns its claims.
func (svc *Service) ParseAccessToken(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return svc.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(svc.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(svc.nowFunc),
	)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Issue creates an access token and a new refresh token for usr.
func (svc *Service) Issue(ctx context.Context, usr user.User) (TokenPair, error) {
	access, exp, err := svc.GenerateAccessToken(usr)
	if err != nil {
		return TokenPair{}, err
	}
	raw, tok, err := svc.newRefreshToken(usr.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err = svc.repo.CreateRefreshToken(ctx, tok); err != nil {
		return TokenPair{}, errors.Wrap(err, "storing refresh token")
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		TokenType:        TokenType,
		ExpiresAt:        exp,
		RefreshExpiresAt: tok.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new pair is issued.
// Presenting an already revoked token revokes every token of its user.
func (svc *Service) Refresh(ctx context.Context, raw string) (TokenPair, user.User, error) {
	now := svc.nowFunc().UTC()
	tok, err := svc.repo.GetRefreshTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if err == ErrNotFound {
			return TokenPair{}, user.User{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, user.User{}, errors.Wrap(err, "finding refresh token")
	}
	if tok.IsRevoked() {
		if err = svc.repo.RevokeUserRefreshTokens(ctx, tok.UserID, now); err != nil {
			return TokenPair{}, user.User{}, errors.Wrap(err, "revoking user refresh tokens")
		}
		return TokenPair{}, user.User{}, ErrInvalidRefreshToken
	}
	if !now.Before(tok.ExpiresAt) {
		return TokenPair{}, user.User{}, ErrInvalidRefreshToken
	}

	usr, err := svc.users.GetByID(ctx, tok.UserID)
	if err != nil {
		if err == user.ErrNotFound {
			return TokenPair{}, user.User{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return TokenPair{}, user.User{}, user.ErrAccountDeactivated
	}

	access, exp, err := svc.GenerateAccessToken(usr)
	if err != nil {
		return TokenPair{}, user.User{}, err
	}
	newRaw, newTok, err := svc.newRefreshToken(usr.ID)
	if err != nil {
		return TokenPair{}, user.User{}, err
	}
	revoked, err := svc.repo.RevokeRefreshToken(ctx, tok.ID, now, newTok.ID)
	if err != nil {
		return TokenPair{}, user.User{}, errors.Wrap(err, "revoking refresh token")
	}
	if !revoked { // lost a race against another refresh with the same token
		return TokenPair{}, user.User{}, ErrInvalidRefreshToken
	}
	if err = svc.repo.CreateRefreshToken(ctx, newTok); err != nil {
		return TokenPair{}, user.User{}, errors.Wrap(err, "storing refresh token")
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     newRaw,
		TokenType:        TokenType,
		ExpiresAt:        exp,
		RefreshExpiresAt: newTok.ExpiresAt,
	}, usr, nil
}

// Revoke revokes a refresh token of userID. Unknown tokens are ignored.
func (svc *Service) Revoke(ctx context.Context, userID, raw string) error {
	tok, err := svc.repo.GetRefreshTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding refresh token")
	}
	if tok.UserID != userID || tok.IsRevoked() {
		return nil
	}
	_, err = svc.repo.RevokeRefreshToken(ctx, tok.ID, svc.nowFunc().UTC(), "")
	return errors.Wrap(err, "revoking refresh token")
}

// RevokeAll revokes every refresh token of userID (e.g. after a password change).
func (svc *Service) RevokeAll(ctx context.Context, userID string) error {
	return errors.Wrap(svc.repo.RevokeUserRefreshTokens(ctx, userID, svc.nowFunc().UTC()), "revoking user refresh tokens")
}

// PurgeExpired deletes the refresh tokens that expired before now.
func (svc *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return svc.repo.DeleteExpiredRefreshTokens(ctx, svc.nowFunc().UTC())
}

func (svc *Service) newRefreshToken(userID string) (string, RefreshToken, error) {
	b := make([]byte, refreshTokLen)
	if _, err := rand.Read(b); err != nil {
		return "", RefreshToken{}, errors.Wrap(err, "generating refresh token")
	}
	raw := base64.RawURLEncoding.EncodeToString(b)
	now := svc.nowFunc().UTC()
	return raw, RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(svc.refreshTTL),
	}, nil
}

// HashToken returns the hex encoded sha256 of a raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
