package video

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
)

// Grant is the LiveKit video grant carried by an access token.
type Grant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// LiveKitClaims are the claims of a LiveKit access token.
type LiveKitClaims struct {
	jwt.RegisteredClaims
	Name     string `json:"name,omitempty"`
	Video    *Grant `json:"video,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

type AccessToken struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer signs LiveKit access tokens with the API key & secret of the LiveKit server.
type TokenIssuer struct {
	url       string
	apiKey    string
	apiSecret string
	ttl       time.Duration
	nowFunc   func() time.Time
}

func NewTokenIssuer(conf *core.Config) *TokenIssuer {
	return &TokenIssuer{
		url:       conf.LiveKit.URL,
		apiKey:    conf.LiveKit.APIKey,
		apiSecret: conf.LiveKit.APISecret,
		ttl:       conf.LiveKit.TokenTTL,
		nowFunc:   time.Now,
	}
}

func (iss *TokenIssuer) Enabled() bool { return iss.apiKey != "" && iss.apiSecret != "" }

// Issue returns a token allowing identity to join, publish to & subscribe in roomName.
func (iss *TokenIssuer) Issue(identity, name, roomName string) (AccessToken, error) {
	if !iss.Enabled() {
		return AccessToken{}, ErrVideoUnavailable
	}
	now := iss.nowFunc()
	exp := now.Add(iss.ttl)
	claims := LiveKitClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: name,
		Video: &Grant{
			Room:           roomName,
			RoomJoin:       true,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(iss.apiSecret))
	if err != nil {
		return AccessToken{}, errors.Wrap(err, "signing livekit token")
	}
	return AccessToken{
		Token:     token,
		URL:       iss.url,
		Room:      roomName,
		Identity:  identity,
		ExpiresAt: exp.UTC(),
	}, nil
}
