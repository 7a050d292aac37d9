package echoapi

import (
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

const (
	contextClaimsKey = "userToken"
	contextUserKey   = "user"
)

// newJWTMiddleware authenticates requests with an access token sent as a Bearer token,
// or as the access_token query param where headers cannot be set (WebSocket).
func newJWTMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  contextClaimsKey,
		TokenLookup: "header:Authorization:Bearer ,query:access_token",
		ParseTokenFunc: func(_ echo.Context, token string) (interface{}, error) {
			return svc.ParseAccessToken(token)
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return errors.Wrap(auth.ErrInvalidAccessToken, err.Error())
		},
	})
}

func getContextClaims(ctx echo.Context) (*auth.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*auth.Claims); ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidAccessToken
}

// getContextUser returns the active user the access token was issued to.
func getContextUser(ctx echo.Context, svc *user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if err == user.ErrNotFound {
			return user.User{}, auth.ErrInvalidAccessToken
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, user.ErrAccountDeactivated
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}
