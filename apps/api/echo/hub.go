package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/services/hub"
)

type hubApi struct {
	hub     *hub.Hub
	userSvc *user.Service
}

// registerHubAPI mounts the room WebSocket. Browsers cannot set headers on a WebSocket
// handshake so the access token is usually sent as the access_token query param.
func registerHubAPI(e *echo.Echo, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := hubApi{hub: deps.Hub, userSvc: deps.UserSvc}

	e.GET("/hubs/room", api.serve, jwt)
}

func (api *hubApi) serve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	return api.hub.ServeWS(ctx.Response(), ctx.Request(), hub.Identity{
		UserID:   usr.ID,
		Name:     usr.Name,
		Username: usr.Username,
	})
}
