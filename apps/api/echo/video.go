package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
)

type videoApi struct {
	svc      *video.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerVideoAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := videoApi{
		svc:      deps.VideoSvc,
		userSvc:  deps.UserSvc,
		validate: deps.Validate,
	}

	vg := g.Group("/rooms/:code/video", jwt)
	vg.POST("/join", api.join)
	vg.POST("/leave", api.leave)
	vg.GET("/participants", api.participants)

	g.POST("/video/token", api.token, jwt)
}

func (api *videoApi) join(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	vs, err := api.svc.Join(ctx.Request().Context(), ctx.Param("code"), usr)
	if err != nil {
		return errors.Wrap(err, "joining video call")
	}
	return ctx.JSON(http.StatusOK, vs)
}

func (api *videoApi) leave(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Leave(ctx.Request().Context(), ctx.Param("code"), usr); err != nil {
		return errors.Wrap(err, "leaving video call")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *videoApi) participants(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	list, err := api.svc.Participants(ctx.Request().Context(), ctx.Param("code"), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing video participants")
	}
	if list == nil {
		list = []video.VideoSession{}
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *videoApi) token(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	var data VideoTokenRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VideoTokenRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tok, err := api.svc.IssueToken(ctx.Request().Context(), data.Room, usr)
	if err != nil {
		return errors.Wrap(err, "issuing video token")
	}
	return ctx.JSON(http.StatusOK, tok)
}
