package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

type roomApi struct {
	svc      *room.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerRoomAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := roomApi{
		svc:      deps.RoomSvc,
		userSvc:  deps.UserSvc,
		validate: deps.Validate,
	}

	rg := g.Group("/rooms", jwt)
	rg.POST("", api.create)
	rg.GET("", api.list)

	// detail endpoints
	dg := rg.Group("/:code")
	dg.GET("", api.retrieve)
	dg.DELETE("", api.close)
	dg.POST("/join", api.join)
	dg.POST("/leave", api.leave)
	dg.GET("/members", api.members)
}

func (api *roomApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	var data room.NewRoom
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRoom")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	rm, err := api.svc.Create(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating room")
	}
	return ctx.JSON(http.StatusCreated, rm)
}

func (api *roomApi) list(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	rooms, err := api.svc.ListForUser(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing rooms")
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	return ctx.JSON(http.StatusOK, rooms)
}

func (api *roomApi) retrieve(ctx echo.Context) error {
	if _, err := getContextUser(ctx, api.userSvc); err != nil {
		return err
	}
	rm, err := api.svc.GetByCode(ctx.Request().Context(), ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "getting room")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) close(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Close(ctx.Request().Context(), ctx.Param("code"), usr.ID); err != nil {
		return errors.Wrap(err, "closing room")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roomApi) join(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	sess, err := api.svc.Join(ctx.Request().Context(), ctx.Param("code"), usr)
	if err != nil {
		return errors.Wrap(err, "joining room")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *roomApi) leave(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Leave(ctx.Request().Context(), ctx.Param("code"), usr); err != nil {
		return errors.Wrap(err, "leaving room")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roomApi) members(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	members, err := api.svc.Members(ctx.Request().Context(), ctx.Param("code"), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing members")
	}
	if members == nil {
		members = []room.Member{}
	}
	return ctx.JSON(http.StatusOK, members)
}
