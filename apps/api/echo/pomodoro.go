package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

var errRoomParamRequired = core.NewValidationError(nil, core.FieldError{Field: "room", Error: "room is a required query param"})

type pomodoroApi struct {
	svc      *pomodoro.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerPomodoroAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := pomodoroApi{
		svc:      deps.PomodoroSvc,
		userSvc:  deps.UserSvc,
		validate: deps.Validate,
	}

	pg := g.Group("/pomodoros", jwt)
	pg.POST("", api.start)
	pg.GET("", api.history)
	pg.GET("/current", api.current)
	pg.GET("/stats", api.stats)
	pg.POST("/:id/complete", api.complete)
	pg.POST("/:id/cancel", api.cancel)
}

func (api *pomodoroApi) start(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	var data pomodoro.StartPomodoro
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartPomodoro")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Start(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "starting pomodoro")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *pomodoroApi) history(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	var filter pomodoro.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []pomodoro.Pomodoro{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	list, err := api.svc.History(ctx.Request().Context(), usr.ID, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying pomodoros")
	}
	if list == nil {
		list = []pomodoro.Pomodoro{}
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *pomodoroApi) current(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	code := room.NormalizeCode(ctx.QueryParam("room"))
	if code == "" {
		return errRoomParamRequired
	}

	p, err := api.svc.Current(ctx.Request().Context(), usr.ID, code)
	if err != nil {
		return errors.Wrap(err, "getting current pomodoro")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *pomodoroApi) stats(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "computing pomodoro stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *pomodoroApi) complete(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	p, err := api.svc.Complete(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "completing pomodoro")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *pomodoroApi) cancel(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	p, err := api.svc.Cancel(ctx.Request().Context(), usr.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling pomodoro")
	}
	return ctx.JSON(http.StatusOK, p)
}
