package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/storage/database"
)

const healthCheckTimeout = 2 * time.Second

type healthApi struct {
	db core.DB
}

func registerHealthAPI(e *echo.Echo, db core.DB) {
	api := healthApi{db: db}

	e.GET("/health", api.ready)
	e.GET("/health/live", api.live)
}

// ready reports whether the API can serve traffic, ie: its database is reachable.
func (api *healthApi) ready(ctx echo.Context) error {
	c, cancel := context.WithTimeout(ctx.Request().Context(), healthCheckTimeout)
	defer cancel()

	if err := database.StatusCheck(c, api.db); err != nil {
		ctx.Logger().Errorf("health check: %v", err)
		return ctx.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "database": "down"})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok", "database": "up"})
}

func (api *healthApi) live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
