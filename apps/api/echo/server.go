package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
	"github.com/SkTech0/VirtualClassroom-sub000/services/hub"
	"github.com/SkTech0/VirtualClassroom-sub000/services/telemetry"
)

const apiPrefix = "/api/v1"

// ServerDeps holds everything the HTTP API depends on.
type ServerDeps struct {
	dig.In

	Conf        *core.Config
	Logger      core.Logger
	DB          core.DB
	Validate    *validator.Validate
	Translator  ut.Translator
	UserSvc     *user.Service
	AuthSvc     *auth.Service
	RoomSvc     *room.Service
	PomodoroSvc *pomodoro.Service
	VideoSvc    *video.Service
	Hub         *hub.Hub
}

type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: conf.Server.AllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.app.Use(telemetry.Middleware())

	s.app.GET("/", s.home)
	registerHealthAPI(s.app, s.deps.DB)
	registerDocsAPI(s.app)

	jwt := newJWTMiddleware(s.deps.AuthSvc)
	v1 := s.app.Group(apiPrefix)

	registerAuthAPI(v1, jwt, newRateLimiter(conf), s.deps)
	registerUserAPI(v1, jwt, s.deps)
	registerRoomAPI(v1, jwt, s.deps)
	registerPomodoroAPI(v1, jwt, s.deps)
	registerVideoAPI(v1, jwt, s.deps)
	registerHubAPI(s.app, jwt, s.deps)
}

// Start serves HTTP until the server is shut down. Errors are reported on Errors().
func (s *Server) Start() {
	s.deps.Logger.Info("API listening on " + s.deps.Conf.Server.Address)
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- errors.Wrap(err, "serving API")
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

// SignalShutdown asks the app to shut down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

// Shutdown closes the WebSocket connections then stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Shutdown()
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.deps.Hub.Shutdown()
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{
		"name":    s.deps.Conf.AppName,
		"version": s.deps.Conf.Build,
		"api":     apiPrefix,
		"docs":    "/openapi.yaml",
	})
}
