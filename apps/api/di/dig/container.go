package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/SkTech0/VirtualClassroom-sub000/apps/api/echo"
	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/auth"
	"github.com/SkTech0/VirtualClassroom-sub000/core/pomodoro"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	"github.com/SkTech0/VirtualClassroom-sub000/core/video"
	emailsvc "github.com/SkTech0/VirtualClassroom-sub000/services/email"
	"github.com/SkTech0/VirtualClassroom-sub000/services/hub"
	logsvc "github.com/SkTech0/VirtualClassroom-sub000/services/logger"
	"github.com/SkTech0/VirtualClassroom-sub000/storage/database"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB, conf.Database.Engine); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newHub(conf *core.Config, logger core.Logger) *hub.Hub {
	// the membership checker is the room service, which needs the hub to broadcast
	return hub.New(nil, logger, conf.Server.AllowOrigins)
}

func newBroadcaster(h *hub.Hub) core.RoomBroadcaster { return h }

func newAuthService(repo auth.Repository, users *user.Service, conf *core.Config) *auth.Service {
	return auth.NewService(repo, users, conf)
}

func newRoomService(db core.DB, repo room.Repository, h *hub.Hub, conf *core.Config) *room.Service {
	svc := room.NewService(db, repo, h, conf)
	h.SetMembershipChecker(svc)
	return svc
}

func newPomodoroService(
	db core.DB,
	repo pomodoro.Repository,
	rooms *room.Service,
	broadcaster core.RoomBroadcaster,
	conf *core.Config,
) *pomodoro.Service {
	svc := pomodoro.NewService(db, repo, rooms, broadcaster, conf)
	rooms.AddSessionListener(svc)
	return svc
}

func newVideoService(
	db core.DB,
	repo video.Repository,
	rooms *room.Service,
	broadcaster core.RoomBroadcaster,
	conf *core.Config,
) *video.Service {
	svc := video.NewService(db, repo, rooms, video.NewTokenIssuer(conf), broadcaster, conf)
	rooms.AddSessionListener(svc)
	return svc
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))

	// repositories
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewRefreshTokenRepository, dig.As(new(auth.Repository))))
	must(c.Provide(sqlxrepos.NewRoomRepository, dig.As(new(room.Repository))))
	must(c.Provide(sqlxrepos.NewPomodoroRepository, dig.As(new(pomodoro.Repository))))
	must(c.Provide(sqlxrepos.NewVideoRepository, dig.As(new(video.Repository))))

	// services
	must(c.Provide(newHub))
	must(c.Provide(newBroadcaster))
	must(c.Provide(user.NewService))
	must(c.Provide(newAuthService))
	must(c.Provide(newRoomService))
	must(c.Provide(newPomodoroService))
	must(c.Provide(newVideoService))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
