// Package testutil holds helpers shared by the tests of every package.
package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/room"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	logsvc "github.com/SkTech0/VirtualClassroom-sub000/services/logger"
	"github.com/SkTech0/VirtualClassroom-sub000/storage/database"
)

// OpenDB opens a migrated in-memory sqlite database that is closed with the test.
func OpenDB(t testing.TB, conf ...*core.Config) *sqlx.DB {
	t.Helper()
	cfg := core.NewTestConfig()
	if len(conf) > 0 {
		cfg = conf[0]
	}

	goose.SetLogger(goose.NopLogger())
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB, cfg.Database.Engine); err != nil {
		_ = db.Close()
		t.Fatalf("OpenDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewLogger returns a logger writing nowhere and reporting nothing.
func NewLogger(conf *core.Config) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with every app validation registered.
func NewValidator(logger core.Logger) (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	room.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)
	return validate, translator
}

// CreateUser inserts an active user straight through the repository.
func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, uname, email, pwd string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
