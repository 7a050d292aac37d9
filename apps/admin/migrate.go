package main

import (
	"github.com/pressly/goose/v3"

	"github.com/SkTech0/VirtualClassroom-sub000/storage/database"
)

var gooseRunFunc = goose.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	if err := database.Setup(cli.conf.Database.Engine); err != nil {
		return err
	}
	return gooseRunFunc(args[0], cli.db.DB, database.MigrationsDir(), args[1:]...)
}
