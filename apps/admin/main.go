package main

import (
	"fmt"
	"log"
	"os"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	logsvc "github.com/SkTech0/VirtualClassroom-sub000/services/logger"
	"github.com/SkTech0/VirtualClassroom-sub000/storage/database"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, conf)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// start CLI
	cli := newCommandLine(db, conf, logger)
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			std.Printf("error: %s\n", err)
		}
		os.Exit(1)
	}
}
