package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(uname, email, name, pwd string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err == user.ErrNotFound {
		usr, err = cli.usrRepo.GetUserByEmail(ctx, email)
	}
	exists := err == nil
	if err != nil && err != user.ErrNotFound {
		return err
	}

	if !exists {
		if name == "" {
			name = uname
		}
		usr = user.User{ID: uuid.NewString(), Username: uname, Email: email, CreatedAt: now}
	}
	if name != "" {
		usr.Name = name
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
