package main

import (
	"context"
)

func (cli *commandLine) resetPassword(login, pwd string) error {
	_, err := cli.usrSvc.SetPassword(context.Background(), login, pwd)
	return err
}
