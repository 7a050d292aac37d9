package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SkTech0/VirtualClassroom-sub000/core"
	"github.com/SkTech0/VirtualClassroom-sub000/core/user"
	emailsvc "github.com/SkTech0/VirtualClassroom-sub000/services/email"
	sqlxrepos "github.com/SkTech0/VirtualClassroom-sub000/storage/database/sqlx"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp          = errors.New("help provided")
	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	db      *sqlx.DB
	conf    *core.Config
	usrRepo user.Repository
	usrSvc  *user.Service
	out     io.Writer
}

func newCommandLine(db *sqlx.DB, conf *core.Config, logger core.Logger) *commandLine {
	usrRepo := sqlxrepos.NewUserRepository(db)
	return &commandLine{
		db:      db,
		conf:    conf,
		usrRepo: usrRepo,
		usrSvc:  user.NewService(usrRepo, emailsvc.NewConsoleService(conf, logger), conf, logger),
		out:     os.Stdout,
	}
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Virtual Classroom administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	var addUname, addEmail, addName string
	addUserCmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or activate an existing one and set their password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			return cli.addUser(addUname, addEmail, addName, pwd)
		},
	}
	addUserCmd.Flags().StringVar(&addUname, "username", "", "the user's username")
	addUserCmd.Flags().StringVar(&addEmail, "email", "", "the user's email")
	addUserCmd.Flags().StringVar(&addName, "name", "", "the user's full name (defaults to the username)")
	_ = addUserCmd.MarkFlagRequired("username")
	_ = addUserCmd.MarkFlagRequired("email")

	var resetUname string
	resetPasswordCmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the password is prompted next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			return cli.resetPassword(resetUname, pwd)
		},
	}
	resetPasswordCmd.Flags().StringVar(&resetUname, "username", "", "the user's username or email")
	_ = resetPasswordCmd.MarkFlagRequired("username")

	migrateCmd := &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, down, status, version, redo, reset, up-to, down-to, ...)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(args)
		},
	}

	root.AddCommand(addUserCmd, resetPasswordCmd, migrateCmd)
	return root
}

// run executes the command line; args includes the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}

func (cli *commandLine) promptPassword() (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}
