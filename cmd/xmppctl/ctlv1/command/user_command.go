// Copyright 2022 The jackal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// copied from https://github.com/etcd-io/etcd/blob/master/etcdctl/ctlv3/command/user_command.go

package command

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bgentry/speakeasy"
	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/auth/boltcreds"
	"github.com/ortuman/xmppcore/pkg/auth/sqlcreds"
	"github.com/spf13/cobra"
)

var (
	passwordFromFlag    string
	passwordInteractive bool
)

// userStore is the subset of credential storage operations user commands run.
type userStore interface {
	UpsertPassword(ctx context.Context, username, password string) error
	UpsertScramSecret(ctx context.Context, username string, tp auth.ScramType, secret *auth.ScramSecret) error
	DeleteUser(ctx context.Context, username string) error
	UserExists(ctx context.Context, username string) (bool, error)
}

// NewUserCommand returns the cobra command for "user".
func NewUserCommand() *cobra.Command {
	ac := &cobra.Command{
		Use:   "user <subcommand>",
		Short: "User related commands, run directly against the credential storage",
	}
	ac.PersistentFlags().String("storage", "bolt", "credential storage type: bolt, pgsql or mysql")
	ac.PersistentFlags().String("dsn", "", "SQL storage data source name")
	ac.PersistentFlags().String("bolt-path", "xmppcore.db", "bolt storage file path")
	ac.PersistentFlags().Bool("scram", false, "store SCRAM-SHA-1 salted passwords instead of plain text")
	ac.PersistentFlags().Int("scram-iterations", 4096, "SCRAM iteration count")

	ac.AddCommand(newUserAddCommand())
	ac.AddCommand(newUserChangePasswordCommand())
	ac.AddCommand(newUserDeleteCommand())

	return ac
}

func newUserAddCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:   "add <user name or user:password> [options]",
		Short: "Adds a new user",
		Run:   userAddCommandFunc,
	}

	cmd.Flags().BoolVar(&passwordInteractive, "interactive", true, "Read password from stdin instead of interactive terminal")
	cmd.Flags().StringVar(&passwordFromFlag, "new-user-password", "", "Supply password from the command line flag")

	return &cmd
}

func newUserChangePasswordCommand() *cobra.Command {
	cmd := cobra.Command{
		Use:   "passwd <user name> [options]",
		Short: "Changes password of user",
		Run:   userChangePasswordCommandFunc,
	}

	cmd.Flags().BoolVar(&passwordInteractive, "interactive", true, "If true, read password from stdin instead of interactive terminal")
	cmd.Flags().StringVar(&passwordFromFlag, "new-user-password", "", "Supply password from the command line flag")

	return &cmd
}

func newUserDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user name>",
		Short: "Deletes a user",
		Run:   userDeleteCommandFunc,
	}
}

// userAddCommandFunc executes the "user add" command.
func userAddCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		ExitWithError(ExitBadArgs, fmt.Errorf("user add command requires user name as its argument"))
	}

	var password string
	var username string

	if passwordFromFlag != "" {
		username = args[0]
		password = passwordFromFlag
	} else {
		splitted := strings.SplitN(args[0], ":", 2)
		if len(splitted) < 2 {
			username = args[0]
			password = readPassword(args[0])
		} else {
			username = splitted[0]
			password = splitted[1]
			if len(username) == 0 {
				ExitWithError(ExitBadArgs, fmt.Errorf("empty user name is not allowed"))
			}
		}
	}
	st, closeFn := mustUserStoreFromCmd(cmd)
	defer closeFn()

	ctx, cancel := commandCtx(cmd)
	defer cancel()

	exists, err := st.UserExists(ctx, username)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	if exists {
		ExitWithError(ExitInvalidInput, fmt.Errorf("user %s already exists", username))
	}
	if err := storePassword(ctx, cmd, st, username, password); err != nil {
		ExitWithError(ExitError, err)
	}
	display.CreateUser(username)
}

// userChangePasswordCommandFunc executes the "user passwd" command.
func userChangePasswordCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		ExitWithError(ExitBadArgs, fmt.Errorf("user passwd command requires user name as its argument"))
	}
	username := args[0]

	password := passwordFromFlag
	if len(password) == 0 {
		password = readPassword(username)
	}
	st, closeFn := mustUserStoreFromCmd(cmd)
	defer closeFn()

	ctx, cancel := commandCtx(cmd)
	defer cancel()

	exists, err := st.UserExists(ctx, username)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	if !exists {
		ExitWithError(ExitInvalidInput, fmt.Errorf("user %s not found", username))
	}
	// drop secrets stored in other formats
	if err := st.DeleteUser(ctx, username); err != nil {
		ExitWithError(ExitError, err)
	}
	if err := storePassword(ctx, cmd, st, username, password); err != nil {
		ExitWithError(ExitError, err)
	}
	display.ChangeUserPassword(username)
}

// userDeleteCommandFunc executes the "user delete" command.
func userDeleteCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		ExitWithError(ExitBadArgs, fmt.Errorf("user delete command requires user name as its argument"))
	}
	username := args[0]

	st, closeFn := mustUserStoreFromCmd(cmd)
	defer closeFn()

	ctx, cancel := commandCtx(cmd)
	defer cancel()

	if err := st.DeleteUser(ctx, username); err != nil {
		ExitWithError(ExitError, err)
	}
	display.DeleteUser(username)
}

func storePassword(ctx context.Context, cmd *cobra.Command, st userStore, username, password string) error {
	if !boolFlag(cmd, "scram") {
		return st.UpsertPassword(ctx, username, password)
	}
	secret, err := auth.NewScramSecret(auth.ScramSHA1, password, intFlag(cmd, "scram-iterations"))
	if err != nil {
		return err
	}
	return st.UpsertScramSecret(ctx, username, auth.ScramSHA1, secret)
}

func mustUserStoreFromCmd(cmd *cobra.Command) (userStore, func()) {
	initDisplayFromCmd(cmd)

	switch typ := stringFlag(cmd, "storage"); typ {
	case "bolt":
		p, err := boltcreds.Open(stringFlag(cmd, "bolt-path"))
		if err != nil {
			ExitWithError(ExitError, err)
		}
		return p, func() { _ = p.Close() }

	case "pgsql", "mysql":
		driver := sqlcreds.PostgresDriver
		if typ == "mysql" {
			driver = sqlcreds.MySQLDriver
		}
		db, err := sql.Open(driver, stringFlag(cmd, "dsn"))
		if err != nil {
			ExitWithError(ExitError, err)
		}
		p, err := sqlcreds.New(db, driver)
		if err != nil {
			_ = db.Close()
			ExitWithError(ExitError, err)
		}
		return p, func() { _ = db.Close() }

	default:
		ExitWithError(ExitBadArgs, fmt.Errorf("unrecognized storage type: %s", typ))
	}
	return nil, func() {}
}

func readPassword(name string) string {
	if !passwordInteractive {
		var password string
		_, _ = fmt.Scanf("%s", &password)
		return password
	}
	return readPasswordInteractive(name)
}

func readPasswordInteractive(name string) string {
	prompt1 := fmt.Sprintf("Password of %s: ", name)
	password1, err1 := speakeasy.Ask(prompt1)
	if err1 != nil {
		ExitWithError(ExitBadArgs, fmt.Errorf("failed to ask password: %s", err1))
	}

	if len(password1) == 0 {
		ExitWithError(ExitBadArgs, fmt.Errorf("empty password"))
	}

	prompt2 := fmt.Sprintf("Type password of %s again for confirmation: ", name)
	password2, err2 := speakeasy.Ask(prompt2)
	if err2 != nil {
		ExitWithError(ExitBadArgs, fmt.Errorf("failed to ask password: %s", err2))
	}

	if password1 != password2 {
		ExitWithError(ExitBadArgs, fmt.Errorf("given passwords are different"))
	}

	return password1
}
