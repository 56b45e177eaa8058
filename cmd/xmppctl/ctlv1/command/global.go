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

// copied from https://github.com/etcd-io/etcd/blob/master/etcdctl/ctlv3/command/global.go

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/bgentry/speakeasy"
	"github.com/ortuman/xmppcore/pkg/client"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/spf13/cobra"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultCommandTimeOut = 5 * time.Second

	defaultResource = "xmppctl"
)

// GlobalFlags are flags that defined globally and are inherited to all sub-commands.
type GlobalFlags struct {
	JID      string
	Password string
	Server   string
	Port     int
	Resource string

	DialTimeout    time.Duration
	CommandTimeOut time.Duration
}

// RegisterGlobalFlags binds gf to cmd persistent flags.
func RegisterGlobalFlags(cmd *cobra.Command, gf *GlobalFlags) {
	cmd.PersistentFlags().StringVar(&gf.JID, "jid", "", "account address")
	cmd.PersistentFlags().StringVar(&gf.Password, "password", "", "account password, asked interactively when empty")
	cmd.PersistentFlags().StringVar(&gf.Server, "server", "", "server host, SRV records are looked up when empty")
	cmd.PersistentFlags().IntVar(&gf.Port, "port", 0, "server port")
	cmd.PersistentFlags().StringVar(&gf.Resource, "resource", defaultResource, "requested resource")

	cmd.PersistentFlags().DurationVar(&gf.DialTimeout, "dial-timeout", defaultDialTimeout, "timeout for establishing the XMPP stream")
	cmd.PersistentFlags().DurationVar(&gf.CommandTimeOut, "command-timeout", defaultCommandTimeOut, "timeout for running command")
}

// mustClientFromCmd returns a client whose stream is already established.
func mustClientFromCmd(cmd *cobra.Command) *client.Client {
	me, err := jid.NewWithString(stringFlag(cmd, "jid"), false)
	if err != nil {
		ExitWithError(ExitInvalidInput, err)
	}
	password := stringFlag(cmd, "password")
	if len(password) == 0 {
		password, err = speakeasy.Ask(fmt.Sprintf("Password of %s: ", me.String()))
		if err != nil {
			ExitWithError(ExitBadArgs, fmt.Errorf("failed to ask password: %s", err))
		}
	}
	stg := settings.Default()
	stg.Server = stringFlag(cmd, "server")
	stg.Port = intFlag(cmd, "port")
	stg.Resource = stringFlag(cmd, "resource")

	initDisplayFromCmd(cmd)

	c := client.New(me, password, stg)

	dCtx, cancel := context.WithTimeout(context.Background(), durationFlag(cmd, "dial-timeout"))
	defer cancel()

	if err := c.Connect(dCtx); err != nil {
		ExitWithError(ExitBadConnection, err)
	}
	go func() { _ = c.RunThreaded(context.Background()) }()

	if err := c.WaitEstablished(dCtx); err != nil {
		ExitWithError(ExitBadConnection, err)
	}
	return c
}

func disconnect(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeOut)
	defer cancel()
	_ = c.Disconnect(ctx)
}

func initDisplayFromCmd(cmd *cobra.Command) {
	display = &simplePrinter{w: cmd.OutOrStdout()}
}

func commandCtx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), durationFlag(cmd, "command-timeout"))
}

func stringFlag(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	return v
}

func intFlag(cmd *cobra.Command, name string) int {
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	return v
}

func boolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	return v
}

func durationFlag(cmd *cobra.Command, name string) time.Duration {
	v, err := cmd.Flags().GetDuration(name)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	return v
}
