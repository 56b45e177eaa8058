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

// copied from https://github.com/etcd-io/etcd/blob/master/etcdctl/ctlv3/ctl.go

package ctlv1

import (
	"github.com/ortuman/xmppcore/cmd/xmppctl/ctlv1/command"
	"github.com/spf13/cobra"
)

const (
	cliName        = "xmppctl"
	cliDescription = "A simple command line XMPP client."
)

var (
	globalFlags = command.GlobalFlags{}
)

var (
	rootCmd = &cobra.Command{
		Use:        cliName,
		Short:      cliDescription,
		SuggestFor: []string{"xmppctl"},
	}
)

func init() {
	command.RegisterGlobalFlags(rootCmd, &globalFlags)

	rootCmd.AddCommand(
		command.NewSendCommand(),
		command.NewPingCommand(),
		command.NewUserCommand(),
		command.NewVersionCommand(),
	)
}

// Start status ctl command.
func Start() error {
	// Make help just show the usage
	rootCmd.SetHelpTemplate(`{{.UsageString}}`)
	return rootCmd.Execute()
}

// MustStart is like Start but exiting in case an error occurs.
func MustStart() {
	if err := Start(); err != nil {
		command.ExitWithError(command.ExitError, err)
	}
}

func init() {
	cobra.EnablePrefixMatching = true
}
