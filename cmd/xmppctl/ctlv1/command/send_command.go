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

package command

import (
	"fmt"
	"strings"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/spf13/cobra"
)

var messageType string

// NewSendCommand returns the cobra command for "send".
func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <recipient> <body>",
		Short: "Sends a message",
		Run:   sendCommandFunc,
	}
	cmd.Flags().StringVar(&messageType, "type", xmpp.ChatType, "message type")
	return cmd
}

// sendCommandFunc executes the "send" command.
func sendCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		ExitWithError(ExitBadArgs, fmt.Errorf("send command requires recipient and body as its arguments"))
	}
	to, err := jid.NewWithString(args[0], false)
	if err != nil {
		ExitWithError(ExitInvalidInput, err)
	}
	msg, err := xmpp.NewMessageType(xmpp.NewID(), messageType)
	if err != nil {
		ExitWithError(ExitInvalidInput, err)
	}
	msg.SetToJID(to)
	msg.SetBody(strings.Join(args[1:], " "))

	c := mustClientFromCmd(cmd)
	defer disconnect(c)

	ctx, cancel := commandCtx(cmd)
	defer cancel()

	if err := c.Send(ctx, msg); err != nil {
		ExitWithError(ExitError, err)
	}
	display.MessageSent(to.String())
}
