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
	"context"
	"errors"
	"time"

	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/spf13/cobra"
)

var errPingTimeout = errors.New("timed out")

// NewPingCommand returns the cobra command for "ping".
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [target]",
		Short: "Pings an entity, defaults to the account server",
		Run:   pingCommandFunc,
	}
}

// pingCommandFunc executes the "ping" command.
func pingCommandFunc(cmd *cobra.Command, args []string) {
	c := mustClientFromCmd(cmd)
	defer disconnect(c)

	target, _ := jid.New("", c.Me().Domain(), "", true)
	if len(args) > 0 {
		var err error
		target, err = jid.NewWithString(args[0], false)
		if err != nil {
			ExitWithError(ExitInvalidInput, err)
		}
	}
	iq, err := xmpp.NewIQType(xmpp.NewID(), xmpp.GetType)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	iq.SetToJID(target)
	iq.SetQuery(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	ctx, cancel := commandCtx(cmd)
	defer cancel()

	type outcome struct {
		reason string
		err    error
	}
	doneCh := make(chan outcome, 1)

	start := time.Now()
	err = c.SendIQ(ctx, iq,
		func(_ context.Context, _ *xmpp.IQ) processor.Result {
			doneCh <- outcome{}
			return processor.Handled()
		},
		func(_ context.Context, response *xmpp.IQ) processor.Result {
			reason := "unknown error"
			if errElem := response.Error(); errElem != nil {
				reason = xmpp.NewStanzaErrorFromElement(errElem).Reason()
			}
			doneCh <- outcome{reason: reason}
			return processor.Handled()
		},
		func(_ *xmpp.IQ) {
			doneCh <- outcome{err: errPingTimeout}
		},
		durationFlag(cmd, "command-timeout"),
	)
	if err != nil {
		ExitWithError(ExitError, err)
	}
	var out outcome
	select {
	case out = <-doneCh:
	case <-ctx.Done():
		out.err = errPingTimeout
	}
	switch {
	case out.err != nil:
		display.PingFailed(target.String(), out.err.Error())
		ExitWithError(ExitTimeout, out.err)
	case len(out.reason) > 0:
		display.PingFailed(target.String(), out.reason)
	default:
		display.Pong(target.String(), time.Since(start))
	}
}
