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

package server

import (
	"context"

	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/xmpp"
)

// Ping answers XMPP ping (XEP-0199) requests addressed to the server.
type Ping struct{}

// IQHandlers satisfies processor.IQHandlerProvider interface.
func (Ping) IQHandlers() []processor.IQHandler {
	return []processor.IQHandler{
		{
			Type:      xmpp.GetType,
			Name:      "ping",
			Namespace: xmpp.PingNamespace,
			Usage:     processor.PostAuth,
			Handler: func(_ context.Context, iq *xmpp.IQ) processor.Result {
				return processor.Reply(iq.MakeResultResponse())
			},
		},
	}
}
