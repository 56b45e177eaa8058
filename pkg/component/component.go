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

// Package component implements the connecting side of an external server component (XEP-0114).
package component

import (
	kitlog "github.com/go-kit/log"
	"github.com/ortuman/xmppcore/pkg/client"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/transport"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
)

type options struct {
	stg       *settings.Settings
	clientOps []client.Option
}

// Option defines a Component configuration option.
type Option func(*options)

// WithSettings sets the stream settings. Server and port are always overridden by New arguments.
func WithSettings(stg *settings.Settings) Option {
	return func(o *options) {
		o.stg = stg
	}
}

// WithLogger sets the component logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(o *options) {
		o.clientOps = append(o.clientOps, client.WithLogger(logger))
	}
}

// WithEventQueue sets the queue stream events are posted to.
func WithEventQueue(q *mainloop.EventQueue) Option {
	return func(o *options) {
		o.clientOps = append(o.clientOps, client.WithEventQueue(q))
	}
}

// WithHandlers sets the stanza handler providers of the component stream.
func WithHandlers(providers ...interface{}) Option {
	return func(o *options) {
		o.clientOps = append(o.clientOps, client.WithHandlers(providers...))
	}
}

// WithDialer sets the function used to open the server connection.
func WithDialer(fn transport.DialFunc) Option {
	return func(o *options) {
		o.clientOps = append(o.clientOps, client.WithDialer(fn))
	}
}

// Component is an external component connection.
// Once established, it is used the same way as a client.
type Component struct {
	*client.Client
	name string
}

// New returns a new Component named name authenticating with secret against server:port.
// A zero port means the configured component port.
func New(name, secret, server string, port int, opts ...Option) (*Component, error) {
	me, err := jid.New("", name, "", false)
	if err != nil {
		return nil, errors.Wrapf(err, "component: invalid name %s", name)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var stg *settings.Settings
	if o.stg != nil {
		stg = o.stg.Copy()
	} else {
		stg = settings.Default()
	}
	stg.Server = server
	stg.Port = port

	cl := client.New(me, secret, stg, append(o.clientOps, client.WithNamespace(xmpp.ComponentNamespace))...)
	return &Component{Client: cl, name: me.Domain()}, nil
}

// Name returns the component domain.
func (c *Component) Name() string {
	return c.name
}
