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

// Package server accepts incoming XMPP connections and negotiates receiving streams over them.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/stream"
	"github.com/ortuman/xmppcore/pkg/transport"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
)

const listenKeepAlive = time.Second * 15

// Option defines a Listener configuration option.
type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithEventQueue sets the queue stream events are posted to.
func WithEventQueue(q *mainloop.EventQueue) Option {
	return func(l *Listener) {
		l.queue = q
	}
}

// WithCredentialProvider sets the provider used to authenticate client streams.
func WithCredentialProvider(provider auth.CredentialProvider) Option {
	return func(l *Listener) {
		l.creds = provider
	}
}

// WithComponentSecrets sets the shared secrets of the components allowed to connect, keyed by domain.
func WithComponentSecrets(secrets map[string]string) Option {
	return func(l *Listener) {
		l.secrets = secrets
	}
}

// WithHandlers sets additional stanza handler providers for every accepted stream.
func WithHandlers(providers ...interface{}) Option {
	return func(l *Listener) {
		l.handlers = providers
	}
}

// WithRouter sets the router stanzas are delivered through between established streams.
func WithRouter(r *Router) Option {
	return func(l *Listener) {
		l.router = r
	}
}

// Listener accepts TCP connections and runs a receiving stream over each of them.
type Listener struct {
	addr     string
	ns       string
	domain   *jid.JID
	stg      *settings.Settings
	creds    auth.CredentialProvider
	secrets  map[string]string
	handlers []interface{}
	router   *Router
	queue    *mainloop.EventQueue
	logger   kitlog.Logger

	ln     net.Listener
	active uint32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	stms map[string]*stream.Stream
}

// NewListener returns a new Listener bound to addr serving domain.
// ns is the default namespace of accepted streams, either jabber:client or jabber:component:accept.
func NewListener(addr, ns, domain string, stg *settings.Settings, opts ...Option) (*Listener, error) {
	if stg == nil {
		stg = settings.Default()
	}
	switch ns {
	case xmpp.ClientNamespace, xmpp.ComponentNamespace:
	default:
		return nil, errors.Errorf("server: unsupported stream namespace %s", ns)
	}
	dj, err := jid.New("", domain, "", false)
	if err != nil {
		return nil, errors.Wrapf(err, "server: invalid domain %s", domain)
	}
	l := &Listener{
		addr:   addr,
		ns:     ns,
		domain: dj,
		stg:    stg,
		logger: kitlog.NewNopLogger(),
		stms:   make(map[string]*stream.Stream),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = kitlog.With(l.logger, "listener", ns, "addr", addr)
	return l, nil
}

// Start starts accepting connections.
func (l *Listener) Start(ctx context.Context) error {
	lc := net.ListenConfig{
		KeepAlive: listenKeepAlive,
	}
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.ctx, l.cancel = context.WithCancel(context.Background())
	atomic.StoreUint32(&l.active, 1)

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.acceptLoop()
	}()
	go func() {
		defer l.wg.Done()
		l.housekeep()
	}()
	level.Info(l.logger).Log("msg", "accepting connections", "bound_addr", ln.Addr().String())
	return nil
}

// Stop stops accepting connections and disconnects every active stream.
// Streams still open once ctx is done are force-closed.
func (l *Listener) Stop(ctx context.Context) error {
	atomic.StoreUint32(&l.active, 0)
	if err := l.ln.Close(); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, stm := range l.Streams() {
		wg.Add(1)
		go func(stm *stream.Stream) {
			defer wg.Done()
			_ = stm.Disconnect(ctx)
		}(stm)
	}
	wg.Wait()

	l.cancel()
	l.wg.Wait()

	level.Info(l.logger).Log("msg", "stopped listener")
	return nil
}

// Addr returns the listener bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Streams returns the currently active streams.
func (l *Listener) Streams() []*stream.Stream {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stms := make([]*stream.Stream, 0, len(l.stms))
	for _, stm := range l.stms {
		stms = append(stms, stm)
	}
	return stms
}

func (l *Listener) acceptLoop() {
	for atomic.LoadUint32(&l.active) == 1 {
		conn, err := l.ln.Accept()
		if err != nil {
			continue
		}
		level.Debug(l.logger).Log("msg", "received incoming connection", "remote_address", conn.RemoteAddr().String())

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	tr := transport.New(l.stg,
		transport.WithLogger(l.logger),
		transport.WithEventQueue(l.queue),
	)
	if err := tr.Attach(conn); err != nil {
		level.Warn(l.logger).Log("msg", "failed to attach connection", "err", err)
		_ = conn.Close()
		return
	}
	var sess *session
	handlers := l.handlers
	if l.router != nil {
		sess = &session{router: l.router}
		handlers = append(append([]interface{}(nil), handlers...), sess)
	}
	stm := stream.New(stream.Receiver, l.ns, l.stg,
		stream.WithLogger(l.logger),
		stream.WithEventQueue(l.queue),
		stream.WithMe(l.domain),
		stream.WithCredentialProvider(l.creds),
		stream.WithComponentSecrets(l.secrets),
		stream.WithHandlers(handlers...),
	)
	if sess != nil {
		sess.stm = stm
	}
	if err := stm.Accept(tr); err != nil {
		level.Warn(l.logger).Log("msg", "failed to accept stream", "err", err)
		_ = tr.Close()
		return
	}
	l.register(stm)
	defer l.unregister(stm)

	if l.router != nil {
		go l.router.track(stm)
	}
	if err := tr.RunThreaded(l.ctx); err != nil {
		level.Debug(l.logger).Log("msg", "stream transport closed", "stream", stm.LogID(), "err", err)
	}
}

func (l *Listener) housekeep() {
	tc := time.NewTicker(l.stg.HousekeepingInterval)
	defer tc.Stop()

	for {
		select {
		case <-tc.C:
			for _, stm := range l.Streams() {
				_, _ = stm.Expire()
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Listener) register(stm *stream.Stream) {
	l.mu.Lock()
	l.stms[stm.LogID()] = stm
	n := len(l.stms)
	l.mu.Unlock()

	reportActiveStreams(l.ns, n)
}

func (l *Listener) unregister(stm *stream.Stream) {
	l.mu.Lock()
	delete(l.stms, stm.LogID())
	n := len(l.stms)
	l.mu.Unlock()

	reportActiveStreams(l.ns, n)
}
