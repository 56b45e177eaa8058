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

// Package client provides a connecting XMPP client built on top of an initiating stream.
package client

import (
	"context"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackal-xmpp/sonar"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/stream"
	"github.com/ortuman/xmppcore/pkg/transport"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Option defines a Client configuration option.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithEventQueue sets the queue stream events are posted to.
// When running threaded the client drains it by itself.
func WithEventQueue(q *mainloop.EventQueue) Option {
	return func(c *Client) {
		c.queue = q
	}
}

// WithHandlers sets the stanza handler providers of every client stream.
func WithHandlers(providers ...interface{}) Option {
	return func(c *Client) {
		c.handlers = providers
	}
}

// WithDialer sets the function used to open transport connections.
func WithDialer(fn transport.DialFunc) Option {
	return func(c *Client) {
		c.dialFn = fn
	}
}

// WithNamespace sets the stream default namespace. Defaults to jabber:client.
func WithNamespace(ns string) Option {
	return func(c *Client) {
		c.ns = ns
	}
}

// WithBreakerSettings sets the circuit breaker guarding connection attempts.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.cbSettings = st
	}
}

// Client represents an XMPP client.
//
// Every call to Connect creates a new initiating stream. Streams are driven either
// by a poll loop (Run) or by a dedicated reader goroutine (RunThreaded).
type Client struct {
	me         *jid.JID
	password   string
	ns         string
	stg        *settings.Settings
	logger     kitlog.Logger
	queue      *mainloop.EventQueue
	handlers   []interface{}
	dialFn     transport.DialFunc
	jids       *jid.Cache
	cbSettings gobreaker.Settings
	cb         *gobreaker.TwoStepCircuitBreaker

	mu  sync.RWMutex
	stm *stream.Stream
	tr  *transport.TCP
}

// New returns a new Client identified by me. A nil settings value means the factory defaults.
func New(me *jid.JID, password string, stg *settings.Settings, opts ...Option) *Client {
	if stg == nil {
		stg = settings.Default()
	}
	c := &Client{
		me:       me,
		password: password,
		ns:       xmpp.ClientNamespace,
		stg:      stg,
		logger:   kitlog.NewNopLogger(),
		cbSettings: gobreaker.Settings{
			Name: "connect",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queue == nil {
		c.queue = mainloop.NewEventQueue(nil, c.logger)
	}
	c.jids = jid.NewCache(stg.JIDCacheSize)
	c.cbSettings.OnStateChange = func(name string, from, to gobreaker.State) {
		level.Info(c.logger).Log("msg", "connect breaker state changed", "from", from.String(), "to", to.String())
	}
	c.cb = gobreaker.NewTwoStepCircuitBreaker(c.cbSettings)
	return c
}

// Me returns the client address. Once a resource has been bound it returns the full address.
func (c *Client) Me() *jid.JID {
	if stm := c.Stream(); stm != nil && stm.Me() != nil {
		return stm.Me()
	}
	return c.me
}

// EventQueue returns the queue stream events are posted to.
func (c *Client) EventQueue() *mainloop.EventQueue {
	return c.queue
}

// Stream returns the current client stream, if any.
func (c *Client) Stream() *stream.Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stm
}

// Connect starts a new connection attempt.
//
// The attempt is abandoned if ctx is done before the stream gets established.
// Consecutive failed attempts open the connect circuit breaker, in which case
// gobreaker.ErrOpenState is returned until it half-opens again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stm != nil && !isDone(c.stm) {
		return stream.ErrAlreadyConnected
	}
	doneFn, err := c.cb.Allow()
	if err != nil {
		return errors.Wrap(err, "client: connect")
	}
	stm, tr := c.newStream()
	if err := stm.Connect(); err != nil {
		doneFn(false)
		return err
	}
	c.stm, c.tr = stm, tr

	go watchAttempt(ctx, stm, doneFn)
	return nil
}

// WaitEstablished blocks until the current stream gets established, fails or ctx is done.
func (c *Client) WaitEstablished(ctx context.Context) error {
	stm := c.Stream()
	if stm == nil {
		return stream.ErrNotConnected
	}
	select {
	case <-stm.Established():
		return nil
	default:
	}
	select {
	case <-stm.Established():
		return nil
	case <-stm.Done():
		if err := stm.Err(); err != nil {
			return err
		}
		return stream.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the current stream with a poll loop until it gets closed or ctx is done.
// Pending IQ requests are expired on every housekeeping tick.
func (c *Client) Run(ctx context.Context) error {
	stm, tr := c.current()
	if stm == nil {
		return stream.ErrNotConnected
	}
	l, err := mainloop.NewPollLoop(c.queue, c.logger)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	subID := c.queue.Subscribe(event.StreamDisconnected, func(_ context.Context, ev sonar.Event) error {
		if ev.Sender() == stm {
			l.Quit()
		}
		return nil
	})
	defer c.queue.Unsubscribe(subID)

	l.AddHandler(tr)
	l.AddTimeoutHandler(c.stg.HousekeepingInterval, true, func() {
		c.expire(stm)
	})
	if err := l.Loop(ctx); err != nil {
		_ = stm.Close()
		c.queue.Drain(context.Background())
		return err
	}
	return stm.Err()
}

// RunThreaded drives the current stream on the calling goroutine until it gets closed or ctx is done.
// The client event queue is drained concurrently.
func (c *Client) RunThreaded(ctx context.Context) error {
	stm, tr := c.current()
	if stm == nil {
		return stream.ErrNotConnected
	}
	runCtx, cancel := context.WithCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		c.housekeep(runCtx, stm)
		return nil
	})
	g.Go(func() error {
		_ = c.queue.Run(runCtx)
		return nil
	})
	err := tr.RunThreaded(ctx)

	cancel()
	_ = g.Wait()
	c.queue.Drain(context.Background())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}
	return stm.Err()
}

// Disconnect gracefully closes the current stream.
func (c *Client) Disconnect(ctx context.Context) error {
	stm := c.Stream()
	if stm == nil {
		return nil
	}
	return stm.Disconnect(ctx)
}

// Send sends a stanza over the current stream.
func (c *Client) Send(ctx context.Context, stanza xmpp.Stanza) error {
	stm := c.Stream()
	if stm == nil {
		return stream.ErrNotConnected
	}
	return stm.SendElement(ctx, stanza.AsElement())
}

// SendIQ sends an IQ request over the current stream registering its response handlers.
func (c *Client) SendIQ(ctx context.Context, iq *xmpp.IQ, onResult, onError processor.ResponseFunc, onTimeout processor.TimeoutFunc, timeout time.Duration) error {
	stm := c.Stream()
	if stm == nil {
		return stream.ErrNotConnected
	}
	return stm.SendIQ(ctx, iq, onResult, onError, onTimeout, timeout)
}

func (c *Client) newStream() (*stream.Stream, *transport.TCP) {
	trOpts := []transport.Option{
		transport.WithLogger(c.logger),
		transport.WithEventQueue(c.queue),
	}
	if c.dialFn != nil {
		trOpts = append(trOpts, transport.WithDialer(c.dialFn))
	}
	tr := transport.New(c.stg, trOpts...)

	stm := stream.New(stream.Initiator, c.ns, c.stg,
		stream.WithLogger(c.logger),
		stream.WithEventQueue(c.queue),
		stream.WithTransport(tr),
		stream.WithMe(c.me),
		stream.WithPassword(c.password),
		stream.WithHandlers(c.handlers...),
		stream.WithJIDCache(c.jids),
	)
	return stm, tr
}

func (c *Client) current() (*stream.Stream, *transport.TCP) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stm, c.tr
}

func (c *Client) housekeep(ctx context.Context, stm *stream.Stream) {
	tc := time.NewTicker(c.stg.HousekeepingInterval)
	defer tc.Stop()

	for {
		select {
		case <-tc.C:
			c.expire(stm)
		case <-stm.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) expire(stm *stream.Stream) {
	_, _ = stm.Expire()
}

func watchAttempt(ctx context.Context, stm *stream.Stream, doneFn func(success bool)) {
	select {
	case <-stm.Established():
		doneFn(true)
	case <-stm.Done():
		doneFn(false)
	case <-ctx.Done():
		doneFn(false)
		_ = stm.Close()
	}
}

func isDone(stm *stream.Stream) bool {
	select {
	case <-stm.Done():
		return true
	default:
		return false
	}
}
