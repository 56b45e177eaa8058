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

// Package processor routes incoming stanzas to registered handlers and correlates IQ responses.
package processor

import (
	"context"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/expdict"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
)

const defaultJIDCacheSize = 256

// Sender is the sink of the stanzas produced by the processor.
type Sender interface {
	SendElement(ctx context.Context, elem *xmpp.Element) error
}

// ResponseFunc processes an IQ response.
type ResponseFunc func(ctx context.Context, response *xmpp.IQ) Result

// TimeoutFunc is invoked when no response arrived in time for request.
type TimeoutFunc func(request *xmpp.IQ)

type responseKey struct {
	id   string
	peer string
}

type responseHandlers struct {
	request   *xmpp.IQ
	onResult  ResponseFunc
	onError   ResponseFunc
	onTimeout TimeoutFunc
}

// Option defines Processor option type.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithIQResponseFallback sets whether an IQ response may match a request registered without a peer address.
func WithIQResponseFallback(fallback bool) Option {
	return func(p *Processor) {
		p.fallback = fallback
	}
}

// WithDefaultTimeout sets the timeout applied to IQ requests registered with a zero timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		p.defaultTimeout = timeout
	}
}

// WithJIDCache sets the cache used to parse received and request addresses.
func WithJIDCache(cache *jid.Cache) Option {
	return func(p *Processor) {
		p.jids = cache
	}
}

// WithClock sets the time source used for IQ response deadlines.
func WithClock(nowFn func() time.Time) Option {
	return func(p *Processor) {
		p.nowFn = nowFn
	}
}

// Processor dispatches stanzas received on a single stream.
type Processor struct {
	sender         Sender
	logger         kitlog.Logger
	fallback       bool
	defaultTimeout time.Duration
	nowFn          func() time.Time
	jids           *jid.Cache

	mu                sync.RWMutex
	preAuth           *registry
	postAuth          *registry
	peerAuthenticated bool
	me                *jid.JID
	peer              *jid.JID

	pending *expdict.Dict[responseKey, *responseHandlers]
}

// New returns a new initialized Processor instance.
func New(sender Sender, opts ...Option) *Processor {
	p := &Processor{
		sender:         sender,
		logger:         kitlog.NewNopLogger(),
		fallback:       true,
		defaultTimeout: expdict.DefaultTimeout,
		nowFn:          time.Now,
		preAuth:        newRegistry(),
		postAuth:       newRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.jids == nil {
		p.jids = jid.NewCache(defaultJIDCacheSize)
	}
	p.pending = expdict.New[responseKey, *responseHandlers](
		expdict.WithDefaultTimeout(p.defaultTimeout),
		expdict.WithClock(p.nowFn),
	)
	return p
}

// SetupHandlers replaces the handler registries with the handlers exposed by providers.
// A provider may implement any of IQHandlerProvider, MessageHandlerProvider and PresenceHandlerProvider.
func (p *Processor) SetupHandlers(providers ...interface{}) {
	pre, post := buildRegistries(providers)

	p.mu.Lock()
	p.preAuth, p.postAuth = pre, post
	p.mu.Unlock()
}

// SetPeerAuthenticated switches the active handler set.
func (p *Processor) SetPeerAuthenticated(authenticated bool) {
	p.mu.Lock()
	p.peerAuthenticated = authenticated
	p.mu.Unlock()
}

// PeerAuthenticated reports whether the post-auth handler set is active.
func (p *Processor) PeerAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peerAuthenticated
}

// SetMe sets the local stream address.
func (p *Processor) SetMe(j *jid.JID) {
	p.mu.Lock()
	p.me = j
	p.mu.Unlock()
}

// SetPeer sets the remote stream address.
func (p *Processor) SetPeer(j *jid.JID) {
	p.mu.Lock()
	p.peer = j
	p.mu.Unlock()
}

// ProcessElement turns a received top level element into a stanza and dispatches it.
// Elements that cannot be turned into stanzas are answered with a stanza error.
func (p *Processor) ProcessElement(ctx context.Context, elem *xmpp.Element, ns string) error {
	stanza, err := xmpp.NewStanzaFromElement(elem, ns, false, p.jids)
	if err != nil {
		var stanzaErr *xmpp.StanzaError
		if !errors.As(err, &stanzaErr) {
			return err
		}
		level.Debug(p.logger).Log("msg", "rejected malformed stanza", "name", elem.Name(), "err", err)
		reportIncomingStanza(elem.Name(), elem.Type(), droppedOutcome, 0)

		if rs := xmpp.MakeErrorElement(elem, stanzaErr); rs != nil {
			return p.sender.SendElement(ctx, rs)
		}
		return nil
	}
	return p.ProcessStanza(ctx, stanza)
}

// ProcessStanza dispatches stanza to the active handlers.
func (p *Processor) ProcessStanza(ctx context.Context, stanza xmpp.Stanza) error {
	switch st := stanza.(type) {
	case *xmpp.IQ:
		if st.IsRequest() {
			return p.processIQRequest(ctx, st)
		}
		return p.processIQResponse(ctx, st)

	case *xmpp.Message:
		return p.processMessage(ctx, st)

	case *xmpp.Presence:
		return p.processPresence(ctx, st)
	}
	level.Debug(p.logger).Log("msg", "dropped unsupported stanza", "name", stanza.Name())
	reportIncomingStanza(stanza.Name(), stanza.Type(), droppedOutcome, 0)
	return nil
}

// SetResponseHandlers registers the handlers to be invoked on the response to request.
// A zero timeout means the processor default timeout.
func (p *Processor) SetResponseHandlers(request *xmpp.IQ, onResult, onError ResponseFunc, onTimeout TimeoutFunc, timeout time.Duration) {
	k := p.requestKey(request)
	p.pending.Set(k, &responseHandlers{
		request:   request,
		onResult:  onResult,
		onError:   onError,
		onTimeout: onTimeout,
	}, timeout, p.onResponseTimeout)
}

// SendIQ registers the response handlers for request and sends it.
func (p *Processor) SendIQ(ctx context.Context, request *xmpp.IQ, onResult, onError ResponseFunc, onTimeout TimeoutFunc, timeout time.Duration) error {
	p.SetResponseHandlers(request, onResult, onError, onTimeout, timeout)
	if err := p.sender.SendElement(ctx, request.AsElement()); err != nil {
		_, _ = p.pending.Pop(p.requestKey(request))
		return err
	}
	return nil
}

// requestKey returns the key a response to request is correlated by.
// Responses carry the normalized sender address, so the destination is normalized as well.
func (p *Processor) requestKey(request *xmpp.IQ) responseKey {
	k := responseKey{id: request.ID()}
	if to := request.To(); len(to) > 0 {
		k.peer = to
		if j, err := p.jids.Parse(to); err == nil {
			k.peer = j.String()
		}
	}
	return k
}

// Expire fires the timeout handlers of every overdue IQ request.
// It returns the time left until the next request deadline.
func (p *Processor) Expire() (time.Duration, bool) {
	return p.pending.Expire()
}

// PendingRequests returns the number of IQ requests awaiting a response.
func (p *Processor) PendingRequests() int {
	return p.pending.Len()
}

// Clear drops every pending IQ request without firing its handlers.
func (p *Processor) Clear() {
	p.pending.Clear()
}

// Abort drops every pending IQ request firing its timeout handler.
func (p *Processor) Abort() {
	p.pending.Abort()
}

func (p *Processor) activeRegistry() *registry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.peerAuthenticated {
		return p.postAuth
	}
	return p.preAuth
}

func (p *Processor) processIQRequest(ctx context.Context, iq *xmpp.IQ) error {
	t0 := time.Now()

	var name, ns string
	if q := iq.Query(); q != nil {
		name, ns = q.Name(), q.Namespace()
		if len(ns) == 0 {
			ns = iq.Namespace()
		}
	}
	for _, h := range p.activeRegistry().iqHandlers(iq.Type(), name, ns) {
		res := h(ctx, iq)
		if !res.IsHandled() {
			continue
		}
		reportIncomingStanza(iq.Name(), iq.Type(), handledOutcome, time.Since(t0).Seconds())
		return p.sendReplies(ctx, res)
	}
	level.Debug(p.logger).Log("msg", "no handler for iq request", "name", name, "namespace", ns)
	reportIncomingStanza(iq.Name(), iq.Type(), unhandledOutcome, time.Since(t0).Seconds())

	return p.sender.SendElement(ctx, iq.MakeErrorResponse(xmpp.ErrFeatureNotImplemented).AsElement())
}

func (p *Processor) processIQResponse(ctx context.Context, iq *xmpp.IQ) error {
	t0 := time.Now()

	var from string
	if iq.FromJID() != nil {
		from = iq.FromJID().String()
	}
	hs, err := p.pending.Pop(responseKey{id: iq.ID(), peer: from})
	if err != nil && len(from) > 0 && p.fallback && p.isFallbackAddress(iq.FromJID()) {
		hs, err = p.pending.Pop(responseKey{id: iq.ID()})
	}
	if err != nil {
		level.Debug(p.logger).Log("msg", "dropped unexpected iq response", "id", iq.ID(), "from", from)
		reportIncomingStanza(iq.Name(), iq.Type(), droppedOutcome, 0)
		return nil
	}
	fn := hs.onResult
	if iq.IsError() {
		fn = hs.onError
	}
	if fn == nil {
		reportIncomingStanza(iq.Name(), iq.Type(), handledOutcome, 0)
		return nil
	}
	res := fn(ctx, iq)
	reportIncomingStanza(iq.Name(), iq.Type(), handledOutcome, time.Since(t0).Seconds())
	return p.sendReplies(ctx, res)
}

// isFallbackAddress reports whether a response coming from j may match a request sent with no destination.
func (p *Processor) isFallbackAddress(j *jid.JID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case j.Equal(p.peer), j.Equal(p.me):
		return true
	case p.me != nil && j.Equal(p.me.ToBareJID()):
		return true
	}
	return false
}

func (p *Processor) processMessage(ctx context.Context, msg *xmpp.Message) error {
	t0 := time.Now()
	reg := p.activeRegistry()

	typ := msg.Type()
	handled, res := runHandlers(ctx, reg.message[typ], msg)
	if !handled && typ != xmpp.NormalType && typ != xmpp.ErrorType {
		handled, res = runHandlers(ctx, reg.message[xmpp.NormalType], msg)
	}
	if !handled {
		level.Debug(p.logger).Log("msg", "dropped unhandled message", "type", typ)
		reportIncomingStanza(msg.Name(), typ, unhandledOutcome, time.Since(t0).Seconds())
		return nil
	}
	reportIncomingStanza(msg.Name(), typ, handledOutcome, time.Since(t0).Seconds())
	return p.sendReplies(ctx, res)
}

func (p *Processor) processPresence(ctx context.Context, presence *xmpp.Presence) error {
	t0 := time.Now()

	typ := presence.Type()
	handled, res := runHandlers(ctx, p.activeRegistry().presence[typ], presence)
	if !handled {
		level.Debug(p.logger).Log("msg", "dropped unhandled presence", "type", typ)
		reportIncomingStanza(presence.Name(), typ, unhandledOutcome, time.Since(t0).Seconds())
		return nil
	}
	reportIncomingStanza(presence.Name(), typ, handledOutcome, time.Since(t0).Seconds())
	return p.sendReplies(ctx, res)
}

func (p *Processor) onResponseTimeout(k responseKey, hs *responseHandlers) {
	level.Debug(p.logger).Log("msg", "iq request timed out", "id", k.id, "peer", k.peer)
	reportIQTimeout()

	if hs.onTimeout != nil {
		hs.onTimeout(hs.request)
	}
}

func (p *Processor) sendReplies(ctx context.Context, res Result) error {
	for _, stanza := range res.Replies() {
		if err := p.sender.SendElement(ctx, stanza.AsElement()); err != nil {
			return err
		}
	}
	return nil
}

func runHandlers(ctx context.Context, handlers []StanzaHandlerFunc, stanza xmpp.Stanza) (bool, Result) {
	for _, h := range handlers {
		if res := h(ctx, stanza); res.IsHandled() {
			return true, res
		}
	}
	return false, Unhandled()
}
