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

// Package stream implements an XMPP stream negotiated over a byte transport.
//
// A Stream drives the stream header exchange, feature negotiation (StartTLS, SASL,
// legacy jabber:iq:auth, resource binding and the external component handshake)
// and hands every received stanza to its processor once the stream is established.
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	xmppparser "github.com/ortuman/xmppcore/pkg/parser"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/transport"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/ortuman/xmppcore/pkg/xmpp/streamerror"
	"github.com/pkg/errors"
	"mellium.im/sasl"
)

const envLogStanzas = "XMPPCORE_LOG_STANZAS"

var logStanzas bool

func init() {
	logStanzas = os.Getenv(envLogStanzas) == "on"
}

// Transport is the byte channel a Stream runs on.
// It is satisfied by *transport.TCP.
type Transport interface {
	SetTarget(target transport.Target)
	Connect(service, host string, port int) error
	Send(data []byte) error
	StartTLS(cfg *tls.Config, asClient bool) error
	TLSConnectionState() (tls.ConnectionState, bool)
	Shutdown()
	Close() error
	IsClosed() bool
}

// Option defines a Stream configuration option.
type Option func(*Stream)

// WithLogger sets the stream logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithEventQueue sets the queue stream events are posted to.
func WithEventQueue(q *mainloop.EventQueue) Option {
	return func(s *Stream) {
		s.queue = q
	}
}

// WithTransport sets the transport used by an initiating stream.
// A TCP transport is created when none is given.
func WithTransport(tr Transport) Option {
	return func(s *Stream) {
		s.tr = tr
	}
}

// WithMe sets the local stream address.
// Initiating client streams authenticate as its node, receiving streams serve its domain.
func WithMe(me *jid.JID) Option {
	return func(s *Stream) {
		s.me = me
	}
}

// WithPassword sets the password used to authenticate an initiating stream.
// For component streams it is the shared handshake secret.
func WithPassword(password string) Option {
	return func(s *Stream) {
		s.password = password
	}
}

// WithCredentialProvider sets the provider used by a receiving stream to authenticate peers.
func WithCredentialProvider(provider auth.CredentialProvider) Option {
	return func(s *Stream) {
		s.creds = provider
	}
}

// WithComponentSecrets sets the handshake secrets accepted by a receiving component stream,
// keyed by component address.
func WithComponentSecrets(secrets map[string]string) Option {
	return func(s *Stream) {
		s.secrets = secrets
	}
}

// WithHandlers sets the stanza handler providers.
// A provider may implement any of processor.IQHandlerProvider, processor.MessageHandlerProvider
// and processor.PresenceHandlerProvider.
func WithHandlers(providers ...interface{}) Option {
	return func(s *Stream) {
		s.handlers = append(s.handlers, providers...)
	}
}

// WithJIDCache sets the cache used to parse received addresses.
func WithJIDCache(cache *jid.Cache) Option {
	return func(s *Stream) {
		s.jids = cache
	}
}

// Stream represents an XMPP stream, either initiated or received.
type Stream struct {
	id       string
	role     Role
	ns       string
	stg      *settings.Settings
	logger   kitlog.Logger
	queue    *mainloop.EventQueue
	jids     *jid.Cache
	creds    auth.CredentialProvider
	password string
	secrets  map[string]string
	handlers []interface{}
	proc     *processor.Processor

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	doneOnce    sync.Once
	established chan struct{}
	estOnce     sync.Once

	mu            sync.RWMutex
	tr            Transport
	state         State
	flags         AuthFlags
	used          bool
	connecting    bool
	disconnecting bool
	closed        bool
	reader        *xmppparser.Reader
	headers       int
	headerSent    bool
	footerSent    bool
	streamID      string
	me            *jid.JID
	peer          *jid.JID
	version       Version
	language      string
	features      *xmpp.Element
	tlsActive     bool
	tlsState      tls.ConnectionState
	err           error

	authr      auth.Authenticator
	saslClient *sasl.Negotiator
	saslMech   string
	saslMore   bool
}

// New returns a new Stream of the given role using ns as default namespace
// (jabber:client, jabber:server or jabber:component:accept).
func New(role Role, ns string, stg *settings.Settings, opts ...Option) *Stream {
	if stg == nil {
		stg = settings.Default()
	}
	s := &Stream{
		id:          uuid.New().String(),
		role:        role,
		ns:          ns,
		stg:         stg,
		logger:      kitlog.NewNopLogger(),
		done:        make(chan struct{}),
		established: make(chan struct{}),
		language:    stg.Language,
		version:     currentVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = kitlog.With(s.logger, "stream", s.id, "role", role.String())
	if s.jids == nil {
		s.jids = jid.NewCache(stg.JIDCacheSize)
	}
	if s.tr == nil && role == Initiator {
		s.tr = transport.New(stg,
			transport.WithID(s.id),
			transport.WithLogger(s.logger),
			transport.WithEventQueue(s.queue),
		)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.proc = processor.New(s,
		processor.WithLogger(s.logger),
		processor.WithIQResponseFallback(stg.IQResponseFallback),
		processor.WithDefaultTimeout(stg.DefaultStanzaTimeout),
		processor.WithJIDCache(s.jids),
	)
	providers := s.handlers
	if role == Receiver {
		providers = append([]interface{}{&negotiator{s: s}}, providers...)
	}
	s.proc.SetupHandlers(providers...)
	s.proc.SetMe(s.me)
	return s
}

// LogID returns the identifier used to tag the stream log lines and events.
func (s *Stream) LogID() string {
	return s.id
}

// Role returns the stream role.
func (s *Stream) Role() Role {
	return s.role
}

// Namespace returns the stream default namespace.
func (s *Stream) Namespace() string {
	return s.ns
}

// Settings returns the stream settings.
func (s *Stream) Settings() *settings.Settings {
	return s.stg
}

// Processor returns the stream stanza processor.
func (s *Stream) Processor() *processor.Processor {
	return s.proc
}

// ID returns the stream identifier assigned by the receiving entity.
func (s *Stream) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

// State returns the current stream state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Me returns the local stream address.
func (s *Stream) Me() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// Peer returns the remote stream address.
func (s *Stream) Peer() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

// Language returns the negotiated stream language.
func (s *Stream) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// Version returns the negotiated protocol version.
func (s *Stream) Version() Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Features returns the last stream features received or sent.
func (s *Stream) Features() *xmpp.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.features
}

// IsAuthenticated reports whether the local entity has been authenticated.
func (s *Stream) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags&Authenticated != 0
}

// IsPeerAuthenticated reports whether the remote entity has been authenticated.
func (s *Stream) IsPeerAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags&PeerAuthenticated != 0
}

// TLSActive reports whether the stream runs over TLS.
func (s *Stream) TLSActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tlsActive
}

// Transport returns the stream transport.
func (s *Stream) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tr
}

// Err returns the error that terminated the stream, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done returns a channel closed once the stream transport has been closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Established returns a channel closed once the stream is ready to exchange stanzas.
func (s *Stream) Established() <-chan struct{} {
	return s.established
}

// Connect starts connecting an initiating stream.
// Connection progress is driven by the transport and reported through stream events.
func (s *Stream) Connect() error {
	if s.role != Initiator {
		return errors.New("stream: only initiating streams can connect")
	}
	s.mu.Lock()
	switch {
	case s.connecting:
		s.mu.Unlock()
		return ErrInProgress
	case s.used:
		s.mu.Unlock()
		return ErrAlreadyConnected
	case s.me == nil:
		s.mu.Unlock()
		return errors.New("stream: local address not set")
	}
	s.used = true
	s.connecting = true
	s.state = StateConnecting
	s.reader = s.newReader()
	s.peer = s.initialPeerLocked()
	tr := s.tr
	service, host, port := s.connectTargetLocked()
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "connecting", "service", service, "host", host, "port", port)

	tr.SetTarget(s)
	if err := tr.Connect(service, host, port); err != nil {
		s.mu.Lock()
		s.connecting = false
		s.used = false
		s.state = StateDisconnected
		s.reader = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// Accept attaches an accepted connection transport to a receiving stream.
func (s *Stream) Accept(tr Transport) error {
	if s.role != Receiver {
		return errors.New("stream: only receiving streams can accept")
	}
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.used = true
	s.tr = tr
	s.state = StateConnecting
	s.reader = s.newReader()
	s.mu.Unlock()

	tr.SetTarget(s)
	return nil
}

// Send sends a stanza over the stream.
func (s *Stream) Send(stanza xmpp.Stanza) error {
	return s.SendElement(s.ctx, stanza.AsElement())
}

// SendElement sends a top level element over the stream.
func (s *Stream) SendElement(_ context.Context, elem *xmpp.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.headerSent || s.footerSent || s.state.IsTerminal() {
		return ErrNotConnected
	}
	return s.writeLocked(elem)
}

// SendIQ sends an IQ request registering the handlers to be invoked on its response.
// A zero timeout means the default stanza timeout.
func (s *Stream) SendIQ(ctx context.Context, iq *xmpp.IQ, onResult, onError processor.ResponseFunc, onTimeout processor.TimeoutFunc, timeout time.Duration) error {
	return s.proc.SendIQ(ctx, iq, onResult, onError, onTimeout, timeout)
}

// Expire fires the timeout handlers of overdue IQ requests.
// It returns the time left until the next request deadline.
func (s *Stream) Expire() (time.Duration, bool) {
	return s.proc.Expire()
}

// Disconnect gracefully closes the stream sending the closing stream tag and
// waiting for the peer one. The transport is force-closed once the configured
// disconnect timeout elapses or ctx is done.
//
// When the transport is driven by a poll loop Disconnect must not be called from the loop goroutine.
func (s *Stream) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.disconnecting:
		s.mu.Unlock()
		return ErrInProgress
	case s.tr == nil || !s.used:
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
	}
	s.disconnecting = true
	if s.headerSent && !s.footerSent {
		s.writeFooterLocked()
	}
	headerSent := s.headerSent
	tr := s.tr
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "disconnecting")

	if !headerSent {
		_ = tr.Close()
		return nil
	}
	tm := time.AfterFunc(s.stg.DisconnectTimeout, func() {
		level.Debug(s.logger).Log("msg", "disconnect timeout, closing transport")
		_ = tr.Close()
	})
	defer tm.Stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		_ = tr.Close()
		return ctx.Err()
	}
}

// Close force-closes the stream transport.
func (s *Stream) Close() error {
	s.mu.RLock()
	tr := s.tr
	s.mu.RUnlock()
	if tr == nil {
		return nil
	}
	return tr.Close()
}

// TransportConnected satisfies transport.Target interface.
func (s *Stream) TransportConnected() {
	s.mu.Lock()
	s.connecting = false
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	err := s.sendHeaderLocked()
	s.advanceLocked(StateConnected)
	s.mu.Unlock()

	if err != nil {
		s.fail(err, nil)
		return
	}
	level.Debug(s.logger).Log("msg", "transport connected")
}

// DataReceived satisfies transport.Target interface.
func (s *Stream) DataReceived(data []byte) {
	if logStanzas {
		level.Debug(s.logger).Log("msg", fmt.Sprintf("RCV(%s): %s", s.id, data))
	}
	s.mu.Lock()
	if s.reader == nil || s.state == StateAborted {
		s.mu.Unlock()
		return
	}
	_ = s.reader.Feed(data)
	s.mu.Unlock()

	s.processInput()
}

// TLSConnected satisfies transport.Target interface.
func (s *Stream) TLSConnected(st tls.ConnectionState) {
	s.mu.Lock()
	s.tlsActive = true
	s.tlsState = st
	s.advanceLocked(StateTLSActive)
	var err error
	if s.role == Initiator {
		err = s.sendHeaderLocked()
	}
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "TLS connected", "version", tlsVersion(st.Version))
	s.postEvent(event.StreamTLSConnected, nil)

	if err != nil {
		s.fail(err, nil)
	}
}

// TransportClosed satisfies transport.Target interface.
func (s *Stream) TransportClosed(err error) {
	s.mu.Lock()
	if s.state != StateAborted {
		s.state = StateDisconnected
	}
	if err != nil && s.err == nil {
		s.err = err
	}
	s.reader = nil
	s.connecting = false
	s.closed = true
	sErr := s.err
	s.mu.Unlock()

	// requests left unanswered time out right away
	s.proc.Abort()
	s.cancel()

	if sErr != nil {
		level.Info(s.logger).Log("msg", "stream disconnected", "err", sErr)
	} else {
		level.Info(s.logger).Log("msg", "stream disconnected")
	}
	s.postEvent(event.StreamDisconnected, &event.StreamInfo{Err: sErr})
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Stream) processInput() {
	for {
		s.mu.Lock()
		r := s.reader
		if r == nil {
			s.mu.Unlock()
			return
		}
		ev, err := r.Next()
		s.mu.Unlock()

		switch {
		case err == nil:
			break
		case errors.Is(err, xmppparser.ErrNoElement), errors.Is(err, io.EOF):
			return
		case errors.Is(err, xmppparser.ErrTooLargeStanza):
			s.fail(err, streamerror.ErrPolicyViolation)
			return
		default:
			s.fail(err, streamerror.ErrNotWellFormed)
			return
		}
		switch ev.Kind {
		case xmppparser.StreamStart:
			s.handleHeader(ev.Element, ev.Namespace)
		case xmppparser.StreamElement:
			s.handleElement(ev.Element, ev.Namespace)
		case xmppparser.StreamEnd:
			s.handleStreamEnd()
		}
	}
}

func (s *Stream) handleHeader(elem *xmpp.Element, streamNS string) {
	if se := validateHeader(elem, streamNS, s.ns); se != nil {
		s.fail(se, se)
		return
	}
	if s.role == Receiver {
		s.handleReceivedHeader(elem)
		return
	}
	s.handleInitiatedHeader(elem)
}

func (s *Stream) handleReceivedHeader(elem *xmpp.Element) {
	ver, se := checkVersion(elem.Version())
	if se != nil {
		s.fail(se, se)
		return
	}
	var (
		me, from *jid.JID
		err      error
	)
	if to := elem.To(); len(to) > 0 {
		me, err = s.jids.Parse(to)
		if err != nil {
			s.fail(err, streamerror.ErrHostUnknown)
			return
		}
	}
	if f := elem.From(); len(f) > 0 {
		from, err = s.jids.Parse(f)
		if err != nil {
			s.fail(err, streamerror.ErrInvalidFrom)
			return
		}
	}

	s.mu.Lock()
	switch {
	case s.ns == xmpp.ComponentNamespace:
		if me == nil {
			s.mu.Unlock()
			s.fail(errors.New("stream: missing component address"), streamerror.ErrImproperAddressing)
			return
		}
		if _, ok := s.secrets[me.String()]; !ok {
			s.mu.Unlock()
			s.fail(errors.Errorf("stream: unknown component %s", me), streamerror.ErrHostUnknown)
			return
		}
		s.peer = me
		s.me = me

	case me != nil && s.me != nil && me.Domain() != s.me.Domain():
		s.mu.Unlock()
		s.fail(errors.Errorf("stream: unknown host %s", me), streamerror.ErrHostUnknown)
		return

	case me != nil && s.me == nil:
		s.me = me.ToBareJID()

	case s.me == nil:
		s.mu.Unlock()
		s.fail(errors.New("stream: unknown local host"), streamerror.ErrHostUnknown)
		return
	}
	if from != nil && s.flags&PeerAuthenticated == 0 && s.ns != xmpp.ComponentNamespace {
		s.peer = from
	}
	s.version = ver
	s.language = negotiateLanguage(elem.Language(), s.stg.Languages, s.stg.Language)
	s.streamID = uuid.New().String()
	s.headers++
	first := s.headers == 1

	if err := s.sendHeaderLocked(); err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	s.advanceLocked(StateConnected)

	var features *xmpp.Element
	if s.ns != xmpp.ComponentNamespace && !ver.IsLegacy() {
		features = s.buildFeaturesLocked()
		s.features = features
		if err := s.writeLocked(features); err != nil {
			s.mu.Unlock()
			s.fail(err, nil)
			return
		}
		s.advanceLocked(StateFeaturesNegotiated)
	}
	s.proc.SetMe(s.me)
	s.proc.SetPeer(s.peer)
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "stream header received", "version", ver, "lang", s.Language())
	s.postHeaderEvent(first)
}

func (s *Stream) handleInitiatedHeader(elem *xmpp.Element) {
	ver := legacyVersion
	if s.ns != xmpp.ComponentNamespace {
		var se *streamerror.Error
		if ver, se = checkVersion(elem.Version()); se != nil {
			s.fail(se, se)
			return
		}
	}
	var peer *jid.JID
	if f := elem.From(); len(f) > 0 {
		var err error
		if peer, err = s.jids.Parse(f); err != nil {
			s.fail(err, streamerror.ErrInvalidFrom)
			return
		}
	}

	s.mu.Lock()
	s.streamID = elem.ID()
	s.version = ver
	if peer != nil {
		s.peer = peer
	}
	if lang := elem.Language(); len(lang) > 0 {
		s.language = lang
	}
	s.headers++
	first := s.headers == 1
	s.proc.SetPeer(s.peer)
	legacy := s.ns != xmpp.ComponentNamespace && ver.IsLegacy()
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "stream header received", "id", elem.ID(), "version", ver)
	s.postHeaderEvent(first)

	switch {
	case s.ns == xmpp.ComponentNamespace:
		s.startHandshake()

	case legacy && s.stg.LegacyAuth:
		s.startLegacyAuth()

	case legacy:
		s.fail(ErrNoMechanism, streamerror.ErrUnsupportedVersion)
	}
}

func (s *Stream) postHeaderEvent(first bool) {
	if first {
		s.postEvent(event.StreamConnected, nil)
		return
	}
	s.postEvent(event.StreamRestarted, nil)
}

func (s *Stream) handleElement(elem *xmpp.Element, ns string) {
	if logStanzas {
		level.Debug(s.logger).Log("msg", fmt.Sprintf("RCV(%s): %v", s.id, elem))
	}
	reportIncomingElement(s.role, elem.Name())

	switch {
	case ns == xmpp.StreamNamespace && elem.LocalName() == "error":
		s.handleStreamError(elem)

	case ns == xmpp.StreamNamespace && elem.LocalName() == "features":
		if s.role == Receiver {
			s.fail(errors.New("stream: unexpected features"), streamerror.ErrUnsupportedStanzaType)
			return
		}
		s.handleFeatures(elem)

	case ns == xmpp.TLSNamespace:
		s.handleTLSElement(elem)

	case ns == xmpp.SASLNamespace:
		if s.role == Receiver {
			s.handleSASLRequest(elem)
			return
		}
		s.handleSASLResponse(elem)

	case elem.Name() == "handshake" && s.ns == xmpp.ComponentNamespace:
		s.handleHandshake(elem)

	case ns == s.ns && isStanzaName(elem.Name()):
		if s.role == Receiver && s.ns == xmpp.ComponentNamespace && !s.IsPeerAuthenticated() {
			s.fail(errors.New("stream: stanza before handshake"), streamerror.ErrNotAuthorized)
			return
		}
		if err := s.proc.ProcessElement(s.ctx, elem, ns); err != nil {
			level.Warn(s.logger).Log("msg", "failed to process stanza", "name", elem.Name(), "err", err)
		}

	default:
		s.fail(errors.Errorf("stream: unexpected element %s in namespace %s", elem.Name(), ns), streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *Stream) handleStreamError(elem *xmpp.Element) {
	se := streamerror.FromElement(elem)
	reportStreamError(s.role, receivedDirection, se.Reason())

	level.Warn(s.logger).Log("msg", "stream error received", "reason", se.Reason(), "text", se.Text())
	s.postEvent(event.StreamErrorReceived, &event.StreamInfo{Element: elem, Err: se})
	s.fail(se, nil)
}

func (s *Stream) handleStreamEnd() {
	s.mu.Lock()
	if !s.footerSent && s.headerSent {
		s.writeFooterLocked()
	}
	s.reader = nil
	tr := s.tr
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "stream end received")
	tr.Shutdown()
}

// fail terminates the stream because of err, sending se to the peer when not nil.
func (s *Stream) fail(err error, se *streamerror.Error) {
	s.mu.Lock()
	if s.state == StateAborted || s.tr == nil || s.closed {
		s.mu.Unlock()
		return
	}
	if se != nil {
		if !s.headerSent {
			_ = s.sendHeaderLocked()
		}
		if s.headerSent {
			_ = s.writeLocked(se.Element())
			reportStreamError(s.role, sentDirection, se.Reason())
		}
	}
	if s.headerSent && !s.footerSent {
		s.writeFooterLocked()
	}
	s.state = StateAborted
	s.reader = nil
	if s.err == nil {
		s.err = err
	}
	tr := s.tr
	s.mu.Unlock()

	level.Warn(s.logger).Log("msg", "stream aborted", "err", err)
	tr.Shutdown()
}

// restartLocked prepares the stream to receive a new header.
func (s *Stream) restartLocked() {
	var rem []byte
	if s.reader != nil {
		rem = s.reader.Remaining()
	}
	s.reader = s.newReader()
	if len(rem) > 0 {
		_ = s.reader.Feed(rem)
	}
	s.headerSent = false
	s.features = nil
}

func (s *Stream) establish() {
	s.mu.Lock()
	if s.state.IsTerminal() || s.state == StateEstablished {
		s.mu.Unlock()
		return
	}
	s.state = StateEstablished
	if s.role == Initiator {
		s.proc.SetPeerAuthenticated(true)
	}
	s.proc.SetMe(s.me)
	s.proc.SetPeer(s.peer)
	me, peer := s.me, s.peer
	s.mu.Unlock()

	reportEstablished(s.role, s.ns)
	level.Info(s.logger).Log("msg", "stream established", "me", me, "peer", peer)

	s.postEvent(event.StreamAuthorized, nil)
	s.estOnce.Do(func() { close(s.established) })
}

func (s *Stream) sendHeaderLocked() error {
	p := headerParams{
		ns:       s.ns,
		language: s.language,
	}
	if s.ns != xmpp.ComponentNamespace && !s.version.IsLegacy() {
		p.version = currentVersion.String()
	}
	switch s.role {
	case Initiator:
		if s.peer != nil {
			p.to = s.peer.String()
		}
		if s.ns == xmpp.ClientNamespace && s.tlsActive && s.me != nil {
			p.from = s.me.ToBareJID().String()
		}
	case Receiver:
		if s.me != nil {
			p.from = s.me.String()
		}
		if s.peer != nil && s.ns != xmpp.ComponentNamespace {
			p.to = s.peer.String()
		}
		p.id = s.streamID
	}
	if err := s.sendRawLocked(buildHeader(p)); err != nil {
		return err
	}
	s.headerSent = true
	s.footerSent = false
	return nil
}

func (s *Stream) writeFooterLocked() {
	_ = s.sendRawLocked([]byte(streamFooter))
	s.footerSent = true
}

func (s *Stream) writeLocked(elem *xmpp.Element) error {
	reportOutgoingElement(s.role, elem.Name())
	if logStanzas {
		level.Debug(s.logger).Log("msg", fmt.Sprintf("SND(%s): %v", s.id, elem))
	}
	return s.tr.Send([]byte(elem.String()))
}

func (s *Stream) sendRawLocked(b []byte) error {
	if s.tr == nil {
		return ErrNotConnected
	}
	if logStanzas {
		level.Debug(s.logger).Log("msg", fmt.Sprintf("SND(%s): %s", s.id, b))
	}
	return s.tr.Send(b)
}

// advanceLocked moves the stream forward to st, never backwards nor out of a terminal state.
func (s *Stream) advanceLocked(st State) {
	if s.state == StateAborted || st <= s.state {
		return
	}
	s.state = st
}

func (s *Stream) newReader() *xmppparser.Reader {
	return xmppparser.New(
		xmppparser.WithMaxStanzaSize(s.stg.MaxStanzaSize),
		xmppparser.WithLogger(s.logger),
	)
}

// initialPeerLocked returns the address an initiating stream is addressed to.
func (s *Stream) initialPeerLocked() *jid.JID {
	if s.ns == xmpp.ComponentNamespace {
		return s.me
	}
	d, _ := jid.New("", s.me.Domain(), "", true)
	return d
}

func (s *Stream) connectTargetLocked() (service, host string, port int) {
	if s.ns == xmpp.ComponentNamespace {
		host, port = s.stg.Server, s.stg.Port
		if len(host) == 0 {
			host = s.me.Domain()
		}
		if port == 0 {
			port = s.stg.ComponentPort
		}
		return "", host, port
	}
	port = s.stg.C2SPort
	if s.stg.Port > 0 {
		port = s.stg.Port
	}
	if len(s.stg.Server) > 0 {
		return "", s.stg.Server, port
	}
	service = s.stg.C2SService
	if s.ns == xmpp.ServerNamespace {
		service = s.stg.S2SService
	}
	return service, s.me.Domain(), port
}

func (s *Stream) postEvent(name string, info *event.StreamInfo) {
	if s.queue == nil {
		return
	}
	if info == nil {
		info = &event.StreamInfo{}
	}
	s.mu.RLock()
	info.ID = s.streamID
	info.Me = s.me
	info.Peer = s.peer
	s.mu.RUnlock()

	s.queue.PostEvent(name, info, s)
}

func isStanzaName(name string) bool {
	switch name {
	case xmpp.IQName, xmpp.MessageName, xmpp.PresenceName:
		return true
	}
	return false
}

func tlsVersion(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "1.0"
	case tls.VersionTLS11:
		return "1.1"
	case tls.VersionTLS12:
		return "1.2"
	case tls.VersionTLS13:
		return "1.3"
	}
	return "unknown"
}
