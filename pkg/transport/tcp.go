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

package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/jackal-xmpp/runqueue/v2"
	"github.com/ortuman/xmppcore/pkg/dns"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const (
	readBufferSize   = 16896
	readGracePeriod  = 200 * time.Millisecond
	drainPeriod      = time.Millisecond
	writeTimeout     = 10 * time.Second
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

type mode int

const (
	modeNone mode = iota
	modeLoop
	modeThreaded
)

type tlsState int

const (
	tlsNone tlsState = iota
	tlsPending
	tlsHandshaking
	tlsDone
	tlsActive
)

var (
	errHangup    = errors.New("peer hung up")
	errPollError = errors.New("poll error")
	errInvalidFd = errors.New("invalid file descriptor")
)

type candidate struct {
	host string
	port int
}

// DialFunc establishes a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option defines TCP option type.
type Option func(*TCP)

// WithID sets the transport identifier used in logs.
func WithID(id string) Option {
	return func(t *TCP) {
		t.id = id
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(t *TCP) {
		t.logger = logger
	}
}

// WithEventQueue sets the queue transport events are posted to.
func WithEventQueue(q *mainloop.EventQueue) Option {
	return func(t *TCP) {
		t.queue = q
	}
}

// WithSRVResolver sets the SRV resolver used to locate the service.
func WithSRVResolver(r *dns.SRVResolver) Option {
	return func(t *TCP) {
		t.srvResolver = r
	}
}

// WithAddressResolver sets the resolver used to look up host addresses.
func WithAddressResolver(r *dns.AddressResolver) Option {
	return func(t *TCP) {
		t.addrResolver = r
	}
}

// WithDialer sets the function used to dial resolved addresses.
func WithDialer(fn DialFunc) Option {
	return func(t *TCP) {
		t.dialFn = fn
	}
}

// TCP is a socket transport.
//
// It can either be registered as a mainloop.IOHandler in a poll loop or run
// on its own goroutines through RunThreaded, never both.
type TCP struct {
	id           string
	stg          *settings.Settings
	logger       kitlog.Logger
	queue        *mainloop.EventQueue
	srvResolver  *dns.SRVResolver
	addrResolver *dns.AddressResolver
	dialFn       DialFunc
	limiter      readLimiter
	readBuf      []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	mode             mode
	target           Target
	conn             net.Conn
	fd               int
	hasFd            bool
	host             string
	port             int
	service          string
	candidates       []candidate
	addrs            []string
	stepRunning      bool
	stepErr          error
	connectedPending bool
	writeBuf         []byte
	plainBuf         []byte
	tlsCfg           *tls.Config
	tlsClient        bool
	tls              tlsState
	tlsConnState     tls.ConnectionState
	tlsErr           error
	lastWrite        time.Time
	shutdown         bool
	closed           bool
	wakeFn           func()
	rq               *runqueue.RunQueue

	writeMu sync.Mutex
}

// New returns a new idle TCP transport configured by stg.
func New(stg *settings.Settings, opts ...Option) *TCP {
	ctx, cancel := context.WithCancel(context.Background())
	t := &TCP{
		id:      uuid.New().String(),
		stg:     stg,
		logger:  kitlog.NewNopLogger(),
		readBuf: make([]byte, readBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = kitlog.With(t.logger, "transport_id", t.id)
	if t.srvResolver == nil {
		t.srvResolver = dns.NewSRVResolver(dns.WithSRVLogger(t.logger))
	}
	if t.addrResolver == nil {
		t.addrResolver = dns.NewAddressResolver(nil, stg.IPv4, stg.IPv6, stg.PreferIPv6, t.logger)
	}
	if t.dialFn == nil {
		d := net.Dialer{Timeout: dialTimeout}
		t.dialFn = d.DialContext
	}
	if stg.ReadRateLimit > 0 {
		t.limiter.set(rate.NewLimiter(rate.Limit(stg.ReadRateLimit), stg.ReadRateLimit))
	}
	return t
}

// ID returns the transport identifier.
func (t *TCP) ID() string {
	return t.id
}

// SetTarget sets the receiver of the transport notifications.
func (t *TCP) SetTarget(target Target) {
	t.mu.Lock()
	t.target = target
	t.mu.Unlock()
}

// SetReadRateLimiter sets transport read rate limiter.
func (t *TCP) SetReadRateLimiter(rLim *rate.Limiter) {
	t.limiter.set(rLim)
}

// ReadRateLimiter returns the current read rate limiter, if any.
func (t *TCP) ReadRateLimiter() *rate.Limiter {
	return t.limiter.get()
}

// State returns the current transport state.
func (t *TCP) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RemoteAddr returns the connection remote address, if connected.
func (t *TCP) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// TLSConnectionState returns the state of the TLS layer once it has been negotiated.
func (t *TCP) TLSConnectionState() (tls.ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tls != tlsActive && t.tls != tlsDone {
		return tls.ConnectionState{}, false
	}
	return t.tlsConnState, true
}

// Connect starts connecting to host.
// When service is not empty its SRV record is resolved first and port is only used as fallback.
func (t *TCP) Connect(service, host string, port int) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return errors.Errorf("transport: cannot connect in state %s", t.state)
	}
	t.host, t.port, t.service = host, port, service
	if len(service) > 0 {
		t.state = StateResolvingSRV
	} else {
		t.candidates = []candidate{{host: host, port: port}}
		t.state = StateResolvingHostname
	}
	t.mu.Unlock()

	t.wakeup()
	return nil
}

// Attach sets an already established connection, typically an accepted one.
func (t *TCP) Attach(conn net.Conn) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return errors.Errorf("transport: cannot attach in state %s", t.state)
	}
	t.setConnLocked(conn)
	t.mu.Unlock()

	t.postEvent(event.TransportConnectionAccepted, &event.TransportInfo{Addr: conn.RemoteAddr()})
	return nil
}

// Send queues data to be written to the peer.
func (t *TCP) Send(data []byte) error {
	t.mu.Lock()
	if t.closed || t.shutdown {
		t.mu.Unlock()
		return ErrClosed
	}
	t.writeBuf = append(t.writeBuf, data...)
	rq := t.rqLocked()
	t.mu.Unlock()

	if rq != nil {
		rq.Run(t.flushJob)
	}
	t.wakeup()
	return nil
}

// StartTLS secures the transport.
// Data queued before the call is written in plain text, the handshake runs afterwards
// and the target is notified through TLSConnected.
func (t *TCP) StartTLS(cfg *tls.Config, asClient bool) error {
	t.mu.Lock()
	switch {
	case t.state != StateConnected:
		t.mu.Unlock()
		return ErrNotConnected
	case t.tls != tlsNone:
		t.mu.Unlock()
		return errors.New("transport: TLS already started")
	}
	t.plainBuf = t.writeBuf
	t.writeBuf = nil
	t.tlsCfg = cfg
	t.tlsClient = asClient
	t.tls = tlsPending
	t.mu.Unlock()

	t.wakeup()
	return nil
}

// Shutdown closes the transport once every queued byte has been written.
func (t *TCP) Shutdown() {
	t.mu.Lock()
	if t.closed || t.shutdown {
		t.mu.Unlock()
		return
	}
	t.shutdown = true
	m := t.mode
	rq := t.rqLocked()
	t.mu.Unlock()

	switch {
	case rq != nil:
		rq.Run(func() {
			_ = t.flush()
			t.closeWith(nil)
		})
	case m == modeLoop:
		t.wakeup()
	default:
		_ = t.flush()
		t.closeWith(nil)
	}
}

// Close force-closes the transport.
func (t *TCP) Close() error {
	t.closeWith(nil)
	return nil
}

// IsClosed reports whether the transport has been closed.
func (t *TCP) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TCP) step(ctx context.Context) error {
	t.mu.Lock()
	st := t.state
	t.mu.Unlock()

	switch st {
	case StateResolvingSRV:
		return t.resolveSRV(ctx)
	case StateResolvingHostname:
		return t.resolveHostname(ctx)
	case StateConnecting:
		return t.connect(ctx)
	}
	return nil
}

func (t *TCP) resolveSRV(ctx context.Context) error {
	t.mu.Lock()
	service, host, port := t.service, t.host, t.port
	t.mu.Unlock()

	t.postEvent(event.TransportResolvingSRV, &event.TransportInfo{Service: service, Host: host, Port: port})

	targets, err := t.srvResolver.LookupSRV(ctx, service, "tcp", host)
	switch {
	case errors.Is(err, dns.ErrServiceUnavailable):
		return err
	case err != nil:
		level.Debug(t.logger).Log("msg", "SRV lookup failed, using host address", "host", host, "err", err)
	}
	cands := lo.Map(targets, func(tg dns.Target, _ int) candidate {
		return candidate{host: tg.Host, port: tg.Port}
	})
	if len(cands) == 0 {
		cands = []candidate{{host: host, port: port}}
	}
	t.mu.Lock()
	t.candidates = cands
	t.state = StateResolvingHostname
	t.mu.Unlock()
	return nil
}

func (t *TCP) resolveHostname(ctx context.Context) error {
	t.mu.Lock()
	if len(t.candidates) == 0 {
		t.mu.Unlock()
		return ErrNoCandidates
	}
	c := t.candidates[0]
	t.candidates = t.candidates[1:]
	t.mu.Unlock()

	t.postEvent(event.TransportResolvingAddress, &event.TransportInfo{Host: c.host, Port: c.port})

	ips, err := t.addrResolver.LookupAddrs(ctx, c.host)
	if err != nil {
		level.Debug(t.logger).Log("msg", "failed to resolve host", "host", c.host, "err", err)

		t.mu.Lock()
		more := len(t.candidates) > 0
		t.mu.Unlock()
		if !more {
			return &IOError{Op: "resolve", Err: err}
		}
		return nil
	}
	addrs := lo.Map(ips, func(ip net.IP, _ int) string {
		return net.JoinHostPort(ip.String(), strconv.Itoa(c.port))
	})
	t.mu.Lock()
	t.addrs = addrs
	t.state = StateConnecting
	t.mu.Unlock()
	return nil
}

func (t *TCP) connect(ctx context.Context) error {
	t.mu.Lock()
	if len(t.addrs) == 0 {
		t.state = StateResolvingHostname
		t.mu.Unlock()
		return nil
	}
	addr := t.addrs[0]
	t.addrs = t.addrs[1:]
	t.mu.Unlock()

	t.postEvent(event.TransportConnecting, &event.TransportInfo{Host: addr})

	conn, err := t.dialFn(ctx, "tcp", addr)
	if err != nil {
		level.Debug(t.logger).Log("msg", "failed to connect", "addr", addr, "err", err)

		t.mu.Lock()
		defer t.mu.Unlock()
		if len(t.addrs) > 0 {
			return nil
		}
		if len(t.candidates) == 0 {
			return &IOError{Op: "dial", Err: err}
		}
		t.state = StateResolvingHostname
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	t.setConnLocked(conn)
	t.connectedPending = true
	t.mu.Unlock()

	level.Info(t.logger).Log("msg", "connected", "addr", conn.RemoteAddr())
	t.postEvent(event.TransportConnected, &event.TransportInfo{Host: t.host, Port: t.port, Addr: conn.RemoteAddr()})
	return nil
}

func (t *TCP) setConnLocked(conn net.Conn) {
	t.conn = conn
	t.state = StateConnected
	t.lastWrite = time.Now()

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return
	}
	_ = rc.Control(func(fd uintptr) {
		t.fd = int(fd)
		t.hasFd = true
	})
}

func (t *TCP) handshake() (tls.ConnectionState, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	plain := t.plainBuf
	t.plainBuf = nil
	conn, cfg, asClient := t.conn, t.tlsCfg, t.tlsClient
	t.mu.Unlock()

	if len(plain) > 0 {
		if err := t.writeConn(conn, plain); err != nil {
			return tls.ConnectionState{}, err
		}
	}
	var tlsConn *tls.Conn
	if asClient {
		tlsConn = tls.Client(conn, cfg)
	} else {
		tlsConn = tls.Server(conn, cfg)
	}
	ctx, cancel := context.WithTimeout(t.ctx, handshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return tls.ConnectionState{}, &IOError{Op: "tls handshake", Err: err}
	}
	st := tlsConn.ConnectionState()

	t.mu.Lock()
	t.conn = tlsConn
	t.tlsConnState = st
	t.mu.Unlock()

	level.Debug(t.logger).Log("msg", "TLS handshake completed", "version", st.Version)
	return st, nil
}

func (t *TCP) flush() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if !t.canWriteLocked() || len(t.writeBuf) == 0 {
		t.mu.Unlock()
		return nil
	}
	buf := t.writeBuf
	t.writeBuf = nil
	conn := t.conn
	t.mu.Unlock()

	return t.writeConn(conn, buf)
}

func (t *TCP) flushJob() {
	if err := t.flush(); err != nil {
		t.closeWith(err)
	}
}

func (t *TCP) writeConn(conn net.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write(b)
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return &IOError{Op: "write", Err: err}
	}
	t.mu.Lock()
	t.lastWrite = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *TCP) canWriteLocked() bool {
	if t.state != StateConnected {
		return false
	}
	return t.tls == tlsNone || t.tls == tlsDone || t.tls == tlsActive
}

func (t *TCP) keepaliveDueLocked() bool {
	if t.stg.Keepalive <= 0 || len(t.writeBuf) > 0 || !t.canWriteLocked() {
		return false
	}
	return time.Since(t.lastWrite) >= t.stg.Keepalive
}

// deliver hands data over to the target. It returns false if the transport got closed.
func (t *TCP) deliver(data []byte) bool {
	if !t.limiter.allow(len(data)) {
		level.Warn(t.logger).Log("msg", "read rate limit exceeded")
		t.closeWith(ErrReadLimitExceeded)
		return false
	}
	t.mu.Lock()
	target := t.target
	t.mu.Unlock()

	if target != nil {
		target.DataReceived(data)
	}
	return !t.IsClosed()
}

func (t *TCP) closeWith(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed
	t.closed = true
	conn, target, rq := t.conn, t.target, t.rq
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if err != nil {
		level.Debug(t.logger).Log("msg", "transport closed", "err", err)
	} else {
		level.Debug(t.logger).Log("msg", "transport closed")
	}
	if target != nil {
		target.TransportClosed(err)
	}
	if rq != nil {
		rq.Stop(func() {})
	}
	t.wakeup()
}

func (t *TCP) rqLocked() *runqueue.RunQueue {
	if t.mode != modeThreaded || t.state != StateConnected {
		return nil
	}
	return t.rq
}

func (t *TCP) postEvent(name string, info *event.TransportInfo) {
	if t.queue == nil {
		return
	}
	t.queue.PostEvent(name, info, t)
}

func (t *TCP) wakeup() {
	t.mu.Lock()
	fn := t.wakeFn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func readError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return &IOError{Op: "read", Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
