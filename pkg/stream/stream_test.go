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

package stream

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackal-xmpp/sonar"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/transport"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/stretchr/testify/require"
)

const clientHeader = `<?xml version='1.0'?><stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' to='localhost' version='1.0'>`

type fakeTransport struct {
	mu         sync.Mutex
	target     transport.Target
	out        strings.Builder
	tlsStarted bool
	closed     bool
}

func (f *fakeTransport) SetTarget(target transport.Target) {
	f.mu.Lock()
	f.target = target
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(_, _ string, _ int) error { return nil }

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.out.Write(data)
	return nil
}

func (f *fakeTransport) StartTLS(_ *tls.Config, _ bool) error {
	f.mu.Lock()
	f.tlsStarted = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) TLSConnectionState() (tls.ConnectionState, bool) {
	return tls.ConnectionState{}, false
}

func (f *fakeTransport) Shutdown() { _ = f.Close() }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	target := f.target
	f.mu.Unlock()

	if target != nil {
		target.TransportClosed(nil)
	}
	return nil
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.out.Reset()
	f.mu.Unlock()
}

func testCertificate(t *testing.T) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func newReceiver(t *testing.T, stg *settings.Settings, opts ...Option) (*Stream, *fakeTransport) {
	opts = append([]Option{WithMe(jid.MustParse("localhost"))}, opts...)
	s := New(Receiver, xmpp.ClientNamespace, stg, opts...)
	tr := &fakeTransport{}
	require.NoError(t, s.Accept(tr))
	return s, tr
}

// startPair connects an initiating and a receiving stream over an in-memory pipe.
func startPair(t *testing.T, ns string, clientStg, serverStg *settings.Settings, clientOpts, serverOpts []Option) (client, server *Stream) {
	cConn, sConn := net.Pipe()

	srvTr := transport.New(serverStg)
	require.NoError(t, srvTr.Attach(sConn))
	server = New(Receiver, ns, serverStg, serverOpts...)
	require.NoError(t, server.Accept(srvTr))
	go func() { _ = srvTr.RunThreaded(context.Background()) }()

	clientStg.Server = "127.0.0.1"
	clientStg.Port = 5222
	cliTr := transport.New(clientStg, transport.WithDialer(func(_ context.Context, _, _ string) (net.Conn, error) {
		return cConn, nil
	}))
	client = New(Initiator, ns, clientStg, append(clientOpts, WithTransport(cliTr))...)
	require.NoError(t, client.Connect())
	go func() { _ = cliTr.RunThreaded(context.Background()) }()

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func waitEstablished(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case <-s.Established():
	case <-s.Done():
		t.Fatalf("stream closed before being established: %v", s.Err())
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for stream establishment, state: %s", s.State())
	}
}

func TestStream_StartTLSPlainBind(t *testing.T) {
	// given
	cert := testCertificate(t)

	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	serverStg := settings.Default()
	serverStg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	serverStg.TLSRequire = true
	serverStg.SASLMechanisms = []string{auth.PlainMechanism}

	clientStg := settings.Default()
	clientStg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	clientStg.Resource = "Test"

	// when
	client, server := startPair(t, xmpp.ClientNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("test@localhost")), WithPassword("123")},
		[]Option{WithMe(jid.MustParse("localhost")), WithCredentialProvider(creds)},
	)
	waitEstablished(t, client)
	waitEstablished(t, server)

	// then
	require.Equal(t, StateEstablished, client.State())
	require.True(t, client.TLSActive())
	require.True(t, client.IsAuthenticated())
	require.Equal(t, "test@localhost/Test", client.Me().String())

	require.Equal(t, StateEstablished, server.State())
	require.True(t, server.TLSActive())
	require.True(t, server.IsPeerAuthenticated())
	require.Equal(t, "test@localhost/Test", server.Peer().String())
	require.NotEmpty(t, client.ID())
	require.Equal(t, client.ID(), server.ID())
}

func TestStream_ScramSHA1(t *testing.T) {
	// given
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	serverStg := settings.Default()
	serverStg.StartTLS = false
	serverStg.SASLMechanisms = []string{auth.ScramSHA1Mechanism}

	clientStg := settings.Default()
	clientStg.StartTLS = false
	clientStg.Resource = "Test"

	// when
	client, server := startPair(t, xmpp.ClientNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("test@localhost")), WithPassword("123")},
		[]Option{WithMe(jid.MustParse("localhost")), WithCredentialProvider(creds)},
	)
	waitEstablished(t, client)

	// then
	require.False(t, client.TLSActive())
	require.Equal(t, "test@localhost/Test", client.Me().String())

	waitEstablished(t, server)
	require.Equal(t, "test@localhost/Test", server.Peer().String())
}

func TestStream_AuthenticationFailure(t *testing.T) {
	// given
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	serverStg := settings.Default()
	serverStg.StartTLS = false
	serverStg.InsecureAuth = true
	serverStg.SASLMechanisms = []string{auth.PlainMechanism}

	clientStg := settings.Default()
	clientStg.StartTLS = false
	clientStg.InsecureAuth = true

	// when
	client, _ := startPair(t, xmpp.ClientNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("test@localhost")), WithPassword("bad")},
		[]Option{WithMe(jid.MustParse("localhost")), WithCredentialProvider(creds)},
	)

	// then
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client stream was not closed")
	}
	require.ErrorIs(t, client.Err(), ErrAuthenticationFailed)
	require.False(t, client.IsAuthenticated())
}

func TestStream_LegacyAuth(t *testing.T) {
	// given
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	serverStg := settings.Default()
	serverStg.StartTLS = false
	serverStg.SASLMechanisms = nil
	serverStg.LegacyAuth = true

	clientStg := settings.Default()
	clientStg.StartTLS = false
	clientStg.LegacyAuth = true
	clientStg.Resource = "Test"

	q := mainloop.NewEventQueue(sonar.New(), nil)
	var restarts, authenticated int
	q.Subscribe(event.StreamRestarted, func(_ context.Context, _ sonar.Event) error {
		restarts++
		return nil
	})
	q.Subscribe(event.StreamAuthenticated, func(_ context.Context, _ sonar.Event) error {
		authenticated++
		return nil
	})

	// when
	client, server := startPair(t, xmpp.ClientNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("test@localhost")), WithPassword("123"), WithEventQueue(q)},
		[]Option{WithMe(jid.MustParse("localhost")), WithCredentialProvider(creds)},
	)
	waitEstablished(t, client)
	waitEstablished(t, server)
	q.Drain(context.Background())

	// then
	require.Equal(t, "test@localhost/Test", client.Me().String())
	require.Equal(t, "test@localhost/Test", server.Peer().String())
	require.Equal(t, 0, restarts)
	require.Equal(t, 1, authenticated)
}

func TestStream_ComponentHandshake(t *testing.T) {
	// given
	serverStg := settings.Default()
	clientStg := settings.Default()

	// when
	client, server := startPair(t, xmpp.ComponentNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("comp.localhost")), WithPassword("s3cr3t")},
		[]Option{WithComponentSecrets(map[string]string{"comp.localhost": "s3cr3t"})},
	)
	waitEstablished(t, client)
	waitEstablished(t, server)

	// then
	require.True(t, client.IsAuthenticated())
	require.True(t, server.IsPeerAuthenticated())
	require.Equal(t, "comp.localhost", server.Peer().String())
}

func TestStream_ComponentBadSecret(t *testing.T) {
	// given
	serverStg := settings.Default()
	clientStg := settings.Default()

	// when
	client, server := startPair(t, xmpp.ComponentNamespace, clientStg, serverStg,
		[]Option{WithMe(jid.MustParse("comp.localhost")), WithPassword("wrong")},
		[]Option{WithComponentSecrets(map[string]string{"comp.localhost": "s3cr3t"})},
	)

	// then
	select {
	case <-server.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server stream was not closed")
	}
	require.ErrorIs(t, server.Err(), ErrAuthenticationFailed)
	require.Equal(t, StateAborted, server.State())

	<-client.Done()
	require.False(t, client.IsAuthenticated())
}

func TestStream_ReceiverHeader(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())

	// when
	s.DataReceived([]byte(clientHeader))

	// then
	out := tr.sent()
	require.True(t, strings.HasPrefix(out, `<?xml version='1.0'?><stream:stream xmlns="jabber:client"`))
	require.Contains(t, out, `from="localhost"`)
	require.Contains(t, out, `version="1.0"`)
	require.Contains(t, out, `id="`+s.ID()+`"`)
	require.Contains(t, out, "<stream:features")
	require.Equal(t, StateFeaturesNegotiated, s.State())
}

func TestStream_FeaturesRequireTLS(t *testing.T) {
	// given
	stg := settings.Default()
	stg.TLSConfig = &tls.Config{}
	stg.TLSRequire = true
	s, tr := newReceiver(t, stg, WithCredentialProvider(auth.NewMemoryProvider()))

	// when
	s.DataReceived([]byte(clientHeader))

	// then
	out := tr.sent()
	require.Contains(t, out, `<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"><required/></starttls>`)
	require.NotContains(t, out, "mechanisms")
}

func TestStream_FeaturesInsecurePlain(t *testing.T) {
	// given
	stg := settings.Default()
	stg.StartTLS = false
	s, tr := newReceiver(t, stg, WithCredentialProvider(auth.NewMemoryProvider()))

	// when
	s.DataReceived([]byte(clientHeader))

	// then
	out := tr.sent()
	require.NotContains(t, out, "starttls")
	require.Contains(t, out, "<mechanism>SCRAM-SHA-1</mechanism>")
	require.NotContains(t, out, "<mechanism>PLAIN</mechanism>")
}

func TestStream_StartTLSRequest(t *testing.T) {
	// given
	stg := settings.Default()
	stg.TLSConfig = &tls.Config{}
	s, tr := newReceiver(t, stg)
	s.DataReceived([]byte(clientHeader))
	tr.reset()

	// when
	s.DataReceived([]byte(`<starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`))

	// then
	require.Equal(t, `<proceed xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`, tr.sent())
	require.True(t, tr.tlsStarted)
	require.Equal(t, StateTLSNegotiating, s.State())
	require.ErrorIs(t, s.SendElement(context.Background(), xmpp.NewElementName("presence")), ErrNotConnected)
}

func TestStream_MalformedXML(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())
	s.DataReceived([]byte(clientHeader))

	// when
	s.DataReceived([]byte(`<iq><bad></iq>`))

	// then
	out := tr.sent()
	require.Contains(t, out, `<stream:error><not-well-formed xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`)
	require.True(t, strings.HasSuffix(out, "</stream:stream>"))
	require.Equal(t, StateAborted, s.State())
	require.True(t, tr.IsClosed())

	select {
	case <-s.Done():
	default:
		t.Fatal("stream should be done")
	}
	// further input is ignored
	s.DataReceived([]byte(`<presence/>`))
	require.Equal(t, out, tr.sent())
}

func TestStream_HostUnknown(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())

	// when
	s.DataReceived([]byte(strings.Replace(clientHeader, "to='localhost'", "to='example.org'", 1)))

	// then
	out := tr.sent()
	require.True(t, strings.HasPrefix(out, "<?xml version='1.0'?><stream:stream"))
	require.Contains(t, out, "<host-unknown")
	require.Equal(t, StateAborted, s.State())
}

func TestStream_UnsupportedVersion(t *testing.T) {
	s, tr := newReceiver(t, settings.Default())

	s.DataReceived([]byte(strings.Replace(clientHeader, "version='1.0'", "version='2.0'", 1)))

	require.Contains(t, tr.sent(), "<unsupported-version")
	require.Equal(t, StateAborted, s.State())
}

func TestStream_InvalidNamespace(t *testing.T) {
	s, tr := newReceiver(t, settings.Default())

	s.DataReceived([]byte(strings.Replace(clientHeader, "xmlns='jabber:client'", "xmlns='jabber:server'", 1)))

	require.Contains(t, tr.sent(), "<invalid-namespace")
	require.Equal(t, StateAborted, s.State())
}

func TestStream_LanguageNegotiation(t *testing.T) {
	// given
	stg := settings.Default()
	stg.Languages = []string{"en", "pl"}
	s, tr := newReceiver(t, stg)

	// when
	s.DataReceived([]byte(strings.Replace(clientHeader, "version='1.0'", "version='1.0' xml:lang='pl-PL'", 1)))

	// then
	require.Equal(t, "pl", s.Language())
	require.Contains(t, tr.sent(), `xml:lang="pl"`)
}

func TestStream_StreamEnd(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())
	s.DataReceived([]byte(clientHeader))

	// when
	s.DataReceived([]byte(`</stream:stream>`))

	// then
	require.True(t, strings.HasSuffix(tr.sent(), "</stream:stream>"))
	require.True(t, tr.IsClosed())
	require.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Err())
}

func TestStream_StreamErrorReceived(t *testing.T) {
	// given
	s, _ := newReceiver(t, settings.Default())
	s.DataReceived([]byte(clientHeader))

	// when
	s.DataReceived([]byte(`<stream:error><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error>`))

	// then
	require.Equal(t, StateAborted, s.State())
	require.Error(t, s.Err())
	require.Equal(t, "conflict", s.Err().Error())
}

func TestStream_PreAuthIQ(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())
	s.DataReceived([]byte(clientHeader))
	tr.reset()

	// when
	s.DataReceived([]byte(`<iq type='get' id='v1'><query xmlns='jabber:iq:version'/></iq>`))

	// then
	out := tr.sent()
	require.Contains(t, out, `id="v1"`)
	require.Contains(t, out, "feature-not-implemented")
}

func TestStream_Disconnect(t *testing.T) {
	// given
	stg := settings.Default()
	stg.DisconnectTimeout = 50 * time.Millisecond
	s, tr := newReceiver(t, stg)
	s.DataReceived([]byte(clientHeader))

	// when
	err := s.Disconnect(context.Background())

	// then
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(tr.sent(), "</stream:stream>"))
	require.True(t, tr.IsClosed())
}

const serverHeader = `<?xml version='1.0'?><stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' from='localhost' id='s1' version='1.0'>`

func newInitiator(t *testing.T, stg *settings.Settings) (*Stream, *fakeTransport) {
	tr := &fakeTransport{}
	s := New(Initiator, xmpp.ClientNamespace, stg,
		WithMe(jid.MustParse("test@localhost")),
		WithPassword("123"),
		WithTransport(tr),
	)
	return s, tr
}

func TestStream_LegacyAuthForm(t *testing.T) {
	// given
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	stg := settings.Default()
	stg.StartTLS = false
	stg.LegacyAuth = true
	s, tr := newReceiver(t, stg, WithCredentialProvider(creds))
	s.DataReceived([]byte(clientHeader))
	tr.reset()

	// when
	s.DataReceived([]byte(`<iq type='get' id='auth1'><query xmlns='jabber:iq:auth'><username>test</username></query></iq>`))

	// then
	out := tr.sent()
	require.Contains(t, out, `id="auth1"`)
	require.Contains(t, out, `<username>test</username>`)
	require.Contains(t, out, `<digest/>`)
	require.Contains(t, out, `<password/>`)
	require.Contains(t, out, `<resource/>`)
	require.NotContains(t, out, "<stream:stream")
	require.Equal(t, StateFeaturesNegotiated, s.State())

	// plain submissions still require TLS
	tr.reset()
	s.DataReceived([]byte(`<iq type='set' id='auth2'><query xmlns='jabber:iq:auth'><username>test</username><password>123</password><resource>r</resource></query></iq>`))

	require.Contains(t, tr.sent(), "not-acceptable")
	require.False(t, s.IsPeerAuthenticated())
}

func TestStream_LegacyAuthRetry(t *testing.T) {
	// given
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	stg := settings.Default()
	stg.StartTLS = false
	stg.InsecureAuth = true
	stg.LegacyAuth = true
	s, tr := newReceiver(t, stg, WithCredentialProvider(creds))
	s.DataReceived([]byte(clientHeader))
	tr.reset()

	// when
	s.DataReceived([]byte(`<iq type='set' id='auth1'><query xmlns='jabber:iq:auth'><username>test</username><password>bad</password><resource>r</resource></query></iq>`))

	// then
	out := tr.sent()
	require.Contains(t, out, `id="auth1"`)
	require.Contains(t, out, "not-authorized")
	require.False(t, s.IsPeerAuthenticated())
	require.NotEqual(t, StateAborted, s.State())
	require.False(t, tr.IsClosed())

	tr.reset()
	s.DataReceived([]byte(`<iq type='set' id='auth2'><query xmlns='jabber:iq:auth'><username>test</username><password>123</password><resource>r</resource></query></iq>`))

	out = tr.sent()
	require.Contains(t, out, `id="auth2"`)
	require.Contains(t, out, `type="result"`)
	require.True(t, s.IsPeerAuthenticated())
	require.Equal(t, "test@localhost/r", s.Peer().String())
	require.Equal(t, StateEstablished, s.State())
}

func TestStream_UnexpectedElement(t *testing.T) {
	for _, input := range []string{
		`<foo xmlns='urn:example:bogus'/>`,
		`<iq xmlns='jabber:server' type='get' id='p1'><ping xmlns='urn:xmpp:ping'/></iq>`,
	} {
		s, tr := newReceiver(t, settings.Default())
		s.DataReceived([]byte(clientHeader))
		tr.reset()

		s.DataReceived([]byte(input))

		out := tr.sent()
		require.Contains(t, out, `<stream:error><unsupported-stanza-type xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`)
		require.NotContains(t, out, `id="p1"`)
		require.True(t, strings.HasSuffix(out, "</stream:stream>"))
		require.Equal(t, StateAborted, s.State())
		require.True(t, tr.IsClosed())
	}
}

func TestStream_PendingRequestsOnClose(t *testing.T) {
	// given
	s, tr := newReceiver(t, settings.Default())
	s.DataReceived([]byte(clientHeader))

	iq, err := xmpp.NewIQType("r1", xmpp.GetType)
	require.NoError(t, err)
	iq.SetToJID(jid.MustParse("test@localhost/r"))
	iq.SetQuery(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	var results, timeouts int
	err = s.SendIQ(context.Background(), iq,
		func(context.Context, *xmpp.IQ) processor.Result { results++; return processor.Handled() },
		nil,
		func(*xmpp.IQ) { timeouts++ },
		time.Minute,
	)
	require.NoError(t, err)
	require.Equal(t, 1, s.Processor().PendingRequests())

	// when
	require.NoError(t, tr.Close())

	// then
	_, _ = s.Expire()
	require.Equal(t, 0, results)
	require.Equal(t, 1, timeouts)
	require.Equal(t, 0, s.Processor().PendingRequests())
	require.Equal(t, StateDisconnected, s.State())
}

func TestStream_ConnectInProgress(t *testing.T) {
	// given
	s, _ := newInitiator(t, settings.Default())

	// when
	require.NoError(t, s.Connect())

	// then
	require.ErrorIs(t, s.Connect(), ErrInProgress)
	require.Equal(t, StateConnecting, s.State())

	s.TransportConnected()
	require.ErrorIs(t, s.Connect(), ErrAlreadyConnected)
}

func TestStream_DisconnectInProgress(t *testing.T) {
	// given
	stg := settings.Default()
	stg.DisconnectTimeout = time.Minute
	s, tr := newReceiver(t, stg)
	s.DataReceived([]byte(clientHeader))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Disconnect(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.HasSuffix(tr.sent(), "</stream:stream>")
	}, 5*time.Second, 10*time.Millisecond)

	// when
	err := s.Disconnect(context.Background())

	// then
	require.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, tr.Close())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect did not return after transport close")
	}
}

func TestStream_TLSRequiredNotOffered(t *testing.T) {
	// given
	stg := settings.Default()
	stg.TLSRequire = true
	s, tr := newInitiator(t, stg)
	require.NoError(t, s.Connect())
	s.TransportConnected()

	// when
	s.DataReceived([]byte(serverHeader + `<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`))

	// then
	require.ErrorIs(t, s.Err(), ErrTLSNotSupported)
	require.Equal(t, StateAborted, s.State())
	require.Contains(t, tr.sent(), "<policy-violation")
	require.True(t, tr.IsClosed())
}

func TestStream_NoCommonMechanism(t *testing.T) {
	// given
	stg := settings.Default()
	stg.StartTLS = false
	s, tr := newInitiator(t, stg)
	require.NoError(t, s.Connect())
	s.TransportConnected()

	// when
	s.DataReceived([]byte(serverHeader + `<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>X-UNKNOWN</mechanism></mechanisms></stream:features>`))

	// then
	require.ErrorIs(t, s.Err(), ErrNoMechanism)
	require.Equal(t, StateAborted, s.State())
	require.NotContains(t, tr.sent(), "<auth ")
	require.True(t, tr.IsClosed())
}
