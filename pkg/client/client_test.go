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

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/server"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/stream"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) int {
	creds := auth.NewMemoryProvider()
	creds.AddUser("test", "123")

	l, err := server.NewListener("127.0.0.1:0", xmpp.ClientNamespace, "localhost", settings.Default(),
		server.WithCredentialProvider(creds),
		server.WithHandlers(server.Ping{}),
	)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Stop(ctx)
	})
	return l.Addr().(*net.TCPAddr).Port
}

func clientSettings(port int) *settings.Settings {
	stg := settings.Default()
	stg.Server = "127.0.0.1"
	stg.Port = port
	stg.Resource = "res"
	return stg
}

func ping(t *testing.T, c *Client) {
	t.Helper()

	iq, err := xmpp.NewIQType(xmpp.NewID(), xmpp.GetType)
	require.NoError(t, err)
	iq.SetToJID(jid.MustParse("localhost"))
	iq.SetQuery(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	resCh := make(chan string, 1)
	err = c.SendIQ(context.Background(), iq,
		func(_ context.Context, response *xmpp.IQ) processor.Result {
			resCh <- response.Type()
			return processor.Handled()
		},
		func(_ context.Context, response *xmpp.IQ) processor.Result {
			resCh <- response.Type()
			return processor.Handled()
		},
		func(_ *xmpp.IQ) { resCh <- "timeout" },
		5*time.Second,
	)
	require.NoError(t, err)

	select {
	case typ := <-resCh:
		require.Equal(t, xmpp.ResultType, typ)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ping response")
	}
}

func TestClient_RunThreaded(t *testing.T) {
	// given
	port := startServer(t)
	c := New(jid.MustParse("test@localhost"), "123", clientSettings(port))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// when
	require.NoError(t, c.Connect(ctx))

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.RunThreaded(ctx) }()

	require.NoError(t, c.WaitEstablished(ctx))

	// then
	require.Equal(t, "test@localhost/res", c.Me().String())
	require.Equal(t, stream.StateEstablished, c.Stream().State())
	require.ErrorIs(t, c.Connect(ctx), stream.ErrAlreadyConnected)

	ping(t, c)

	require.NoError(t, c.Disconnect(ctx))
	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop running after disconnection")
	}
	require.Equal(t, stream.StateDisconnected, c.Stream().State())
}

func TestClient_Run(t *testing.T) {
	// given
	port := startServer(t)
	c := New(jid.MustParse("test@localhost"), "123", clientSettings(port))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// when
	require.NoError(t, c.Connect(ctx))

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	require.NoError(t, c.WaitEstablished(ctx))

	// then
	require.Equal(t, "test@localhost/res", c.Me().String())
	ping(t, c)

	require.NoError(t, c.Disconnect(ctx))
	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not quit after disconnection")
	}
}

func TestClient_AuthenticationFailure(t *testing.T) {
	port := startServer(t)
	c := New(jid.MustParse("test@localhost"), "wrong", clientSettings(port))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.RunThreaded(ctx) }()

	err := c.WaitEstablished(ctx)
	require.ErrorIs(t, err, stream.ErrAuthenticationFailed)
}

func TestClient_ConnectBreaker(t *testing.T) {
	// given
	stg := clientSettings(5222)
	c := New(jid.MustParse("test@localhost"), "123", stg,
		WithDialer(func(_ context.Context, _, _ string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}),
		WithBreakerSettings(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 1
			},
		}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// when
	require.NoError(t, c.Connect(ctx))
	require.Error(t, c.RunThreaded(ctx))

	// then
	require.Eventually(t, func() bool {
		return c.cb.State() == gobreaker.StateOpen
	}, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, c.Connect(ctx), gobreaker.ErrOpenState)
}

func TestClient_NotConnected(t *testing.T) {
	c := New(jid.MustParse("test@localhost"), "123", nil)

	msg, err := xmpp.NewMessageType(xmpp.NewID(), xmpp.ChatType)
	require.NoError(t, err)

	require.ErrorIs(t, c.Send(context.Background(), msg), stream.ErrNotConnected)
	require.ErrorIs(t, c.Run(context.Background()), stream.ErrNotConnected)
	require.ErrorIs(t, c.RunThreaded(context.Background()), stream.ErrNotConnected)
	require.NoError(t, c.Disconnect(context.Background()))
	require.Equal(t, "test@localhost", c.Me().String())
}
