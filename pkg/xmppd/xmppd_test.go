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

package xmppd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/ortuman/xmppcore/pkg/client"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Domain:   "localhost",
		HTTPPort: 0,
		Storage: StorageConfig{
			Type:  "memory",
			Users: []UserConfig{{Username: "alice", Password: "123"}},
		},
		C2S: C2SConfig{BindAddr: "127.0.0.1", Port: 0},
	}
}

// freePort returns a currently unused local TCP port. Zero ports fall back to config defaults.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestXMPPd_Version(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	d := New(buf, []string{"xmppd", "--version"})

	require.NoError(t, d.Run())
	require.Contains(t, buf.String(), "xmppd version: v")
}

func TestXMPPd_RunUntilSignal(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", fmt.Sprintf(`
http_port: %d
c2s:
  bind_addr: 127.0.0.1
  port: %d
`, freePort(t), freePort(t)))
	d := New(io.Discard, []string{"xmppd", "--config", p})
	d.waitStopCh <- syscall.SIGTERM

	require.NoError(t, d.Run())
}

func TestXMPPd_ServeClients(t *testing.T) {
	// given
	d := New(io.Discard, nil)
	d.logger = kitlog.NewNopLogger()

	require.NoError(t, d.init(testConfig()))
	require.NoError(t, d.bootstrap())
	defer func() { require.NoError(t, d.shutdown()) }()

	stg := settings.Default()
	stg.Server = "127.0.0.1"
	stg.Port = d.c2sLn.Addr().(*net.TCPAddr).Port

	c := client.New(jid.MustParse("alice@localhost"), "123", stg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// when
	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.RunThreaded(ctx) }()
	require.NoError(t, c.WaitEstablished(ctx))
	defer func() { _ = c.Disconnect(ctx) }()

	iq, err := xmpp.NewIQType(xmpp.NewID(), xmpp.GetType)
	require.NoError(t, err)
	iq.SetToJID(jid.MustParse("localhost"))
	iq.SetQuery(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	resCh := make(chan string, 1)
	onResponse := func(_ context.Context, response *xmpp.IQ) processor.Result {
		resCh <- response.Type()
		return processor.Handled()
	}
	require.NoError(t, c.SendIQ(ctx, iq, onResponse, onResponse, func(_ *xmpp.IQ) { resCh <- "timeout" }, 5*time.Second))

	// then
	select {
	case typ := <-resCh:
		require.Equal(t, xmpp.ResultType, typ)
	case <-ctx.Done():
		t.Fatal("timed out waiting for ping response")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", d.httpSrv.addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "xmppcore_server_active_streams")

	resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", d.httpSrv.addr().(*net.TCPAddr).Port))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok streams=1\n", string(body))
}

func TestXMPPd_InvalidStorage(t *testing.T) {
	d := New(io.Discard, nil)
	d.logger = kitlog.NewNopLogger()

	cfg := testConfig()
	cfg.Storage = StorageConfig{Type: "bolt", BoltPath: filepath.Join(t.TempDir(), "missing", "users.db")}

	require.Error(t, d.init(cfg))
}
