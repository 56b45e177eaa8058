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

package command

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/auth/boltcreds"
	"github.com/ortuman/xmppcore/pkg/server"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	root := &cobra.Command{Use: "xmppctl"}
	RegisterGlobalFlags(root, &GlobalFlags{})
	root.AddCommand(
		NewSendCommand(),
		NewPingCommand(),
		NewUserCommand(),
		NewVersionCommand(),
	)
	buf := bytes.NewBuffer(nil)
	root.SetOut(buf)
	root.SetArgs(args)

	require.NoError(t, root.Execute())
	return buf.String()
}

func startServer(t *testing.T) string {
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
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func accountArgs(port string) []string {
	return []string{"--jid", "test@localhost", "--password", "123", "--server", "127.0.0.1", "--port", port}
}

func TestPingCommand(t *testing.T) {
	port := startServer(t)

	out := execute(t, append([]string{"ping"}, accountArgs(port)...)...)

	require.Contains(t, out, "Pong from localhost")
}

func TestSendCommand(t *testing.T) {
	port := startServer(t)

	out := execute(t, append([]string{"send", "bob@localhost", "hello", "there"}, accountArgs(port)...)...)

	require.Equal(t, "Message sent to bob@localhost\n", out)
}

func TestUserCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	out := execute(t, "user", "add", "alice:123", "--bolt-path", path, "--scram")
	require.Equal(t, "User alice created\n", out)

	out = execute(t, "user", "passwd", "alice", "--new-user-password", "456", "--bolt-path", path)
	require.Equal(t, "Password updated\n", out)

	p, err := boltcreds.Open(path)
	require.NoError(t, err)

	ok, err := auth.VerifyPassword(context.Background(), p, "alice", "localhost", "456")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, p.Close())

	out = execute(t, "user", "delete", "alice", "--bolt-path", path)
	require.Equal(t, "User alice deleted\n", out)

	p, err = boltcreds.Open(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	exists, err := p.UserExists(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	require.Contains(t, out, "xmppctl version: v")
}
