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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "logger:\n  level: debug\n")

	cfg, err := loadConfig(p)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "localhost", cfg.Domain)
	require.Equal(t, 6060, cfg.HTTPPort)
	require.Equal(t, "memory", cfg.Storage.Type)
	require.Equal(t, 4096, cfg.Storage.ScramIterations)
	require.Equal(t, 5222, cfg.C2S.Port)
	require.Equal(t, 5347, cfg.Components.Port)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	stgFile := writeFile(t, dir, "stream.yaml", "default_stanza_timeout: 30s\n")

	p := writeFile(t, dir, "config.yaml", `
domain: example.org
http_port: 7070
stream_settings_file: `+stgFile+`
storage:
  type: bolt
  bolt_path: /var/lib/xmppd/users.db
  users:
    - username: alice
      password: secret
c2s:
  port: 15222
components:
  port: 15347
  secrets:
    - domain: echo.example.org
      secret: s3cr3t
`)
	cfg, err := loadConfig(p)
	require.NoError(t, err)

	require.Equal(t, "example.org", cfg.Domain)
	require.Equal(t, 7070, cfg.HTTPPort)
	require.Equal(t, "bolt", cfg.Storage.Type)
	require.Equal(t, "/var/lib/xmppd/users.db", cfg.Storage.BoltPath)
	require.Len(t, cfg.Storage.Users, 1)
	require.Equal(t, "alice", cfg.Storage.Users[0].Username)
	require.Equal(t, 15222, cfg.C2S.Port)
	require.Equal(t, map[string]string{"echo.example.org": "s3cr3t"}, cfg.Components.secretMap())

	stg, err := cfg.streamSettings()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, stg.DefaultStanzaTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
