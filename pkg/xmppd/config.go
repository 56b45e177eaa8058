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

	"github.com/kkyr/fig"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/pkg/errors"
)

type LoggerConfig struct {
	Level  string `fig:"level" default:"info"`
	Format string `fig:"format"`
}

// UserConfig defines an account seeded into the credential store on start.
type UserConfig struct {
	Username string `fig:"username"`
	Password string `fig:"password"`
}

type StorageConfig struct {
	// Type is one of memory, pgsql, mysql or bolt.
	Type     string `fig:"type" default:"memory"`
	DSN      string `fig:"dsn"`
	BoltPath string `fig:"bolt_path" default:"xmppcore.db"`

	// Scram stores seeded passwords as SCRAM-SHA-1 salted secrets instead of plain text.
	Scram           bool `fig:"scram"`
	ScramIterations int  `fig:"scram_iterations" default:"4096"`

	Users []UserConfig `fig:"users"`
}

type C2SConfig struct {
	Disabled bool   `fig:"disabled"`
	BindAddr string `fig:"bind_addr" default:"0.0.0.0"`
	Port     int    `fig:"port" default:"5222"`
}

type ComponentSecret struct {
	Domain string `fig:"domain"`
	Secret string `fig:"secret"`
}

type ComponentsConfig struct {
	BindAddr string            `fig:"bind_addr" default:"0.0.0.0"`
	Port     int               `fig:"port" default:"5347"`
	Secrets  []ComponentSecret `fig:"secrets"`
}

type Config struct {
	Logger LoggerConfig `fig:"logger"`

	Domain   string `fig:"domain" default:"localhost"`
	HTTPPort int    `fig:"http_port" default:"6060"`

	// StreamSettingsFile is the YAML file stream settings are read from. Defaults apply when empty.
	StreamSettingsFile string `fig:"stream_settings_file"`

	Storage    StorageConfig    `fig:"storage"`
	C2S        C2SConfig        `fig:"c2s"`
	Components ComponentsConfig `fig:"components"`
}

func loadConfig(configFile string) (*Config, error) {
	var cfg Config
	file := filepath.Base(configFile)
	dir := filepath.Dir(configFile)

	err := fig.Load(&cfg, fig.File(file), fig.Dirs(dir))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) streamSettings() (*settings.Settings, error) {
	if len(c.StreamSettingsFile) == 0 {
		return settings.Default(), nil
	}
	f, err := os.Open(c.StreamSettingsFile)
	if err != nil {
		return nil, errors.Wrap(err, "xmppd: open stream settings")
	}
	defer func() { _ = f.Close() }()

	return settings.Load(f)
}

func (c *ComponentsConfig) secretMap() map[string]string {
	m := make(map[string]string, len(c.Secrets))
	for _, s := range c.Secrets {
		m[s.Domain] = s.Secret
	}
	return m
}
