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

// Package settings contains the configuration surface shared by streams, transports and processors.
package settings

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Legacy authentication methods.
const (
	LegacyAuthDigest = "digest"
	LegacyAuthPlain  = "plain"
)

// Settings contains the XMPP stream configuration.
// A Settings value is treated as read-only once handed over to a stream.
type Settings struct {
	// Language is the preferred stream language.
	Language string `yaml:"language"`

	// Languages is the list of languages accepted by a receiving stream.
	Languages []string `yaml:"languages"`

	// DefaultStanzaTimeout is the timeout applied to IQ requests when none is given.
	DefaultStanzaTimeout time.Duration `yaml:"default_stanza_timeout"`

	// Server overrides the host to connect to. SRV lookup is skipped when set.
	Server string `yaml:"server"`

	// Port overrides the port to connect to.
	Port int `yaml:"port"`

	// C2SService is the SRV service name used for client connections.
	C2SService string `yaml:"c2s_service"`

	// C2SPort is the fallback client port used when SRV lookup yields nothing.
	C2SPort int `yaml:"c2s_port"`

	// S2SService is the SRV service name used for server connections.
	S2SService string `yaml:"s2s_service"`

	// ComponentPort is the default external component port.
	ComponentPort int `yaml:"component_port"`

	// Keepalive is the whitespace keepalive interval. Zero disables keepalives.
	Keepalive time.Duration `yaml:"keepalive"`

	// HousekeepingInterval is the period of the IQ timeout sweep.
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`

	// DisconnectTimeout is the time waited for the peer closing tag on disconnect.
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`

	// StartTLS enables StartTLS negotiation.
	StartTLS bool `yaml:"starttls"`

	// TLSRequire makes StartTLS mandatory.
	TLSRequire bool `yaml:"tls_require"`

	// TLSVerifyPeer enables peer certificate verification.
	TLSVerifyPeer bool `yaml:"tls_verify_peer"`

	// TLSCertFile is the path of the local certificate chain.
	TLSCertFile string `yaml:"tls_cert_file"`

	// TLSKeyFile is the path of the local certificate private key.
	TLSKeyFile string `yaml:"tls_key_file"`

	// TLSCACertFile is the path of the trusted CA bundle.
	TLSCACertFile string `yaml:"tls_cacert_file"`

	// TLSConfig, when set, takes precedence over the certificate file settings.
	TLSConfig *tls.Config `yaml:"-"`

	// SASLMechanisms is the list of SASL mechanisms in preference order.
	SASLMechanisms []string `yaml:"sasl_mechanisms"`

	// InsecureAuth allows plain text credentials over unencrypted streams.
	InsecureAuth bool `yaml:"insecure_auth"`

	// LegacyAuth enables jabber:iq:auth authentication.
	LegacyAuth bool `yaml:"legacy_auth"`

	// LegacyAuthMethods is the list of allowed legacy authentication methods in preference order.
	LegacyAuthMethods []string `yaml:"legacy_auth_methods"`

	// Resource is the resource requested at bind time. A random one is used when empty.
	Resource string `yaml:"resource"`

	// IPv4 enables IPv4 connections.
	IPv4 bool `yaml:"ipv4"`

	// IPv6 enables IPv6 connections.
	IPv6 bool `yaml:"ipv6"`

	// PreferIPv6 makes IPv6 addresses be tried first.
	PreferIPv6 bool `yaml:"prefer_ipv6"`

	// MaxStanzaSize is the maximum size of an incoming top level element.
	MaxStanzaSize int `yaml:"max_stanza_size"`

	// ReadRateLimit is the maximum number of bytes read per second. Zero disables it.
	ReadRateLimit int `yaml:"read_rate_limit"`

	// IQResponseFallback allows IQ responses to match requests registered without a peer address.
	IQResponseFallback bool `yaml:"iq_response_fallback"`

	// JIDCacheSize is the capacity of the stream JID cache.
	JIDCacheSize int `yaml:"jid_cache_size"`
}

// Default returns the factory default settings.
func Default() *Settings {
	return &Settings{
		Language:             "en",
		Languages:            []string{"en"},
		DefaultStanzaTimeout: 300 * time.Second,
		C2SService:           "xmpp-client",
		C2SPort:              5222,
		S2SService:           "xmpp-server",
		ComponentPort:        5347,
		HousekeepingInterval: time.Second,
		DisconnectTimeout:    10 * time.Second,
		StartTLS:             true,
		TLSVerifyPeer:        true,
		SASLMechanisms:       []string{"SCRAM-SHA-1", "PLAIN"},
		LegacyAuthMethods:    []string{LegacyAuthDigest, LegacyAuthPlain},
		IPv4:                 true,
		IPv6:                 true,
		MaxStanzaSize:        32768,
		IQResponseFallback:   true,
		JIDCacheSize:         1024,
	}
}

// Load decodes YAML settings read from r on top of the factory defaults.
func Load(r io.Reader) (*Settings, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "settings: failed to read")
	}
	s := Default()
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "settings: failed to decode")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Copy returns a shallow copy of the settings with its own slices.
func (s *Settings) Copy() *Settings {
	cp := *s
	cp.Languages = append([]string(nil), s.Languages...)
	cp.SASLMechanisms = append([]string(nil), s.SASLMechanisms...)
	cp.LegacyAuthMethods = append([]string(nil), s.LegacyAuthMethods...)
	return &cp
}

// Validate checks settings values ranges.
func (s *Settings) Validate() error {
	switch {
	case !s.IPv4 && !s.IPv6:
		return errors.New("settings: at least one of ipv4 or ipv6 must be enabled")
	case s.Port < 0 || s.Port > 65535:
		return errors.Errorf("settings: invalid port: %d", s.Port)
	case s.MaxStanzaSize <= 0:
		return errors.Errorf("settings: invalid max_stanza_size: %d", s.MaxStanzaSize)
	case s.ReadRateLimit < 0:
		return errors.Errorf("settings: invalid read_rate_limit: %d", s.ReadRateLimit)
	case s.HousekeepingInterval <= 0:
		return errors.Errorf("settings: invalid housekeeping_interval: %v", s.HousekeepingInterval)
	case s.DefaultStanzaTimeout <= 0:
		return errors.Errorf("settings: invalid default_stanza_timeout: %v", s.DefaultStanzaTimeout)
	case s.Keepalive < 0:
		return errors.Errorf("settings: invalid keepalive: %v", s.Keepalive)
	case s.TLSRequire && !s.StartTLS:
		return errors.New("settings: tls_require needs starttls enabled")
	case (len(s.TLSCertFile) > 0) != (len(s.TLSKeyFile) > 0):
		return errors.New("settings: tls_cert_file and tls_key_file must be set together")
	}
	for _, m := range s.LegacyAuthMethods {
		if m != LegacyAuthDigest && m != LegacyAuthPlain {
			return errors.Errorf("settings: unknown legacy auth method: %s", m)
		}
	}
	return nil
}

// ClientTLSConfig returns the TLS configuration used when initiating a stream to serverName.
func (s *Settings) ClientTLSConfig(serverName string) (*tls.Config, error) {
	if s.TLSConfig != nil {
		cfg := s.TLSConfig.Clone()
		if len(cfg.ServerName) == 0 {
			cfg.ServerName = serverName
		}
		return cfg, nil
	}
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: !s.TLSVerifyPeer,
		MinVersion:         tls.VersionTLS12,
	}
	if err := s.loadCertificates(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServerTLSConfig returns the TLS configuration used when receiving a stream.
func (s *Settings) ServerTLSConfig() (*tls.Config, error) {
	if s.TLSConfig != nil {
		return s.TLSConfig.Clone(), nil
	}
	if len(s.TLSCertFile) == 0 {
		return nil, errors.New("settings: no certificate configured")
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if err := s.loadCertificates(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TLSAvailable reports whether a receiving stream is able to offer StartTLS.
func (s *Settings) TLSAvailable() bool {
	return s.StartTLS && (s.TLSConfig != nil || len(s.TLSCertFile) > 0)
}

func (s *Settings) loadCertificates(cfg *tls.Config) error {
	if len(s.TLSCertFile) > 0 {
		cer, err := tls.LoadX509KeyPair(s.TLSCertFile, s.TLSKeyFile)
		if err != nil {
			return errors.Wrap(err, "settings: failed to load certificate")
		}
		cfg.Certificates = []tls.Certificate{cer}
	}
	if len(s.TLSCACertFile) > 0 {
		pem, err := ioutil.ReadFile(s.TLSCACertFile)
		if err != nil {
			return errors.Wrap(err, "settings: failed to read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return errors.Errorf("settings: no certificates found in %s", s.TLSCACertFile)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}
	return nil
}
