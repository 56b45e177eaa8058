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
	"context"
	"database/sql"
	"fmt"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/auth/boltcreds"
	"github.com/ortuman/xmppcore/pkg/auth/sqlcreds"
	"github.com/pkg/errors"
)

const (
	memoryStorage = "memory"
	pgSQLStorage  = "pgsql"
	mySQLStorage  = "mysql"
	boltStorage   = "bolt"
)

type upserter interface {
	UpsertPassword(ctx context.Context, username, password string) error
	UpsertScramSecret(ctx context.Context, username string, tp auth.ScramType, secret *auth.ScramSecret) error
}

// credentialStore owns the credential provider backing every c2s stream.
type credentialStore struct {
	cfg    StorageConfig
	logger kitlog.Logger

	provider auth.CredentialProvider
	pingFn   func(ctx context.Context) error
	closeFn  func() error
}

func newCredentialStore(cfg StorageConfig, logger kitlog.Logger) (*credentialStore, error) {
	s := &credentialStore{
		cfg:     cfg,
		logger:  logger,
		closeFn: func() error { return nil },
	}
	switch cfg.Type {
	case memoryStorage, "":
		s.provider = auth.NewMemoryProvider()

	case pgSQLStorage, mySQLStorage:
		driver := sqlcreds.PostgresDriver
		if cfg.Type == mySQLStorage {
			driver = sqlcreds.MySQLDriver
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, errors.Wrapf(err, "xmppd: open %s storage", cfg.Type)
		}
		p, err := sqlcreds.New(db, driver, sqlcreds.WithLogger(logger))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.provider = p
		s.pingFn = db.PingContext
		s.closeFn = db.Close

	case boltStorage:
		p, err := boltcreds.Open(cfg.BoltPath, boltcreds.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		s.provider = p
		s.closeFn = p.Close

	default:
		return nil, fmt.Errorf("xmppd: unrecognized storage type: %s", cfg.Type)
	}
	return s, nil
}

// Provider returns the store credential provider.
func (s *credentialStore) Provider() auth.CredentialProvider {
	return s.provider
}

// Start seeds the configured users.
func (s *credentialStore) Start(ctx context.Context) error {
	if s.pingFn != nil {
		if err := s.pingFn(ctx); err != nil {
			return errors.Wrapf(err, "xmppd: %s storage unreachable", s.cfg.Type)
		}
	}
	for _, u := range s.cfg.Users {
		if err := s.seed(ctx, u); err != nil {
			return errors.Wrapf(err, "xmppd: seed user %s", u.Username)
		}
	}
	level.Info(s.logger).Log("msg", "credential store ready", "type", s.cfg.Type, "seeded_users", len(s.cfg.Users))
	return nil
}

// Stop releases the underlying storage.
func (s *credentialStore) Stop(_ context.Context) error {
	return s.closeFn()
}

func (s *credentialStore) seed(ctx context.Context, u UserConfig) error {
	var secret *auth.ScramSecret
	if s.cfg.Scram {
		var err error
		secret, err = auth.NewScramSecret(auth.ScramSHA1, u.Password, s.cfg.ScramIterations)
		if err != nil {
			return err
		}
	}
	switch p := s.provider.(type) {
	case *auth.MemoryProvider:
		if secret != nil {
			p.AddScramUser(u.Username, auth.ScramSHA1, secret)
			return nil
		}
		p.AddUser(u.Username, u.Password)
		return nil

	case upserter:
		if secret != nil {
			return p.UpsertScramSecret(ctx, u.Username, auth.ScramSHA1, secret)
		}
		return p.UpsertPassword(ctx, u.Username, u.Password)
	}
	return fmt.Errorf("xmppd: provider %T cannot be seeded", s.provider)
}
