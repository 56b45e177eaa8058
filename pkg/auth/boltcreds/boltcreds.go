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

// Package boltcreds implements a credential provider backed by a bbolt database.
package boltcreds

import (
	"context"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const usersBucket = "users"

// Option defines Provider option type.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider is a CredentialProvider storing secrets in the bbolt 'users' bucket.
// Every user owns a nested bucket keyed by credential format.
type Provider struct {
	db     *bolt.DB
	owned  bool
	logger kitlog.Logger
}

// Open opens (or creates) the database file at path.
func Open(path string, opts ...Option) (*Provider, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "boltcreds: failed to open %s", path)
	}
	p := New(db, opts...)
	p.owned = true
	return p, nil
}

// New returns a new Provider using an already opened database.
func New(db *bolt.DB, opts ...Option) *Provider {
	p := &Provider{
		db:     db,
		logger: kitlog.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the underlying database if it was opened by Open.
func (p *Provider) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}

// GetPassword satisfies auth.CredentialProvider interface.
func (p *Provider) GetPassword(_ context.Context, username, _ string, acceptableFormats []string) (secret, format string, err error) {
	err = p.db.View(func(tx *bolt.Tx) error {
		ub := userBucket(tx, username)
		if ub == nil {
			return nil
		}
		for _, f := range acceptableFormats {
			if v := ub.Get([]byte(f)); v != nil {
				secret, format = string(v), f
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	if len(format) == 0 {
		level.Debug(p.logger).Log("msg", "no usable credentials", "username", username)
	}
	return secret, format, nil
}

// UpsertPassword stores a plain text password for username.
func (p *Provider) UpsertPassword(ctx context.Context, username, password string) error {
	return p.UpsertSecret(ctx, username, auth.PlainFormat, password)
}

// UpsertScramSecret stores a SCRAM salted password for username.
func (p *Provider) UpsertScramSecret(ctx context.Context, username string, tp auth.ScramType, secret *auth.ScramSecret) error {
	return p.UpsertSecret(ctx, username, tp.Format(), secret.String())
}

// UpsertSecret stores secret as username credentials in the given format.
func (p *Provider) UpsertSecret(_ context.Context, username, format, secret string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		if err != nil {
			return err
		}
		ub, err := b.CreateBucketIfNotExists([]byte(username))
		if err != nil {
			return err
		}
		return ub.Put([]byte(format), []byte(secret))
	})
}

// DeleteUser removes every username credential.
func (p *Provider) DeleteUser(_ context.Context, username string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(usersBucket))
		if b == nil || b.Bucket([]byte(username)) == nil {
			return nil
		}
		return b.DeleteBucket([]byte(username))
	})
}

// UserExists reports whether any credential is stored for username.
func (p *Provider) UserExists(_ context.Context, username string) (bool, error) {
	var ok bool
	err := p.db.View(func(tx *bolt.Tx) error {
		ok = userBucket(tx, username) != nil
		return nil
	})
	return ok, err
}

func userBucket(tx *bolt.Tx, username string) *bolt.Bucket {
	b := tx.Bucket([]byte(usersBucket))
	if b == nil {
		return nil
	}
	return b.Bucket([]byte(username))
}
