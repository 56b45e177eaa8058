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

// Package sqlcreds implements a credential provider backed by a SQL database.
package sqlcreds

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/pkg/errors"
)

// Supported driver names.
const (
	PostgresDriver = "postgres"
	MySQLDriver    = "mysql"
)

const usersTableName = "users"

// Schema is the PostgreSQL definition of the credentials table.
const Schema = `CREATE TABLE IF NOT EXISTS users (
    username VARCHAR(1023) NOT NULL,
    format VARCHAR(32) NOT NULL,
    secret TEXT NOT NULL,
    PRIMARY KEY (username, format)
)`

// Option defines Provider option type.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider is a CredentialProvider reading secrets from the users table.
type Provider struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	logger kitlog.Logger
}

// New returns a new Provider running its queries on db.
// driver selects the statement placeholder format.
func New(db *sql.DB, driver string, opts ...Option) (*Provider, error) {
	var ph sq.PlaceholderFormat
	switch driver {
	case PostgresDriver:
		ph = sq.Dollar
	case MySQLDriver:
		ph = sq.Question
	default:
		return nil, errors.Errorf("sqlcreds: unsupported driver: %s", driver)
	}
	p := &Provider{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(ph),
		logger: kitlog.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetPassword satisfies auth.CredentialProvider interface.
func (p *Provider) GetPassword(ctx context.Context, username, _ string, acceptableFormats []string) (string, string, error) {
	if len(acceptableFormats) == 0 {
		return "", "", nil
	}
	rows, err := p.sb.Select("format", "secret").
		From(usersTableName).
		Where(sq.And{sq.Eq{"username": username}, sq.Eq{"format": acceptableFormats}}).
		RunWith(p.db).
		QueryContext(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "sqlcreds: failed to fetch credentials")
	}
	defer closeRows(rows)

	secrets := make(map[string]string, len(acceptableFormats))
	for rows.Next() {
		var format, secret string
		if err := rows.Scan(&format, &secret); err != nil {
			return "", "", err
		}
		secrets[format] = secret
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}
	for _, f := range acceptableFormats {
		if s, ok := secrets[f]; ok {
			return s, f, nil
		}
	}
	level.Debug(p.logger).Log("msg", "no usable credentials", "username", username)
	return "", "", nil
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
func (p *Provider) UpsertSecret(ctx context.Context, username, format, secret string) error {
	q := p.sb.Insert(usersTableName).
		Columns("username", "format", "secret").
		Values(username, format, secret)

	switch p.driver {
	case PostgresDriver:
		q = q.Suffix("ON CONFLICT (username, format) DO UPDATE SET secret = EXCLUDED.secret")
	case MySQLDriver:
		q = q.Suffix("ON DUPLICATE KEY UPDATE secret = VALUES(secret)")
	}
	_, err := q.RunWith(p.db).ExecContext(ctx)
	return err
}

// DeleteUser removes every username credential.
func (p *Provider) DeleteUser(ctx context.Context, username string) error {
	_, err := p.sb.Delete(usersTableName).
		Where(sq.Eq{"username": username}).
		RunWith(p.db).
		ExecContext(ctx)
	return err
}

// UserExists reports whether any credential is stored for username.
func (p *Provider) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := p.sb.Select("COUNT(*)").
		From(usersTableName).
		Where(sq.Eq{"username": username}).
		RunWith(p.db).
		QueryRowContext(ctx).
		Scan(&count)
	switch err {
	case nil:
		return count > 0, nil
	default:
		return false, err
	}
}

func closeRows(rows *sql.Rows) {
	_ = rows.Close()
}
