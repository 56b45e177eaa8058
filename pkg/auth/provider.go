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

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Credential formats returned by a CredentialProvider.
const (
	PlainFormat       = "plain"
	ScramSHA1Format   = "scram-sha-1"
	ScramSHA256Format = "scram-sha-256"
)

// DefaultIterationCount is the PBKDF2 iteration count of generated SCRAM secrets.
const DefaultIterationCount = 4096

const saltSize = 16

// ErrBadScramSecret is returned when a stored SCRAM secret cannot be decoded.
var ErrBadScramSecret = errors.New("auth: bad SCRAM secret format")

// CredentialProvider gives access to user secrets.
type CredentialProvider interface {
	// GetPassword returns the secret stored for username in one of acceptableFormats.
	// An empty format means that no usable credentials exist.
	GetPassword(ctx context.Context, username, realm string, acceptableFormats []string) (secret, format string, err error)
}

// ScramSecret holds a SCRAM salted password.
type ScramSecret struct {
	Salt           []byte
	IterationCount int
	SaltedPassword []byte
}

// NewScramSecret derives a salted password for password using a random salt.
func NewScramSecret(tp ScramType, password string, iterationCount int) (*ScramSecret, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return &ScramSecret{
		Salt:           salt,
		IterationCount: iterationCount,
		SaltedPassword: tp.saltPassword(password, salt, iterationCount),
	}, nil
}

// String returns the stored representation of s.
func (s *ScramSecret) String() string {
	return base64.StdEncoding.EncodeToString(s.Salt) + ":" +
		strconv.Itoa(s.IterationCount) + ":" +
		base64.StdEncoding.EncodeToString(s.SaltedPassword)
}

// ParseScramSecret decodes a secret previously encoded by ScramSecret.String.
func ParseScramSecret(str string) (*ScramSecret, error) {
	parts := strings.Split(str, ":")
	if len(parts) != 3 {
		return nil, ErrBadScramSecret
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.Wrap(ErrBadScramSecret, err.Error())
	}
	iter, err := strconv.Atoi(parts[1])
	if err != nil || iter <= 0 {
		return nil, ErrBadScramSecret
	}
	salted, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errors.Wrap(ErrBadScramSecret, err.Error())
	}
	return &ScramSecret{Salt: salt, IterationCount: iter, SaltedPassword: salted}, nil
}

type memoryUser struct {
	password string
	scram    map[string]string
}

// MemoryProvider is an in-memory CredentialProvider.
type MemoryProvider struct {
	mu    sync.RWMutex
	users map[string]memoryUser
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{users: make(map[string]memoryUser)}
}

// AddUser stores a plain text password for username.
func (p *MemoryProvider) AddUser(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[username]
	u.password = password
	p.users[username] = u
}

// AddScramUser stores a SCRAM salted password for username.
func (p *MemoryProvider) AddScramUser(username string, tp ScramType, secret *ScramSecret) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[username]
	if u.scram == nil {
		u.scram = make(map[string]string)
	}
	u.scram[tp.Format()] = secret.String()
	p.users[username] = u
}

// DeleteUser removes username credentials.
func (p *MemoryProvider) DeleteUser(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, username)
}

// GetPassword satisfies CredentialProvider interface.
func (p *MemoryProvider) GetPassword(_ context.Context, username, _ string, acceptableFormats []string) (string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[username]
	if !ok {
		return "", "", nil
	}
	for _, f := range acceptableFormats {
		if f == PlainFormat && len(u.password) > 0 {
			return u.password, PlainFormat, nil
		}
		if s, ok := u.scram[f]; ok {
			return s, f, nil
		}
	}
	return "", "", nil
}

// saltPassword computes the SCRAM SaltedPassword value.
func (tp ScramType) saltPassword(password string, salt []byte, iterationCount int) []byte {
	h := tp.hashFn()
	return pbkdf2.Key([]byte(password), salt, iterationCount, h().Size(), h)
}
