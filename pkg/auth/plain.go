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
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"

	"github.com/ortuman/xmppcore/pkg/xmpp"
)

// Plain represents PLAIN authentication mechanism.
type Plain struct {
	provider      CredentialProvider
	realm         string
	username      string
	authzID       string
	authenticated bool
}

// NewPlain returns a new PLAIN authenticator.
func NewPlain(provider CredentialProvider, realm string) *Plain {
	return &Plain{
		provider: provider,
		realm:    realm,
	}
}

// Mechanism returns authenticator mechanism name.
func (p *Plain) Mechanism() string {
	return PlainMechanism
}

// Username returns authenticated username in case authentication process has been completed.
func (p *Plain) Username() string {
	if p.authenticated {
		return p.username
	}
	return ""
}

// AuthzID returns the requested authorization identity.
func (p *Plain) AuthzID() string {
	return p.authzID
}

// Authenticated returns whether or not user has been authenticated.
func (p *Plain) Authenticated() bool {
	return p.authenticated
}

// ProcessElement process an incoming authenticator element.
func (p *Plain) ProcessElement(ctx context.Context, elem *xmpp.Element) (*xmpp.Element, *SASLError) {
	if elem.Name() != "auth" || p.authenticated {
		return nil, NewSASLError(NotAuthorized, nil)
	}
	if len(elem.Text()) == 0 {
		return nil, NewSASLError(MalformedRequest, nil)
	}
	b, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return nil, NewSASLError(IncorrectEncoding, err)
	}
	s := bytes.Split(b, []byte{0})
	if len(s) != 3 {
		return nil, NewSASLError(IncorrectEncoding, nil)
	}
	authzID, username, password := string(s[0]), string(s[1]), string(s[2])
	if len(username) == 0 {
		return nil, NewSASLError(MalformedRequest, nil)
	}
	ok, err := VerifyPassword(ctx, p.provider, username, p.realm, password)
	if err != nil {
		return nil, NewSASLError(TemporaryAuthFailure, err)
	}
	if !ok {
		return nil, NewSASLError(NotAuthorized, nil)
	}
	p.username = username
	p.authzID = authzID
	p.authenticated = true

	return xmpp.NewElementNamespace("success", xmpp.SASLNamespace), nil
}

// Reset resets plain internal state.
func (p *Plain) Reset() {
	p.username = ""
	p.authzID = ""
	p.authenticated = false
}

// VerifyPassword checks password against the credentials provider stores for username.
func VerifyPassword(ctx context.Context, provider CredentialProvider, username, realm, password string) (bool, error) {
	secret, format, err := provider.GetPassword(ctx, username, realm, []string{PlainFormat, ScramSHA256Format, ScramSHA1Format})
	if err != nil {
		return false, err
	}
	switch format {
	case PlainFormat:
		return subtle.ConstantTimeCompare([]byte(secret), []byte(password)) == 1, nil

	case ScramSHA1Format, ScramSHA256Format:
		tp := ScramSHA1
		if format == ScramSHA256Format {
			tp = ScramSHA256
		}
		s, err := ParseScramSecret(secret)
		if err != nil {
			return false, err
		}
		salted := tp.saltPassword(password, s.Salt, s.IterationCount)
		return subtle.ConstantTimeCompare(salted, s.SaltedPassword) == 1, nil
	}
	return false, nil
}
