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
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/google/uuid"
	"github.com/ortuman/xmppcore/pkg/xmpp"
)

// ScramType represents a scram autheticator class
type ScramType int

const (
	// ScramSHA1 represents SCRAM-SHA-1 authentication method.
	ScramSHA1 ScramType = iota

	// ScramSHA256 represents SCRAM-SHA-256 authentication method.
	ScramSHA256
)

// Mechanism returns the SASL mechanism name of tp.
func (tp ScramType) Mechanism() string {
	switch tp {
	case ScramSHA1:
		return ScramSHA1Mechanism
	case ScramSHA256:
		return ScramSHA256Mechanism
	}
	return ""
}

// Format returns the credential format holding tp salted passwords.
func (tp ScramType) Format() string {
	switch tp {
	case ScramSHA1:
		return ScramSHA1Format
	case ScramSHA256:
		return ScramSHA256Format
	}
	return ""
}

func (tp ScramType) hashFn() func() hash.Hash {
	if tp == ScramSHA256 {
		return sha256.New
	}
	return sha1.New
}

type scramState int

const (
	startScramState scramState = iota
	challengedScramState
)

type scramParameter struct {
	key string
	val string
}

type scramParameters struct {
	gs2Header string
	authzID   string
	params    []scramParameter
}

func (s *scramParameters) getParameter(key string) string {
	for _, p := range s.params {
		if p.key == key {
			return p.val
		}
	}
	return ""
}

func (s *scramParameters) String() string {
	ret := ""
	for i, p := range s.params {
		if i != 0 {
			ret += ","
		}
		ret += fmt.Sprintf("%s=%s", p.key, p.val)
	}
	return ret
}

// Scram represents a SCRAM authenticator.
type Scram struct {
	tp            ScramType
	provider      CredentialProvider
	realm         string
	h             func() hash.Hash
	state         scramState
	params        *scramParameters
	username      string
	secret        *ScramSecret
	srvNonce      string
	firstMessage  string
	authenticated bool
}

// NewScram returns a new scram authenticator instance.
func NewScram(scramType ScramType, provider CredentialProvider, realm string) *Scram {
	return &Scram{
		tp:       scramType,
		provider: provider,
		realm:    realm,
		h:        scramType.hashFn(),
		state:    startScramState,
	}
}

// Mechanism returns authenticator mechanism name.
func (s *Scram) Mechanism() string {
	return s.tp.Mechanism()
}

// Username returns authenticated username in case authentication process has been completed.
func (s *Scram) Username() string {
	if s.authenticated {
		return s.username
	}
	return ""
}

// AuthzID returns the requested authorization identity.
func (s *Scram) AuthzID() string {
	if s.params == nil {
		return ""
	}
	return s.params.authzID
}

// Authenticated returns whether or not user has been authenticated.
func (s *Scram) Authenticated() bool {
	return s.authenticated
}

// ProcessElement process an incoming authenticator element.
func (s *Scram) ProcessElement(ctx context.Context, elem *xmpp.Element) (*xmpp.Element, *SASLError) {
	switch elem.Name() {
	case "auth":
		if s.state == startScramState {
			return s.handleStart(ctx, elem)
		}
	case "response":
		if s.state == challengedScramState {
			return s.handleChallenged(elem)
		}
	}
	return nil, NewSASLError(NotAuthorized, nil)
}

// Reset resets scram internal state.
func (s *Scram) Reset() {
	s.authenticated = false

	s.state = startScramState
	s.params = nil
	s.username = ""
	s.secret = nil
	s.srvNonce = ""
	s.firstMessage = ""
}

func (s *Scram) handleStart(ctx context.Context, elem *xmpp.Element) (*xmpp.Element, *SASLError) {
	p, saslErr := s.getElementPayload(elem)
	if saslErr != nil {
		return nil, saslErr
	}
	if saslErr := s.parseParameters(p); saslErr != nil {
		return nil, saslErr
	}
	username := s.params.getParameter("n")
	cNonce := s.params.getParameter("r")

	if len(username) == 0 || len(cNonce) == 0 {
		return nil, NewSASLError(MalformedRequest, nil)
	}
	secret, err := s.fetchSecret(ctx, username)
	if err != nil {
		return nil, NewSASLError(TemporaryAuthFailure, err)
	}
	if secret == nil {
		return nil, NewSASLError(NotAuthorized, nil)
	}
	s.username = username
	s.secret = secret

	saltB64 := base64.StdEncoding.EncodeToString(secret.Salt)

	s.srvNonce = cNonce + "-" + uuid.New().String()
	s.firstMessage = fmt.Sprintf("r=%s,s=%s,i=%d", s.srvNonce, saltB64, secret.IterationCount)

	s.state = challengedScramState

	return xmpp.NewElementNamespace("challenge", xmpp.SASLNamespace).
		SetText(base64.StdEncoding.EncodeToString([]byte(s.firstMessage))), nil
}

func (s *Scram) handleChallenged(elem *xmpp.Element) (*xmpp.Element, *SASLError) {
	p, saslErr := s.getElementPayload(elem)
	if saslErr != nil {
		return nil, saslErr
	}
	c := base64.StdEncoding.EncodeToString([]byte(s.params.gs2Header))
	initialMessage := s.params.String()
	clientFinalMessageBare := fmt.Sprintf("c=%s,r=%s", c, s.srvNonce)

	saltedPassword := s.secret.SaltedPassword
	clientKey := s.hmac([]byte("Client Key"), saltedPassword)
	storedKey := s.hash(clientKey)
	authMessage := initialMessage + "," + s.firstMessage + "," + clientFinalMessageBare
	clientSignature := s.hmac([]byte(authMessage), storedKey)

	clientProof := make([]byte, len(clientKey))
	for i := 0; i < len(clientKey); i++ {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}
	serverKey := s.hmac([]byte("Server Key"), saltedPassword)
	serverSignature := s.hmac([]byte(authMessage), serverKey)

	clientFinalMessage := clientFinalMessageBare + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	if !hmac.Equal([]byte(clientFinalMessage), []byte(p)) {
		return nil, NewSASLError(NotAuthorized, nil)
	}
	v := "v=" + base64.StdEncoding.EncodeToString(serverSignature)

	s.authenticated = true

	return xmpp.NewElementNamespace("success", xmpp.SASLNamespace).
		SetText(base64.StdEncoding.EncodeToString([]byte(v))), nil
}

// fetchSecret returns the salted password of username, deriving it when only a plain password is stored.
func (s *Scram) fetchSecret(ctx context.Context, username string) (*ScramSecret, error) {
	secret, format, err := s.provider.GetPassword(ctx, username, s.realm, []string{s.tp.Format(), PlainFormat})
	if err != nil {
		return nil, err
	}
	switch format {
	case s.tp.Format():
		return ParseScramSecret(secret)
	case PlainFormat:
		return NewScramSecret(s.tp, secret, DefaultIterationCount)
	}
	return nil, nil
}

func (s *Scram) getElementPayload(elem *xmpp.Element) (string, *SASLError) {
	if len(elem.Text()) == 0 {
		return "", NewSASLError(IncorrectEncoding, nil)
	}
	b, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return "", NewSASLError(IncorrectEncoding, err)
	}
	return string(b), nil
}

func (s *Scram) parseParameters(str string) *SASLError {
	p := &scramParameters{}

	sp := strings.Split(str, ",")
	if len(sp) < 2 {
		return NewSASLError(IncorrectEncoding, nil)
	}
	gs2BindFlag := sp[0]

	// https://tools.ietf.org/html/rfc5801#section-5
	switch {
	case gs2BindFlag == "n", gs2BindFlag == "y":
		break
	case gs2BindFlag == "p", strings.HasPrefix(gs2BindFlag, "p="):
		// channel binding is not offered
		return NewSASLError(NotAuthorized, nil)
	default:
		return NewSASLError(MalformedRequest, nil)
	}
	authzID := sp[1]
	p.gs2Header = gs2BindFlag + "," + authzID + ","

	if len(authzID) > 0 {
		key, val := splitKeyAndValue(authzID, '=')
		if len(key) == 0 || key != "a" {
			return NewSASLError(MalformedRequest, nil)
		}
		p.authzID = val
	}
	for i := 2; i < len(sp); i++ {
		key, val := splitKeyAndValue(sp[i], '=')
		p.params = append(p.params, scramParameter{key, val})
	}
	s.params = p
	return nil
}

func (s *Scram) hmac(b []byte, key []byte) []byte {
	m := hmac.New(s.h, key)
	m.Write(b)
	return m.Sum(nil)
}

func (s *Scram) hash(b []byte) []byte {
	h := s.h()
	h.Write(b)
	return h.Sum(nil)
}

func splitKeyAndValue(str string, sep byte) (key string, value string) {
	j := -1
	for i := 0; i < len(str); i++ {
		if str[i] == sep {
			j = i
			break
		}
	}
	if j == -1 {
		return "", ""
	}
	key = str[0:j]
	value = str[j+1:]
	return
}
