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

// Package auth implements the server side of XMPP authentication.
package auth

import (
	"context"
	"fmt"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/pkg/errors"
)

// Mechanism names.
const (
	PlainMechanism       = "PLAIN"
	ScramSHA1Mechanism   = "SCRAM-SHA-1"
	ScramSHA256Mechanism = "SCRAM-SHA-256"
)

// ErrUnknownMechanism is returned when creating an authenticator for an unsupported mechanism.
var ErrUnknownMechanism = errors.New("auth: unknown mechanism")

// Authenticator defines a generic authenticator state machine.
type Authenticator interface {
	// Mechanism returns authenticator mechanism name.
	Mechanism() string

	// Username returns authenticated username in case authentication process has been completed.
	Username() string

	// AuthzID returns the authorization identity requested by the peer, if any.
	AuthzID() string

	// Authenticated returns whether or not user has been authenticated.
	Authenticated() bool

	// ProcessElement process an incoming <auth/> or <response/> element.
	// It returns the <challenge/> or <success/> element to be sent back.
	ProcessElement(ctx context.Context, elem *xmpp.Element) (*xmpp.Element, *SASLError)

	// Reset resets authenticator internal state.
	Reset()
}

// NewAuthenticator returns an authenticator for mechanism checking credentials against provider.
func NewAuthenticator(mechanism string, provider CredentialProvider, realm string) (Authenticator, error) {
	switch mechanism {
	case PlainMechanism:
		return NewPlain(provider, realm), nil
	case ScramSHA1Mechanism:
		return NewScram(ScramSHA1, provider, realm), nil
	case ScramSHA256Mechanism:
		return NewScram(ScramSHA256, provider, realm), nil
	}
	return nil, errors.Wrap(ErrUnknownMechanism, mechanism)
}

// IsSupportedMechanism reports whether NewAuthenticator can build mechanism.
func IsSupportedMechanism(mechanism string) bool {
	switch mechanism {
	case PlainMechanism, ScramSHA1Mechanism, ScramSHA256Mechanism:
		return true
	}
	return false
}

// SASLErrorReason defines the SASL error reason.
type SASLErrorReason uint8

const (
	// Aborted represents an 'aborted' authentication error.
	Aborted SASLErrorReason = iota

	// IncorrectEncoding represents a 'incorrect-encoding' authentication error.
	IncorrectEncoding

	// InvalidAuthzID represents an 'invalid-authzid' authentication error.
	InvalidAuthzID

	// InvalidMechanism represents an 'invalid-mechanism' authentication error.
	InvalidMechanism

	// MalformedRequest represents a 'malformed-request' authentication error.
	MalformedRequest

	// MechanismTooWeak represents a 'mechanism-too-weak' authentication error.
	MechanismTooWeak

	// NotAuthorized represents a 'not-authorized' authentication error.
	NotAuthorized

	// EncryptionRequired represents an 'encryption-required' authentication error.
	EncryptionRequired

	// TemporaryAuthFailure represents a 'temporary-auth-failure' authentication error.
	TemporaryAuthFailure
)

// String returns SASLErrorReason string representation.
func (r SASLErrorReason) String() string {
	switch r {
	case Aborted:
		return "aborted"
	case IncorrectEncoding:
		return "incorrect-encoding"
	case InvalidAuthzID:
		return "invalid-authzid"
	case InvalidMechanism:
		return "invalid-mechanism"
	case MalformedRequest:
		return "malformed-request"
	case MechanismTooWeak:
		return "mechanism-too-weak"
	case NotAuthorized:
		return "not-authorized"
	case EncryptionRequired:
		return "encryption-required"
	case TemporaryAuthFailure:
		return "temporary-auth-failure"
	default:
		return ""
	}
}

// ParseSASLErrorReason returns the reason named s. Unknown names map to NotAuthorized.
func ParseSASLErrorReason(s string) SASLErrorReason {
	for r := Aborted; r <= TemporaryAuthFailure; r++ {
		if r.String() == s {
			return r
		}
	}
	return NotAuthorized
}

// SASLError represents specific SASL error type.
type SASLError struct {
	Reason SASLErrorReason
	Err    error
}

// NewSASLError returns a new SASLError instance.
func NewSASLError(reason SASLErrorReason, err error) *SASLError {
	return &SASLError{Reason: reason, Err: err}
}

// Element returns the <failure/> element reporting the error.
func (se *SASLError) Element() *xmpp.Element {
	return xmpp.NewElementNamespace("failure", xmpp.SASLNamespace).
		AppendElement(xmpp.NewElementName(se.Reason.String()))
}

// Error satisfies error interface.
func (se *SASLError) Error() string {
	if se.Reason != TemporaryAuthFailure && se.Err != nil {
		return fmt.Sprintf("%s: %v", se.Reason, se.Err)
	}
	return se.Reason.String()
}

// Unwrap returns the underlying error, if any.
func (se *SASLError) Unwrap() error {
	return se.Err
}

// FailureReason extracts the reason carried by a <failure/> element.
func FailureReason(elem *xmpp.Element) SASLErrorReason {
	for _, child := range elem.Elements() {
		if child.Name() != "text" {
			return ParseSASLErrorReason(child.Name())
		}
	}
	return NotAuthorized
}
