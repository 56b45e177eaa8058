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

package stream

import (
	"github.com/pkg/errors"
)

// State represents a stream lifecycle state.
type State int

const (
	// StateDisconnected is the initial and final state of a stream.
	StateDisconnected State = iota

	// StateConnecting means the transport is being established.
	StateConnecting

	// StateConnected means the stream header has been sent.
	StateConnected

	// StateFeaturesNegotiated means stream features have been exchanged.
	StateFeaturesNegotiated

	// StateTLSNegotiating means a StartTLS request is in progress.
	StateTLSNegotiating

	// StateTLSActive means the stream runs over TLS.
	StateTLSActive

	// StateSASLNegotiating means a SASL exchange is in progress.
	StateSASLNegotiating

	// StateAuthenticated means the SASL exchange succeeded.
	StateAuthenticated

	// StateResourceBinding means a resource bind request is in progress.
	StateResourceBinding

	// StateEstablished means the stream is ready to exchange stanzas.
	StateEstablished

	// StateAborted means the stream was terminated because of an error.
	StateAborted
)

// String returns State string representation.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFeaturesNegotiated:
		return "features_negotiated"
	case StateTLSNegotiating:
		return "tls_negotiating"
	case StateTLSActive:
		return "tls_active"
	case StateSASLNegotiating:
		return "sasl_negotiating"
	case StateAuthenticated:
		return "authenticated"
	case StateResourceBinding:
		return "resource_binding"
	case StateEstablished:
		return "established"
	case StateAborted:
		return "aborted"
	}
	return ""
}

// IsTerminal reports whether no further negotiation can happen in state s.
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateAborted
}

// Role tells which side of the stream this end is.
type Role int

const (
	// Initiator is the entity opening the connection.
	Initiator Role = iota

	// Receiver is the entity accepting the connection.
	Receiver
)

// String returns Role string representation.
func (r Role) String() string {
	if r == Receiver {
		return "receiver"
	}
	return "initiator"
}

// AuthFlags holds the stream authentication state.
type AuthFlags uint8

const (
	// Authenticated is set once the local entity has been authenticated by the peer.
	Authenticated AuthFlags = 1 << iota

	// PeerAuthenticated is set once the peer has been authenticated.
	PeerAuthenticated
)

// Version represents the negotiated XMPP protocol version.
type Version struct {
	Major int
	Minor int
}

// String returns Version string representation.
func (v Version) String() string {
	return itoa(v.Major) + "." + itoa(v.Minor)
}

// IsLegacy reports whether v identifies a pre-RFC 3920 stream.
func (v Version) IsLegacy() bool {
	return v == legacyVersion
}

var (
	legacyVersion  = Version{Major: 0, Minor: 9}
	currentVersion = Version{Major: 1, Minor: 0}
)

var (
	// ErrInProgress is returned when a connect or disconnect operation is already running.
	ErrInProgress = errors.New("stream: operation in progress")

	// ErrAuthenticationFailed is reported when the peer rejects our credentials.
	ErrAuthenticationFailed = errors.New("stream: authentication failed")

	// ErrTLSNotSupported is reported when TLS is required but the peer does not offer it.
	ErrTLSNotSupported = errors.New("stream: TLS not supported by peer")

	// ErrNoMechanism is reported when no usable authentication method is shared with the peer.
	ErrNoMechanism = errors.New("stream: no usable authentication mechanism")

	// ErrNotConnected is returned when sending over a stream whose header has not been exchanged.
	ErrNotConnected = errors.New("stream: not connected")

	// ErrAlreadyConnected is returned when connecting a stream that is not disconnected.
	ErrAlreadyConnected = errors.New("stream: already connected")

	// ErrBindFailed is reported when the peer rejects the resource bind request.
	ErrBindFailed = errors.New("stream: resource binding failed")

	// ErrTimeout is reported when a negotiation request is not answered in time.
	ErrTimeout = errors.New("stream: negotiation timeout")
)
