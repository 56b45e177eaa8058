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

// Package transport implements the socket transport of an XML stream.
package transport

import (
	"crypto/tls"
	"fmt"

	"github.com/pkg/errors"
)

// State represents a transport connection state.
type State int

const (
	// StateIdle means no connection has been requested yet.
	StateIdle State = iota

	// StateResolvingSRV means the transport is looking up the service SRV record.
	StateResolvingSRV

	// StateResolvingHostname means the transport is looking up the addresses of a host.
	StateResolvingHostname

	// StateConnecting means the transport is dialing a resolved address.
	StateConnecting

	// StateConnected means the transport has a working connection.
	StateConnected

	// StateClosed means the transport is closed.
	StateClosed
)

// String returns State string representation.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingSRV:
		return "resolve-srv"
	case StateResolvingHostname:
		return "resolve-hostname"
	case StateConnecting:
		return "connect"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return ""
}

var (
	// ErrModeConflict is returned when a transport driven by a poll loop is run threaded, or vice versa.
	ErrModeConflict = errors.New("transport: poll loop and threaded modes are mutually exclusive")

	// ErrNotConnected is returned when an operation requires a connected transport.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrReadLimitExceeded is returned when the peer exceeds the configured read rate.
	ErrReadLimitExceeded = errors.New("transport: read limit exceeded")

	// ErrNoCandidates is returned when no address could be resolved for the requested service.
	ErrNoCandidates = errors.New("transport: no address candidates")
)

// IOError wraps a network level failure.
type IOError struct {
	Op  string
	Err error
}

// Error satisfies error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Cause returns the underlying network error.
func (e *IOError) Cause() error {
	return e.Err
}

// Target receives the transport notifications.
type Target interface {
	// TransportConnected is called once the outgoing connection has been established.
	TransportConnected()

	// DataReceived is called with every chunk read from the peer.
	DataReceived(data []byte)

	// TLSConnected is called after a successful TLS handshake.
	TLSConnected(state tls.ConnectionState)

	// TransportClosed is called exactly once when the transport gets closed.
	// err is nil on a clean end of stream.
	TransportClosed(err error)
}
