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

package event

import (
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
)

const (
	// StreamConnected event is posted once the stream header has been exchanged for the first time.
	StreamConnected = "stream.connected"

	// StreamRestarted event is posted whenever the stream is restarted after a security layer change.
	StreamRestarted = "stream.restarted"

	// StreamGotFeatures event is posted when a <stream:features/> element is received.
	StreamGotFeatures = "stream.got_features"

	// StreamTLSConnecting event is posted when the TLS handshake starts.
	StreamTLSConnecting = "stream.tls_connecting"

	// StreamTLSConnected event is posted once the TLS handshake completes.
	StreamTLSConnected = "stream.tls_connected"

	// StreamAuthenticated event is posted when the local entity gets authenticated.
	StreamAuthenticated = "stream.authenticated"

	// StreamPeerAuthenticated event is posted when the remote entity gets authenticated.
	StreamPeerAuthenticated = "stream.peer_authenticated"

	// StreamAuthorized event is posted when the stream is fully established.
	StreamAuthorized = "stream.authorized"

	// StreamBindingResource event is posted when the resource binding request is sent.
	StreamBindingResource = "stream.binding_resource"

	// StreamDisconnected event is posted when the stream gets closed.
	StreamDisconnected = "stream.disconnected"

	// StreamAuthenticationFailed event is posted when authentication fails.
	StreamAuthenticationFailed = "stream.authentication_failed"

	// StreamErrorReceived event is posted when a <stream:error/> element is received.
	StreamErrorReceived = "stream.error_received"
)

// StreamInfo contains all info associated to a stream event.
type StreamInfo struct {
	// ID is the event stream identifier.
	ID string

	// Me is the local stream address.
	Me *jid.JID

	// Peer is the remote stream address.
	Peer *jid.JID

	// Element is the event associated XMPP element, if any.
	Element *xmpp.Element

	// Err is the event associated error, if any.
	Err error
}
