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
	"net"
)

const (
	// TransportResolvingSRV event is posted when an SRV lookup starts.
	TransportResolvingSRV = "transport.resolving_srv"

	// TransportResolvingAddress event is posted when a host address lookup starts.
	TransportResolvingAddress = "transport.resolving_address"

	// TransportConnecting event is posted when a TCP connection attempt starts.
	TransportConnecting = "transport.connecting"

	// TransportConnected event is posted once an outgoing TCP connection is established.
	TransportConnected = "transport.connected"

	// TransportConnectionAccepted event is posted when an incoming TCP connection is attached.
	TransportConnectionAccepted = "transport.connection_accepted"
)

// TransportInfo contains all info associated to a transport event.
type TransportInfo struct {
	// Service is the SRV service name being resolved.
	Service string

	// Host is the name being resolved or connected to.
	Host string

	// Port is the destination port.
	Port int

	// Addr is the connection remote address.
	Addr net.Addr
}
