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

package xmpp

// XMPP namespaces.
const (
	StreamNamespace       = "http://etherx.jabber.org/streams"
	ClientNamespace       = "jabber:client"
	ServerNamespace       = "jabber:server"
	ComponentNamespace    = "jabber:component:accept"
	TLSNamespace          = "urn:ietf:params:xml:ns:xmpp-tls"
	SASLNamespace         = "urn:ietf:params:xml:ns:xmpp-sasl"
	BindNamespace         = "urn:ietf:params:xml:ns:xmpp-bind"
	SessionNamespace      = "urn:ietf:params:xml:ns:xmpp-session"
	StanzaErrorNamespace  = "urn:ietf:params:xml:ns:xmpp-stanzas"
	StreamErrorNamespace  = "urn:ietf:params:xml:ns:xmpp-streams"
	LegacyAuthNamespace   = "jabber:iq:auth"
	LegacyAuthFeatureNS   = "http://jabber.org/features/iq-auth"
	LegacyAuthErrorNS     = "jabber:iq:auth:error"
	XMLNamespace          = "http://www.w3.org/XML/1998/namespace"
	PingNamespace         = "urn:xmpp:ping"
	StreamFeaturesName    = "stream:features"
	StreamErrorName       = "stream:error"
	StreamName            = "stream:stream"
	StreamNamespacePrefix = "stream"
)
