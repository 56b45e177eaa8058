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

package processor

import (
	"context"

	"github.com/ortuman/xmppcore/pkg/xmpp"
)

// Usage defines in which authentication phase a handler is active.
type Usage int

const (
	// PostAuth handlers are active once the peer has been authenticated.
	PostAuth Usage = iota

	// PreAuth handlers are active until the peer gets authenticated.
	PreAuth
)

type resultKind int

const (
	unhandledResult resultKind = iota
	handledResult
)

// Result represents the outcome of a stanza handler.
type Result struct {
	kind    resultKind
	replies []xmpp.Stanza
}

// Unhandled returns a result signaling the stanza was not processed.
func Unhandled() Result {
	return Result{kind: unhandledResult}
}

// Handled returns a result signaling the stanza was processed.
func Handled() Result {
	return Result{kind: handledResult}
}

// Reply returns a result signaling the stanza was processed, carrying the stanzas to be sent back in order.
func Reply(stanzas ...xmpp.Stanza) Result {
	return Result{kind: handledResult, replies: stanzas}
}

// IsHandled reports whether the stanza was processed.
func (r Result) IsHandled() bool {
	return r.kind == handledResult
}

// Replies returns the stanzas to be sent in response.
func (r Result) Replies() []xmpp.Stanza {
	return r.replies
}

// IQHandlerFunc processes an IQ request.
type IQHandlerFunc func(ctx context.Context, iq *xmpp.IQ) Result

// StanzaHandlerFunc processes a message or presence stanza.
type StanzaHandlerFunc func(ctx context.Context, stanza xmpp.Stanza) Result

// IQHandler describes an IQ request handler.
type IQHandler struct {
	// Type is either 'get' or 'set'.
	Type string

	// Name is the payload element name. Empty matches any name.
	Name string

	// Namespace is the payload namespace. Empty, along with an empty Name, matches any payload.
	Namespace string

	Usage   Usage
	Handler IQHandlerFunc
}

// StanzaHandler describes a message or presence handler.
type StanzaHandler struct {
	// Type is the stanza type attribute value the handler applies to.
	// Untyped messages are dispatched as 'normal', untyped presences as "".
	Type string

	Usage   Usage
	Handler StanzaHandlerFunc
}

// IQHandlerProvider is implemented by entities providing IQ handlers.
type IQHandlerProvider interface {
	IQHandlers() []IQHandler
}

// MessageHandlerProvider is implemented by entities providing message handlers.
type MessageHandlerProvider interface {
	MessageHandlers() []StanzaHandler
}

// PresenceHandlerProvider is implemented by entities providing presence handlers.
type PresenceHandlerProvider interface {
	PresenceHandlers() []StanzaHandler
}

type iqKey struct {
	typ  string
	name string
	ns   string
}

type registry struct {
	iq       map[iqKey][]IQHandlerFunc
	message  map[string][]StanzaHandlerFunc
	presence map[string][]StanzaHandlerFunc
}

func newRegistry() *registry {
	return &registry{
		iq:       make(map[iqKey][]IQHandlerFunc),
		message:  make(map[string][]StanzaHandlerFunc),
		presence: make(map[string][]StanzaHandlerFunc),
	}
}

func (r *registry) iqHandlers(typ, name, ns string) []IQHandlerFunc {
	if hs := r.iq[iqKey{typ: typ, name: name, ns: ns}]; len(hs) > 0 {
		return hs
	}
	if hs := r.iq[iqKey{typ: typ, ns: ns}]; len(hs) > 0 {
		return hs
	}
	return r.iq[iqKey{typ: typ}]
}

// buildRegistries returns the pre-auth and post-auth registries for the given providers.
func buildRegistries(providers []interface{}) (pre *registry, post *registry) {
	pre, post = newRegistry(), newRegistry()
	pick := func(u Usage) *registry {
		if u == PreAuth {
			return pre
		}
		return post
	}
	for _, p := range providers {
		if ip, ok := p.(IQHandlerProvider); ok {
			for _, h := range ip.IQHandlers() {
				r := pick(h.Usage)
				k := iqKey{typ: h.Type, name: h.Name, ns: h.Namespace}
				r.iq[k] = append(r.iq[k], h.Handler)
			}
		}
		if mp, ok := p.(MessageHandlerProvider); ok {
			for _, h := range mp.MessageHandlers() {
				r := pick(h.Usage)
				typ := h.Type
				if len(typ) == 0 {
					typ = xmpp.NormalType
				}
				r.message[typ] = append(r.message[typ], h.Handler)
			}
		}
		if pp, ok := p.(PresenceHandlerProvider); ok {
			for _, h := range pp.PresenceHandlers() {
				r := pick(h.Usage)
				r.presence[h.Type] = append(r.presence[h.Type], h.Handler)
			}
		}
	}
	return pre, post
}
