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

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	// MessageName represents "message" stanza name
	MessageName = "message"

	// PresenceName represents "presence" stanza name
	PresenceName = "presence"

	// IQName represents "iq" stanza name
	IQName = "iq"
)

// ErrorType represents an 'error' stanza type.
const ErrorType = "error"

// Kind identifies the stanza variant.
type Kind int

const (
	// GenericKind represents a top level element which is neither an iq, a message nor a presence.
	GenericKind Kind = iota

	// IQKind represents an <iq/> stanza.
	IQKind

	// MessageKind represents a <message/> stanza.
	MessageKind

	// PresenceKind represents a <presence/> stanza.
	PresenceKind
)

// String satisfies fmt.Stringer interface.
func (k Kind) String() string {
	switch k {
	case IQKind:
		return IQName
	case MessageKind:
		return MessageName
	case PresenceKind:
		return PresenceName
	}
	return "generic"
}

// Stanza represents an XMPP stanza element.
//
// Stanzas handed to handlers are shared with the dispatching code and must not
// be mutated; Copy should be used to obtain an owned instance.
type Stanza interface {
	fmt.Stringer

	Kind() Kind
	Name() string
	ID() string
	Type() string
	Language() string
	Namespace() string

	FromJID() *jid.JID
	ToJID() *jid.JID

	IsError() bool
	Error() *Element

	// Payload returns the first payload element matching name and namespace.
	// An empty name or namespace matches any value.
	Payload(name, namespace string) *Element

	// Payloads returns all payload elements matching name and namespace.
	Payloads(name, namespace string) []*Element

	// AllPayloads returns every payload element in document order.
	AllPayloads() []*Element

	// MakeErrorResponse builds an error reply addressed to the stanza sender.
	// It panics if the stanza is already an error.
	MakeErrorResponse(stanzaErr *StanzaError) Stanza

	// AsElement returns the underlying element tree.
	AsElement() *Element

	ToXML(w io.Writer, includeClosing bool) error
}

// NewID returns a new random stanza identifier.
func NewID() string {
	return uuid.New().String()
}

type stanzaElement struct {
	*Element
	kind    Kind
	ns      string
	fromJID *jid.JID
	toJID   *jid.JID
}

// NewStanzaFromElement returns a new stanza instance derived from an XMPP element.
//
// ns is the namespace the element was received in (e.g. jabber:client). When strict is set
// an unknown stanza type is reported as an error; otherwise it is preserved as received.
// Malformed addresses are reported as ErrJidMalformed and structurally invalid IQs as
// ErrBadRequest, so the caller can reply at stanza level.
// Addresses are parsed through jids, or from scratch when it is nil.
func NewStanzaFromElement(elem *Element, ns string, strict bool, jids *jid.Cache) (Stanza, error) {
	s, err := newStanzaElement(elem, ns, jids)
	if err != nil {
		return nil, err
	}
	switch elem.Name() {
	case IQName:
		s.kind = IQKind
		iq := &IQ{stanzaElement: *s}
		if err := iq.validate(); err != nil {
			return iq, err
		}
		return iq, nil

	case MessageName:
		s.kind = MessageKind
		if strict && !isMessageType(elem.Type()) {
			return nil, errors.Errorf("xmpp: invalid message type: %s", elem.Type())
		}
		return &Message{stanzaElement: *s}, nil

	case PresenceName:
		s.kind = PresenceKind
		if strict && !isPresenceType(elem.Type()) {
			return nil, errors.Errorf("xmpp: invalid presence type: %s", elem.Type())
		}
		return &Presence{stanzaElement: *s}, nil
	}
	s.kind = GenericKind
	return &Generic{stanzaElement: *s}, nil
}

func newStanzaElement(elem *Element, ns string, jids *jid.Cache) (*stanzaElement, error) {
	parse := func(str string) (*jid.JID, error) { return jid.NewWithString(str, false) }
	if jids != nil {
		parse = jids.Parse
	}
	s := &stanzaElement{Element: elem, ns: ns}
	if from := elem.From(); len(from) > 0 {
		j, err := parse(from)
		if err != nil {
			return nil, ErrJidMalformed.WithText(err.Error())
		}
		s.fromJID = j
	}
	if to := elem.To(); len(to) > 0 {
		j, err := parse(to)
		if err != nil {
			return nil, ErrJidMalformed.WithText(err.Error())
		}
		s.toJID = j
	}
	return s, nil
}

func newStanza(name, id, tp string, kind Kind) stanzaElement {
	elem := NewElementName(name)
	if len(id) > 0 {
		elem.SetID(id)
	}
	if len(tp) > 0 {
		elem.SetType(tp)
	}
	return stanzaElement{Element: elem, kind: kind}
}

// Kind returns the stanza variant.
func (s *stanzaElement) Kind() Kind {
	return s.kind
}

// Namespace returns the stanza namespace, either explicit or inherited from the stream.
func (s *stanzaElement) Namespace() string {
	if ns := s.Element.Namespace(); len(ns) > 0 {
		return ns
	}
	return s.ns
}

// FromJID returns stanza 'from' JID value.
func (s *stanzaElement) FromJID() *jid.JID {
	return s.fromJID
}

// ToJID returns stanza 'to' JID value.
func (s *stanzaElement) ToJID() *jid.JID {
	return s.toJID
}

// SetFromJID sets the stanza 'from' JID value.
func (s *stanzaElement) SetFromJID(j *jid.JID) {
	s.fromJID = j
	if j == nil {
		s.RemoveAttribute("from")
		return
	}
	s.SetFrom(j.String())
}

// SetToJID sets the stanza 'to' JID value.
func (s *stanzaElement) SetToJID(j *jid.JID) {
	s.toJID = j
	if j == nil {
		s.RemoveAttribute("to")
		return
	}
	s.SetTo(j.String())
}

// AsElement returns the underlying element tree.
func (s *stanzaElement) AsElement() *Element {
	return s.Element
}

// AllPayloads returns every payload element in document order.
func (s *stanzaElement) AllPayloads() []*Element {
	var ret []*Element
	for _, el := range s.Elements() {
		if s.isBaseChild(el) {
			continue
		}
		ret = append(ret, el)
	}
	return ret
}

// Payload returns the first payload element matching name and namespace.
func (s *stanzaElement) Payload(name, namespace string) *Element {
	for _, el := range s.Elements() {
		if s.matchesPayload(el, name, namespace) {
			return el
		}
	}
	return nil
}

// Payloads returns all payload elements matching name and namespace.
func (s *stanzaElement) Payloads(name, namespace string) []*Element {
	var ret []*Element
	for _, el := range s.Elements() {
		if s.matchesPayload(el, name, namespace) {
			ret = append(ret, el)
		}
	}
	return ret
}

func (s *stanzaElement) matchesPayload(el *Element, name, namespace string) bool {
	if s.isBaseChild(el) {
		return false
	}
	if len(name) > 0 && el.Name() != name {
		return false
	}
	if len(namespace) > 0 && s.childNamespace(el) != namespace {
		return false
	}
	return true
}

func (s *stanzaElement) childNamespace(el *Element) string {
	if ns := el.Namespace(); len(ns) > 0 {
		return ns
	}
	return s.Namespace()
}

// isBaseChild reports whether el is part of the stanza own schema rather than a payload.
func (s *stanzaElement) isBaseChild(el *Element) bool {
	if el.Name() == "error" && s.IsError() {
		return true
	}
	if s.childNamespace(el) != s.Namespace() {
		return false
	}
	switch s.kind {
	case MessageKind:
		switch el.Name() {
		case "body", "subject", "thread":
			return true
		}
	case PresenceKind:
		switch el.Name() {
		case "show", "status", "priority":
			return true
		}
	}
	return false
}

func (s *stanzaElement) errorResponse(stanzaErr *StanzaError) stanzaElement {
	if s.IsError() {
		panic(fmt.Sprintf("xmpp: error response requested for an error stanza: %s", s.String()))
	}
	elem := s.Element.Copy()
	elem.SetType(ErrorType)
	elem.RemoveElements("error")

	rs := stanzaElement{Element: elem, kind: s.kind, ns: s.ns}
	rs.SetFromJID(s.toJID)
	rs.SetToJID(s.fromJID)
	rs.AppendElement(stanzaErr.Element())
	return rs
}

// Generic represents a top level stream element that is not one of the three stanza kinds.
type Generic struct {
	stanzaElement
}

// MakeErrorResponse builds an error reply addressed to the element sender.
func (g *Generic) MakeErrorResponse(stanzaErr *StanzaError) Stanza {
	return &Generic{stanzaElement: g.errorResponse(stanzaErr)}
}

// Copy returns a deep copy of the element.
func (g *Generic) Copy() *Generic {
	cp := *g
	cp.Element = g.Element.Copy()
	return &cp
}

// MakeErrorElement builds an error reply for an element that could not be turned into a stanza.
// Addresses are swapped as raw attribute values. It returns nil if elem is already an error.
func MakeErrorElement(elem *Element, stanzaErr *StanzaError) *Element {
	if elem.IsError() {
		return nil
	}
	from, to := elem.From(), elem.To()

	rs := elem.Copy()
	rs.RemoveAttribute("from").RemoveAttribute("to")
	if len(to) > 0 {
		rs.SetFrom(to)
	}
	if len(from) > 0 {
		rs.SetTo(from)
	}
	rs.SetType(ErrorType)
	rs.RemoveElements("error")
	rs.AppendElement(stanzaErr.Element())
	return rs
}
