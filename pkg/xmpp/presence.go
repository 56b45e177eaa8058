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
	"strconv"

	"github.com/pkg/errors"
)

const (
	// AvailableType represents an 'available' Presence type.
	AvailableType = ""

	// UnavailableType represents a 'unavailable' Presence type.
	UnavailableType = "unavailable"

	// SubscribeType represents a 'subscribe' Presence type.
	SubscribeType = "subscribe"

	// UnsubscribeType represents a 'unsubscribe' Presence type.
	UnsubscribeType = "unsubscribe"

	// SubscribedType represents a 'subscribed' Presence type.
	SubscribedType = "subscribed"

	// UnsubscribedType represents a 'unsubscribed' Presence type.
	UnsubscribedType = "unsubscribed"

	// ProbeType represents a 'probe' Presence type.
	ProbeType = "probe"
)

// ShowState represents Presence show state.
type ShowState int

const (
	// AvailableShowState represents a 'available' Presence show state.
	AvailableShowState ShowState = iota

	// AwayShowState represents a 'away' Presence show state.
	AwayShowState

	// ChatShowState represents a 'chat' Presence show state.
	ChatShowState

	// DoNotDisturbShowState represents a 'dnd' Presence show state.
	DoNotDisturbShowState

	// ExtendedAwaysShowState represents a 'xa' Presence show state.
	ExtendedAwaysShowState
)

// Presence type represents a <presence> element.
type Presence struct {
	stanzaElement
}

// NewPresenceType creates and returns a new Presence element.
func NewPresenceType(identifier string, presenceType string) (*Presence, error) {
	if !isPresenceType(presenceType) {
		return nil, errors.Errorf("xmpp: invalid presence type: %s", presenceType)
	}
	return &Presence{stanzaElement: newStanza(PresenceName, identifier, presenceType, PresenceKind)}, nil
}

// IsAvailable returns true if this is an 'available' type Presence.
func (p *Presence) IsAvailable() bool {
	return p.Type() == AvailableType
}

// IsUnavailable returns true if this is an 'unavailable' type Presence.
func (p *Presence) IsUnavailable() bool {
	return p.Type() == UnavailableType
}

// IsSubscription returns true if this is a subscription management Presence.
func (p *Presence) IsSubscription() bool {
	switch p.Type() {
	case SubscribeType, UnsubscribeType, SubscribedType, UnsubscribedType:
		return true
	}
	return false
}

// ShowState returns presence show state.
func (p *Presence) ShowState() ShowState {
	switch p.baseChildText("show") {
	case "away":
		return AwayShowState
	case "chat":
		return ChatShowState
	case "dnd":
		return DoNotDisturbShowState
	case "xa":
		return ExtendedAwaysShowState
	}
	return AvailableShowState
}

// Status returns presence status text.
func (p *Presence) Status() string {
	return p.baseChildText("status")
}

// SetStatus sets presence status text.
func (p *Presence) SetStatus(status string) *Presence {
	p.setBaseChildText("status", status)
	return p
}

// Priority returns presence priority value, zero when absent or invalid.
func (p *Presence) Priority() int8 {
	prio, err := strconv.ParseInt(p.baseChildText("priority"), 10, 8)
	if err != nil {
		return 0
	}
	return int8(prio)
}

// SetPriority sets presence priority value.
func (p *Presence) SetPriority(priority int8) *Presence {
	p.setBaseChildText("priority", strconv.Itoa(int(priority)))
	return p
}

// MakeErrorResponse builds an error reply addressed to the presence sender.
func (p *Presence) MakeErrorResponse(stanzaErr *StanzaError) Stanza {
	return &Presence{stanzaElement: p.errorResponse(stanzaErr)}
}

// Copy returns a deep copy of the presence.
func (p *Presence) Copy() *Presence {
	cp := *p
	cp.Element = p.Element.Copy()
	return &cp
}

func isPresenceType(tp string) bool {
	switch tp {
	case AvailableType, ErrorType, ProbeType, SubscribeType, SubscribedType, UnavailableType, UnsubscribeType, UnsubscribedType:
		return true
	}
	return false
}
