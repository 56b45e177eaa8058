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

	"github.com/pkg/errors"
)

const (
	// GetType represents a 'get' IQ type.
	GetType = "get"

	// SetType represents a 'set' IQ type.
	SetType = "set"

	// ResultType represents a 'result' IQ type.
	ResultType = "result"
)

// IQ type represents an <iq> element.
type IQ struct {
	stanzaElement
}

// NewIQType creates and returns a new IQ element.
func NewIQType(identifier string, iqType string) (*IQ, error) {
	if !isIQType(iqType) {
		return nil, errors.Errorf("xmpp: invalid iq type: %s", iqType)
	}
	if len(identifier) == 0 {
		identifier = NewID()
	}
	return &IQ{stanzaElement: newStanza(IQName, identifier, iqType, IQKind)}, nil
}

// IsGet returns true if this is a 'get' type IQ.
func (iq *IQ) IsGet() bool {
	return iq.Type() == GetType
}

// IsSet returns true if this is a 'set' type IQ.
func (iq *IQ) IsSet() bool {
	return iq.Type() == SetType
}

// IsResult returns true if this is a 'result' type IQ.
func (iq *IQ) IsResult() bool {
	return iq.Type() == ResultType
}

// IsRequest returns true if this is either a 'get' or 'set' IQ.
func (iq *IQ) IsRequest() bool {
	return iq.IsGet() || iq.IsSet()
}

// Query returns the IQ payload, nil if none.
func (iq *IQ) Query() *Element {
	payloads := iq.AllPayloads()
	if len(payloads) == 0 {
		return nil
	}
	return payloads[0]
}

// SetQuery replaces the IQ payload.
func (iq *IQ) SetQuery(query *Element) *IQ {
	iq.ClearElements()
	if query != nil {
		iq.AppendElement(query)
	}
	return iq
}

// MakeResultResponse creates a result IQ in response to a get or set one.
// It panics if the IQ is not a request.
func (iq *IQ) MakeResultResponse() *IQ {
	if !iq.IsRequest() {
		panic(fmt.Sprintf("xmpp: result response requested for a non request iq: %s", iq.String()))
	}
	rs := &IQ{stanzaElement: newStanza(IQName, iq.ID(), ResultType, IQKind)}
	rs.ns = iq.ns
	rs.SetFromJID(iq.toJID)
	rs.SetToJID(iq.fromJID)
	return rs
}

// MakeErrorResponse builds an error reply addressed to the IQ sender.
func (iq *IQ) MakeErrorResponse(stanzaErr *StanzaError) Stanza {
	return &IQ{stanzaElement: iq.errorResponse(stanzaErr)}
}

// Copy returns a deep copy of the IQ.
func (iq *IQ) Copy() *IQ {
	cp := *iq
	cp.Element = iq.Element.Copy()
	return &cp
}

func (iq *IQ) validate() error {
	if len(iq.ID()) == 0 {
		return ErrBadRequest.WithText("iq stanza 'id' attribute is required")
	}
	switch iq.Type() {
	case GetType, SetType:
		if len(iq.AllPayloads()) != 1 {
			return ErrBadRequest.WithText("iq request must contain exactly one child element")
		}
	case ResultType:
		if len(iq.AllPayloads()) > 1 {
			return ErrBadRequest.WithText("iq result must contain zero or one child element")
		}
	case ErrorType:
		if iq.Error() == nil {
			return ErrBadRequest.WithText("iq error must contain an error element")
		}
	default:
		return ErrBadRequest.WithText(fmt.Sprintf("invalid iq type: %s", iq.Type()))
	}
	return nil
}

func isIQType(tp string) bool {
	switch tp {
	case GetType, SetType, ResultType, ErrorType:
		return true
	}
	return false
}
