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
	"github.com/pkg/errors"
)

const (
	// NormalType represents a 'normal' message type.
	NormalType = "normal"

	// HeadlineType represents a 'headline' message type.
	HeadlineType = "headline"

	// ChatType represents a 'chat' message type.
	ChatType = "chat"

	// GroupChatType represents a 'groupchat' message type.
	GroupChatType = "groupchat"
)

// Message type represents a <message> element.
type Message struct {
	stanzaElement
}

// NewMessageType creates and returns a new Message element.
// An empty type yields an untyped message, which is treated as 'normal'.
func NewMessageType(identifier string, messageType string) (*Message, error) {
	if len(messageType) > 0 && !isMessageType(messageType) {
		return nil, errors.Errorf("xmpp: invalid message type: %s", messageType)
	}
	return &Message{stanzaElement: newStanza(MessageName, identifier, messageType, MessageKind)}, nil
}

// Type returns the message type, 'normal' when absent.
func (m *Message) Type() string {
	if tp := m.Element.Type(); len(tp) > 0 {
		return tp
	}
	return NormalType
}

// IsNormal returns true if this is a 'normal' type Message.
func (m *Message) IsNormal() bool {
	return m.Type() == NormalType
}

// IsHeadline returns true if this is a 'headline' type Message.
func (m *Message) IsHeadline() bool {
	return m.Type() == HeadlineType
}

// IsChat returns true if this is a 'chat' type Message.
func (m *Message) IsChat() bool {
	return m.Type() == ChatType
}

// IsGroupChat returns true if this is a 'groupchat' type Message.
func (m *Message) IsGroupChat() bool {
	return m.Type() == GroupChatType
}

// Body returns the message body text.
func (m *Message) Body() string {
	return m.baseChildText("body")
}

// SetBody sets the message body text.
func (m *Message) SetBody(body string) *Message {
	m.setBaseChildText("body", body)
	return m
}

// Subject returns the message subject text.
func (m *Message) Subject() string {
	return m.baseChildText("subject")
}

// SetSubject sets the message subject text.
func (m *Message) SetSubject(subject string) *Message {
	m.setBaseChildText("subject", subject)
	return m
}

// Thread returns the message thread identifier.
func (m *Message) Thread() string {
	return m.baseChildText("thread")
}

// SetThread sets the message thread identifier.
func (m *Message) SetThread(thread string) *Message {
	m.setBaseChildText("thread", thread)
	return m
}

// MakeErrorResponse builds an error reply addressed to the message sender.
func (m *Message) MakeErrorResponse(stanzaErr *StanzaError) Stanza {
	return &Message{stanzaElement: m.errorResponse(stanzaErr)}
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	cp := *m
	cp.Element = m.Element.Copy()
	return &cp
}

func (s *stanzaElement) baseChildText(name string) string {
	for _, el := range s.Children(name) {
		if s.childNamespace(el) == s.Namespace() {
			return el.Text()
		}
	}
	return ""
}

func (s *stanzaElement) setBaseChildText(name, text string) {
	s.RemoveElements(name)
	if len(text) > 0 {
		s.AppendElement(NewElementName(name).SetText(text))
	}
}

func isMessageType(tp string) bool {
	switch tp {
	case "", NormalType, HeadlineType, ChatType, GroupChatType, ErrorType:
		return true
	}
	return false
}
