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
	"crypto/subtle"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/streamerror"
	"github.com/pkg/errors"
)

const handshakeMechanism = "handshake"

// startHandshake sends the component handshake digest (XEP-0114).
func (s *Stream) startHandshake() {
	s.mu.Lock()
	digest := auth.HandshakeDigest(s.streamID, s.password)
	s.advanceLocked(StateSASLNegotiating)
	err := s.writeLocked(xmpp.NewElementName("handshake").SetText(digest))
	s.mu.Unlock()

	if err != nil {
		s.fail(err, nil)
	}
}

func (s *Stream) handleHandshake(elem *xmpp.Element) {
	if s.role == Initiator {
		s.mu.Lock()
		s.flags |= Authenticated | PeerAuthenticated
		s.advanceLocked(StateAuthenticated)
		s.mu.Unlock()

		reportAuthentication(s.role, handshakeMechanism, true)
		s.postEvent(event.StreamAuthenticated, nil)
		s.establish()
		return
	}

	s.mu.Lock()
	if s.flags&PeerAuthenticated != 0 || s.me == nil {
		s.mu.Unlock()
		s.fail(errors.New("stream: unexpected handshake"), streamerror.ErrNotAuthorized)
		return
	}
	expected := auth.HandshakeDigest(s.streamID, s.secrets[s.me.String()])
	got := strings.ToLower(strings.TrimSpace(elem.Text()))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		s.mu.Unlock()

		reportAuthentication(s.role, handshakeMechanism, false)
		s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: ErrAuthenticationFailed})
		s.fail(ErrAuthenticationFailed, streamerror.ErrNotAuthorized)
		return
	}
	s.flags |= PeerAuthenticated
	s.advanceLocked(StateAuthenticated)
	s.proc.SetPeerAuthenticated(true)
	err := s.writeLocked(xmpp.NewElementName("handshake"))
	s.mu.Unlock()

	if err != nil {
		s.fail(err, nil)
		return
	}
	reportAuthentication(s.role, handshakeMechanism, true)
	level.Info(s.logger).Log("msg", "component authenticated", "jid", s.Peer())
	s.postEvent(event.StreamPeerAuthenticated, nil)
	s.establish()
}
