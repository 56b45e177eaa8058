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
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/pkg/errors"
)

func (s *Stream) handleTLSElement(elem *xmpp.Element) {
	if s.role == Receiver {
		if elem.Name() != "starttls" {
			s.fail(errors.Errorf("stream: unexpected TLS element %s", elem.Name()), nil)
			return
		}
		s.acceptTLS()
		return
	}
	switch elem.Name() {
	case "proceed":
		s.proceedTLS()
	default:
		s.fail(ErrTLSNotSupported, nil)
	}
}

// acceptTLS answers a StartTLS request on a receiving stream.
func (s *Stream) acceptTLS() {
	s.mu.Lock()
	if s.tlsActive || !s.stg.TLSAvailable() {
		_ = s.writeLocked(xmpp.NewElementNamespace("failure", xmpp.TLSNamespace))
		s.mu.Unlock()
		s.fail(ErrTLSNotSupported, nil)
		return
	}
	cfg, err := s.stg.ServerTLSConfig()
	if err != nil {
		_ = s.writeLocked(xmpp.NewElementNamespace("failure", xmpp.TLSNamespace))
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	if err := s.writeLocked(xmpp.NewElementNamespace("proceed", xmpp.TLSNamespace)); err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	if err := s.tr.StartTLS(cfg, false); err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	s.advanceLocked(StateTLSNegotiating)
	s.restartLocked()
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "starting TLS")
	s.postEvent(event.StreamTLSConnecting, nil)
}

// requestTLS sends a StartTLS request on an initiating stream.
func (s *Stream) requestTLS() {
	s.mu.Lock()
	err := s.writeLocked(xmpp.NewElementNamespace("starttls", xmpp.TLSNamespace))
	s.advanceLocked(StateTLSNegotiating)
	s.mu.Unlock()

	if err != nil {
		s.fail(err, nil)
	}
}

func (s *Stream) proceedTLS() {
	s.mu.Lock()
	serverName := ""
	if s.me != nil {
		serverName = s.me.Domain()
	}
	cfg, err := s.stg.ClientTLSConfig(serverName)
	if err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	if err := s.tr.StartTLS(cfg, true); err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	s.restartLocked()
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "starting TLS", "server_name", serverName)
	s.postEvent(event.StreamTLSConnecting, nil)
}
