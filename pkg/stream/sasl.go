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
	"encoding/base64"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"mellium.im/sasl"
)

var clientMechanisms = map[string]sasl.Mechanism{
	auth.PlainMechanism:       sasl.Plain,
	auth.ScramSHA1Mechanism:   sasl.ScramSha1,
	auth.ScramSHA256Mechanism: sasl.ScramSha256,
}

// handleSASLRequest processes a SASL element received by a receiving stream.
func (s *Stream) handleSASLRequest(elem *xmpp.Element) {
	switch elem.Name() {
	case "auth":
		mech := elem.Attribute("mechanism")

		s.mu.Lock()
		allowed := s.flags&PeerAuthenticated == 0 && lo.Contains(s.offeredMechanismsLocked(), mech)
		if !allowed {
			_ = s.writeLocked(auth.NewSASLError(auth.InvalidMechanism, nil).Element())
			s.mu.Unlock()
			level.Debug(s.logger).Log("msg", "rejected SASL mechanism", "mechanism", mech)
			return
		}
		authr, err := auth.NewAuthenticator(mech, s.creds, s.me.Domain())
		if err != nil {
			_ = s.writeLocked(auth.NewSASLError(auth.InvalidMechanism, err).Element())
			s.mu.Unlock()
			return
		}
		s.authr = authr
		s.advanceLocked(StateSASLNegotiating)
		s.mu.Unlock()

		s.processSASL(authr, elem)

	case "response":
		s.mu.RLock()
		authr := s.authr
		s.mu.RUnlock()
		if authr == nil {
			s.mu.Lock()
			_ = s.writeLocked(auth.NewSASLError(auth.MalformedRequest, nil).Element())
			s.mu.Unlock()
			return
		}
		s.processSASL(authr, elem)

	case "abort":
		s.mu.Lock()
		if s.authr != nil {
			s.authr.Reset()
			s.authr = nil
		}
		_ = s.writeLocked(auth.NewSASLError(auth.Aborted, nil).Element())
		s.mu.Unlock()

	default:
		s.mu.Lock()
		_ = s.writeLocked(auth.NewSASLError(auth.MalformedRequest, nil).Element())
		s.mu.Unlock()
	}
}

func (s *Stream) processSASL(authr auth.Authenticator, elem *xmpp.Element) {
	resp, saslErr := authr.ProcessElement(s.ctx, elem)
	if saslErr == nil && authr.Authenticated() {
		saslErr = s.checkAuthzID(authr)
	}
	if saslErr != nil {
		s.failSASL(authr.Mechanism(), saslErr)
		return
	}

	s.mu.Lock()
	if err := s.writeLocked(resp); err != nil {
		s.mu.Unlock()
		s.fail(err, nil)
		return
	}
	if !authr.Authenticated() {
		s.mu.Unlock()
		return
	}
	peer, _ := jid.New(authr.Username(), s.me.Domain(), "", true)
	s.peer = peer
	s.flags |= PeerAuthenticated
	s.authr = nil
	s.advanceLocked(StateAuthenticated)
	s.proc.SetPeer(peer)
	s.proc.SetPeerAuthenticated(true)
	s.restartLocked()
	s.mu.Unlock()

	reportAuthentication(s.role, authr.Mechanism(), true)
	level.Info(s.logger).Log("msg", "peer authenticated", "username", authr.Username(), "mechanism", authr.Mechanism())
	s.postEvent(event.StreamPeerAuthenticated, nil)
}

func (s *Stream) checkAuthzID(authr auth.Authenticator) *auth.SASLError {
	authzID := authr.AuthzID()
	if len(authzID) == 0 {
		return nil
	}
	j, err := s.jids.Parse(authzID)
	if err != nil {
		return auth.NewSASLError(auth.InvalidAuthzID, err)
	}
	if j.Node() != authr.Username() || j.Domain() != s.Me().Domain() {
		return auth.NewSASLError(auth.InvalidAuthzID, nil)
	}
	return nil
}

func (s *Stream) failSASL(mechanism string, saslErr *auth.SASLError) {
	s.mu.Lock()
	_ = s.writeLocked(saslErr.Element())
	s.authr = nil
	s.mu.Unlock()

	reportAuthentication(s.role, mechanism, false)
	level.Info(s.logger).Log("msg", "peer authentication failed", "mechanism", mechanism, "err", saslErr)
	s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: saslErr})
	s.fail(saslErr, nil)
}

// startSASL starts a SASL exchange choosing the preferred mechanism offered by the peer.
// It returns false when no usable mechanism is shared.
func (s *Stream) startSASL(mechanisms *xmpp.Element) bool {
	offered := lo.Map(mechanisms.Children("mechanism"), func(m *xmpp.Element, _ int) string {
		return strings.TrimSpace(m.Text())
	})

	s.mu.Lock()
	tlsActive := s.tlsActive
	candidates := lo.Filter(s.stg.SASLMechanisms, func(m string, _ int) bool {
		if _, ok := clientMechanisms[m]; !ok || !lo.Contains(offered, m) {
			return false
		}
		return m != auth.PlainMechanism || tlsActive || s.stg.InsecureAuth
	})
	if len(candidates) == 0 {
		s.mu.Unlock()
		return false
	}
	name := candidates[0]
	username, password := s.me.Node(), s.password

	opts := []sasl.Option{
		sasl.Credentials(func() ([]byte, []byte, []byte) {
			return []byte(username), []byte(password), nil
		}),
		sasl.RemoteMechanisms(offered...),
	}
	if tlsActive {
		opts = append(opts, sasl.TLSState(s.tlsState))
	}
	client := sasl.NewClient(clientMechanisms[name], opts...)
	more, resp, err := client.Step(nil)
	if err != nil {
		s.mu.Unlock()
		s.fail(errors.Wrap(err, "stream: SASL"), nil)
		return true
	}
	s.saslClient = client
	s.saslMech = name
	s.saslMore = more
	s.advanceLocked(StateSASLNegotiating)

	authElem := xmpp.NewElementNamespace("auth", xmpp.SASLNamespace).
		SetAttribute("mechanism", name).
		SetText(encodeSASL(resp))
	err = s.writeLocked(authElem)
	s.mu.Unlock()

	if err != nil {
		s.fail(err, nil)
		return true
	}
	level.Debug(s.logger).Log("msg", "SASL authentication started", "mechanism", name)
	return true
}

// handleSASLResponse processes a SASL element received by an initiating stream.
func (s *Stream) handleSASLResponse(elem *xmpp.Element) {
	s.mu.Lock()
	client, mech := s.saslClient, s.saslMech
	s.mu.Unlock()

	if client == nil {
		s.fail(errors.Errorf("stream: unexpected SASL element %s", elem.Name()), nil)
		return
	}
	switch elem.Name() {
	case "challenge":
		data, err := decodeSASL(elem.Text())
		if err != nil {
			s.abortSASL(err)
			return
		}
		more, resp, err := client.Step(data)
		if err != nil {
			s.abortSASL(err)
			return
		}
		s.mu.Lock()
		s.saslMore = more
		err = s.writeLocked(xmpp.NewElementNamespace("response", xmpp.SASLNamespace).SetText(encodeSASL(resp)))
		s.mu.Unlock()
		if err != nil {
			s.fail(err, nil)
		}

	case "success":
		data, err := decodeSASL(elem.Text())
		if err != nil {
			s.authFailed(mech, err)
			return
		}
		s.mu.Lock()
		more := s.saslMore
		s.mu.Unlock()
		if more || len(data) > 0 {
			if _, _, err := client.Step(data); err != nil {
				s.authFailed(mech, err)
				return
			}
		}
		s.mu.Lock()
		s.flags |= Authenticated
		s.saslClient = nil
		s.advanceLocked(StateAuthenticated)
		s.restartLocked()
		err = s.sendHeaderLocked()
		s.mu.Unlock()

		reportAuthentication(s.role, mech, true)
		level.Info(s.logger).Log("msg", "authenticated", "mechanism", mech)
		s.postEvent(event.StreamAuthenticated, nil)

		if err != nil {
			s.fail(err, nil)
		}

	case "failure":
		reason := auth.FailureReason(elem)
		s.authFailed(mech, errors.Wrap(ErrAuthenticationFailed, reason.String()))

	default:
		s.fail(errors.Errorf("stream: unexpected SASL element %s", elem.Name()), nil)
	}
}

// abortSASL cancels an ongoing SASL exchange after a local error.
func (s *Stream) abortSASL(err error) {
	s.mu.Lock()
	_ = s.writeLocked(xmpp.NewElementNamespace("abort", xmpp.SASLNamespace))
	mech := s.saslMech
	s.mu.Unlock()

	s.authFailed(mech, err)
}

func (s *Stream) authFailed(mechanism string, err error) {
	if !errors.Is(err, ErrAuthenticationFailed) {
		err = errors.Wrap(ErrAuthenticationFailed, err.Error())
	}
	s.mu.Lock()
	s.saslClient = nil
	s.mu.Unlock()

	reportAuthentication(s.role, mechanism, false)
	level.Warn(s.logger).Log("msg", "authentication failed", "mechanism", mechanism, "err", err)
	s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: err})
	s.fail(err, nil)
}

func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s == "=" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
