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
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/streamerror"
)

// buildFeaturesLocked returns the features a receiving stream offers in its current state.
func (s *Stream) buildFeaturesLocked() *xmpp.Element {
	features := xmpp.NewElementName(xmpp.StreamFeaturesName)
	if s.flags&PeerAuthenticated != 0 {
		features.AppendElement(xmpp.NewElementNamespace("bind", xmpp.BindNamespace))
		features.AppendElement(
			xmpp.NewElementNamespace("session", xmpp.SessionNamespace).
				AppendElement(xmpp.NewElementName("optional")),
		)
		return features
	}
	if !s.tlsActive && s.stg.TLSAvailable() {
		starttls := xmpp.NewElementNamespace("starttls", xmpp.TLSNamespace)
		if s.stg.TLSRequire {
			starttls.AppendElement(xmpp.NewElementName("required"))
		}
		features.AppendElement(starttls)
	}
	if s.tlsActive || !s.stg.TLSRequire {
		if mechs := s.offeredMechanismsLocked(); len(mechs) > 0 {
			mechanisms := xmpp.NewElementNamespace("mechanisms", xmpp.SASLNamespace)
			for _, m := range mechs {
				mechanisms.AppendElement(xmpp.NewElementName("mechanism").SetText(m))
			}
			features.AppendElement(mechanisms)
		}
	}
	if s.stg.LegacyAuth && s.creds != nil {
		features.AppendElement(xmpp.NewElementNamespace("auth", xmpp.LegacyAuthFeatureNS))
	}
	return features
}

// offeredMechanismsLocked returns the SASL mechanisms a receiving stream accepts.
func (s *Stream) offeredMechanismsLocked() []string {
	if s.creds == nil {
		return nil
	}
	var ret []string
	for _, m := range s.stg.SASLMechanisms {
		if !auth.IsSupportedMechanism(m) {
			continue
		}
		if m == auth.PlainMechanism && !s.tlsActive && !s.stg.InsecureAuth {
			continue
		}
		ret = append(ret, m)
	}
	return ret
}

// handleFeatures drives the initiating side negotiation out of the received features.
func (s *Stream) handleFeatures(features *xmpp.Element) {
	s.mu.Lock()
	s.features = features
	s.advanceLocked(StateFeaturesNegotiated)
	authenticated := s.flags&Authenticated != 0
	tlsActive := s.tlsActive
	s.mu.Unlock()

	s.postEvent(event.StreamGotFeatures, &event.StreamInfo{Element: features})

	if authenticated {
		s.startBinding(features)
		return
	}
	if !tlsActive {
		starttls := features.ChildNamespace("starttls", xmpp.TLSNamespace)
		switch {
		case starttls != nil && s.stg.StartTLS:
			s.requestTLS()
			return

		case s.stg.TLSRequire:
			s.fail(ErrTLSNotSupported, streamerror.ErrPolicyViolation.WithText("TLS required"))
			return
		}
	}
	if mechs := features.ChildNamespace("mechanisms", xmpp.SASLNamespace); mechs != nil {
		if s.startSASL(mechs) {
			return
		}
	}
	if s.stg.LegacyAuth && features.ChildNamespace("auth", xmpp.LegacyAuthFeatureNS) != nil {
		s.startLegacyAuth()
		return
	}
	s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: ErrNoMechanism})
	s.fail(ErrNoMechanism, nil)
}
