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
	"context"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/ortuman/xmppcore/pkg/auth"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const legacyMechanism = "jabber:iq:auth"

// negotiator provides the IQ handlers of a receiving stream negotiation.
type negotiator struct {
	s *Stream
}

// IQHandlers satisfies processor.IQHandlerProvider interface.
func (n *negotiator) IQHandlers() []processor.IQHandler {
	return []processor.IQHandler{
		{Type: xmpp.GetType, Name: "query", Namespace: xmpp.LegacyAuthNamespace, Usage: processor.PreAuth, Handler: n.s.legacyAuthForm},
		{Type: xmpp.SetType, Name: "query", Namespace: xmpp.LegacyAuthNamespace, Usage: processor.PreAuth, Handler: n.s.legacyAuthenticate},
		{Type: xmpp.SetType, Name: "bind", Namespace: xmpp.BindNamespace, Usage: processor.PostAuth, Handler: n.s.bindResource},
		{Type: xmpp.SetType, Name: "session", Namespace: xmpp.SessionNamespace, Usage: processor.PostAuth, Handler: n.s.establishSession},
	}
}

func (s *Stream) legacyAuthAllowed() *xmpp.StanzaError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case !s.stg.LegacyAuth || s.creds == nil:
		return xmpp.ErrFeatureNotImplemented
	case s.stg.TLSRequire && !s.tlsActive:
		return xmpp.ErrPolicyViolation.WithText("TLS required")
	}
	return nil
}

// legacyAuthForm answers a jabber:iq:auth fields request.
func (s *Stream) legacyAuthForm(_ context.Context, iq *xmpp.IQ) processor.Result {
	if stanzaErr := s.legacyAuthAllowed(); stanzaErr != nil {
		return processor.Reply(iq.MakeErrorResponse(stanzaErr))
	}
	q := xmpp.NewElementNamespace("query", xmpp.LegacyAuthNamespace)
	username := ""
	if u := iq.Query().Child("username"); u != nil {
		username = u.Text()
	}
	q.AppendElement(xmpp.NewElementName("username").SetText(username))

	// plain submissions without TLS are rejected in legacyAuthenticate
	for _, m := range s.stg.LegacyAuthMethods {
		switch m {
		case settings.LegacyAuthDigest:
			q.AppendElement(xmpp.NewElementName("digest"))
		case settings.LegacyAuthPlain:
			q.AppendElement(xmpp.NewElementName("password"))
		}
	}
	q.AppendElement(xmpp.NewElementName("resource"))
	return processor.Reply(iq.MakeResultResponse().SetQuery(q))
}

// legacyAuthenticate processes a jabber:iq:auth credentials submission.
func (s *Stream) legacyAuthenticate(ctx context.Context, iq *xmpp.IQ) processor.Result {
	if stanzaErr := s.legacyAuthAllowed(); stanzaErr != nil {
		return processor.Reply(iq.MakeErrorResponse(stanzaErr))
	}
	q := iq.Query()
	username, resource := childText(q, "username"), childText(q, "resource")
	if len(username) == 0 || len(resource) == 0 {
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrNotAcceptable))
	}

	s.mu.RLock()
	domain, streamID := s.me.Domain(), s.streamID
	plainAllowed := s.tlsActive || s.stg.InsecureAuth
	s.mu.RUnlock()

	var ok bool
	var err error
	switch {
	case q.Child("digest") != nil && lo.Contains(s.stg.LegacyAuthMethods, settings.LegacyAuthDigest):
		ok, err = auth.VerifyLegacyDigest(ctx, s.creds, username, domain, streamID, childText(q, "digest"))

	case q.Child("password") != nil && plainAllowed && lo.Contains(s.stg.LegacyAuthMethods, settings.LegacyAuthPlain):
		ok, err = auth.VerifyPassword(ctx, s.creds, username, domain, childText(q, "password"))

	default:
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrNotAcceptable))
	}
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to verify legacy credentials", "username", username, "err", err)
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrInternalServerError))
	}
	if !ok {
		reportAuthentication(s.role, legacyMechanism, false)
		s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: ErrAuthenticationFailed})
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrNotAuthorized))
	}
	peer, err := jid.New(username, domain, resource, false)
	if err != nil {
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrJidMalformed))
	}

	s.mu.Lock()
	s.peer = peer
	s.flags |= PeerAuthenticated
	s.proc.SetPeer(peer)
	s.proc.SetPeerAuthenticated(true)
	s.mu.Unlock()

	reportAuthentication(s.role, legacyMechanism, true)
	level.Info(s.logger).Log("msg", "peer authenticated", "jid", peer, "mechanism", legacyMechanism)
	s.postEvent(event.StreamPeerAuthenticated, nil)
	s.establish()

	return processor.Reply(iq.MakeResultResponse())
}

// startLegacyAuth requests the jabber:iq:auth fields on an initiating stream.
func (s *Stream) startLegacyAuth() {
	s.mu.Lock()
	s.advanceLocked(StateSASLNegotiating)
	username := s.me.Node()
	s.mu.Unlock()

	iq, _ := xmpp.NewIQType(uuid.New().String(), xmpp.GetType)
	iq.SetQuery(
		xmpp.NewElementNamespace("query", xmpp.LegacyAuthNamespace).
			AppendElement(xmpp.NewElementName("username").SetText(username)),
	)
	err := s.proc.SendIQ(s.ctx, iq, s.legacyFormReceived, s.legacyAuthRejected, s.negotiationTimeout, s.stg.DefaultStanzaTimeout)
	if err != nil {
		s.fail(err, nil)
	}
}

func (s *Stream) legacyFormReceived(ctx context.Context, form *xmpp.IQ) processor.Result {
	q := form.Query()
	if q == nil {
		s.authFailed(legacyMechanism, errors.New("empty auth form"))
		return processor.Handled()
	}
	s.mu.RLock()
	streamID, tlsActive := s.streamID, s.tlsActive
	username := s.me.Node()
	s.mu.RUnlock()

	resource := s.stg.Resource
	if len(resource) == 0 {
		resource = uuid.New().String()
	}
	req := xmpp.NewElementNamespace("query", xmpp.LegacyAuthNamespace).
		AppendElement(xmpp.NewElementName("username").SetText(username))

	var method string
	for _, m := range s.stg.LegacyAuthMethods {
		if m == settings.LegacyAuthDigest && q.Child("digest") != nil && len(streamID) > 0 {
			req.AppendElement(xmpp.NewElementName("digest").SetText(auth.LegacyDigest(streamID, s.password)))
			method = m
			break
		}
		if m == settings.LegacyAuthPlain && q.Child("password") != nil && (tlsActive || s.stg.InsecureAuth) {
			req.AppendElement(xmpp.NewElementName("password").SetText(s.password))
			method = m
			break
		}
	}
	if len(method) == 0 {
		s.postEvent(event.StreamAuthenticationFailed, &event.StreamInfo{Err: ErrNoMechanism})
		s.fail(ErrNoMechanism, nil)
		return processor.Handled()
	}
	req.AppendElement(xmpp.NewElementName("resource").SetText(resource))

	iq, _ := xmpp.NewIQType(uuid.New().String(), xmpp.SetType)
	iq.SetQuery(req)

	onResult := func(_ context.Context, _ *xmpp.IQ) processor.Result {
		s.legacyAuthenticated(resource)
		return processor.Handled()
	}
	if err := s.proc.SendIQ(ctx, iq, onResult, s.legacyAuthRejected, s.negotiationTimeout, s.stg.DefaultStanzaTimeout); err != nil {
		s.fail(err, nil)
	}
	level.Debug(s.logger).Log("msg", "legacy authentication started", "method", method)
	return processor.Handled()
}

func (s *Stream) legacyAuthenticated(resource string) {
	s.mu.Lock()
	me, err := jid.New(s.me.Node(), s.me.Domain(), resource, false)
	if err != nil {
		s.mu.Unlock()
		s.authFailed(legacyMechanism, err)
		return
	}
	s.me = me
	s.flags |= Authenticated
	s.advanceLocked(StateAuthenticated)
	s.mu.Unlock()

	reportAuthentication(s.role, legacyMechanism, true)
	level.Info(s.logger).Log("msg", "authenticated", "jid", me, "mechanism", legacyMechanism)
	s.postEvent(event.StreamAuthenticated, nil)
	s.establish()
}

func (s *Stream) legacyAuthRejected(_ context.Context, iq *xmpp.IQ) processor.Result {
	reason := "unknown"
	if e := iq.Error(); e != nil && len(e.Elements()) > 0 {
		reason = e.Elements()[0].Name()
	}
	s.authFailed(legacyMechanism, errors.New(reason))
	return processor.Handled()
}

// negotiationTimeout aborts the stream when a negotiation request is left unanswered.
func (s *Stream) negotiationTimeout(request *xmpp.IQ) {
	level.Warn(s.logger).Log("msg", "negotiation request timed out", "id", request.ID())
	s.fail(ErrTimeout, nil)
}

func childText(elem *xmpp.Element, name string) string {
	if elem == nil {
		return ""
	}
	if c := elem.Child(name); c != nil {
		return c.Text()
	}
	return ""
}
