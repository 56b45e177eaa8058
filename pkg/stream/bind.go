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
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/pkg/errors"
)

// bindResource binds a resource to the authenticated peer of a receiving stream.
func (s *Stream) bindResource(_ context.Context, iq *xmpp.IQ) processor.Result {
	resource := childText(iq.Query(), "resource")
	if len(resource) == 0 {
		resource = uuid.New().String()
	}
	s.mu.Lock()
	if s.peer == nil || s.state == StateEstablished {
		s.mu.Unlock()
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrNotAllowed))
	}
	full, err := s.peer.WithResource(resource)
	if err != nil {
		s.mu.Unlock()
		return processor.Reply(iq.MakeErrorResponse(xmpp.ErrBadRequest.WithText(err.Error())))
	}
	s.peer = full
	s.advanceLocked(StateResourceBinding)
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "resource bound", "jid", full)
	s.establish()

	return processor.Reply(iq.MakeResultResponse().SetQuery(
		xmpp.NewElementNamespace("bind", xmpp.BindNamespace).
			AppendElement(xmpp.NewElementName("jid").SetText(full.String())),
	))
}

// establishSession acknowledges a legacy session establishment request.
func (s *Stream) establishSession(_ context.Context, iq *xmpp.IQ) processor.Result {
	return processor.Reply(iq.MakeResultResponse())
}

// startBinding requests a resource on an initiating stream once authenticated.
func (s *Stream) startBinding(features *xmpp.Element) {
	if features.ChildNamespace("bind", xmpp.BindNamespace) == nil {
		s.establish()
		return
	}
	bind := xmpp.NewElementNamespace("bind", xmpp.BindNamespace)
	if len(s.stg.Resource) > 0 {
		bind.AppendElement(xmpp.NewElementName("resource").SetText(s.stg.Resource))
	}
	iq, _ := xmpp.NewIQType(uuid.New().String(), xmpp.SetType)
	iq.SetQuery(bind)

	s.mu.Lock()
	s.advanceLocked(StateResourceBinding)
	s.mu.Unlock()

	s.postEvent(event.StreamBindingResource, nil)

	onResult := func(ctx context.Context, rs *xmpp.IQ) processor.Result {
		s.resourceBound(ctx, rs, features)
		return processor.Handled()
	}
	if err := s.proc.SendIQ(s.ctx, iq, onResult, s.bindRejected, s.negotiationTimeout, s.stg.DefaultStanzaTimeout); err != nil {
		s.fail(err, nil)
	}
}

func (s *Stream) resourceBound(ctx context.Context, rs *xmpp.IQ, features *xmpp.Element) {
	jidText := childText(rs.Payload("bind", xmpp.BindNamespace), "jid")
	if len(jidText) == 0 {
		s.fail(errors.Wrap(ErrBindFailed, "missing jid"), nil)
		return
	}
	me, err := s.jids.Parse(jidText)
	if err != nil {
		s.fail(errors.Wrap(ErrBindFailed, err.Error()), nil)
		return
	}
	s.mu.Lock()
	s.me = me
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "resource bound", "jid", me)

	sess := features.ChildNamespace("session", xmpp.SessionNamespace)
	if sess == nil || sess.Child("optional") != nil {
		s.establish()
		return
	}
	iq, _ := xmpp.NewIQType(uuid.New().String(), xmpp.SetType)
	iq.SetQuery(xmpp.NewElementNamespace("session", xmpp.SessionNamespace))

	onResult := func(_ context.Context, _ *xmpp.IQ) processor.Result {
		s.establish()
		return processor.Handled()
	}
	if err := s.proc.SendIQ(ctx, iq, onResult, s.bindRejected, s.negotiationTimeout, s.stg.DefaultStanzaTimeout); err != nil {
		s.fail(err, nil)
	}
}

func (s *Stream) bindRejected(_ context.Context, iq *xmpp.IQ) processor.Result {
	reason := "unknown"
	if e := iq.Error(); e != nil && len(e.Elements()) > 0 {
		reason = e.Elements()[0].Name()
	}
	s.fail(errors.Wrap(ErrBindFailed, reason), nil)
	return processor.Handled()
}
