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

package server

import (
	"context"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/processor"
	"github.com/ortuman/xmppcore/pkg/stream"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/pkg/errors"
)

// ErrNotAvailable is returned by Route when no established stream is bound to the stanza destination.
var ErrNotAvailable = errors.New("server: destination not available")

// Router delivers stanzas between established streams.
// Streams are bound by their peer address once established and unbound on close.
type Router struct {
	logger kitlog.Logger

	mu    sync.RWMutex
	bound map[string]map[string]*stream.Stream
}

// NewRouter returns a new initialized Router.
func NewRouter(logger kitlog.Logger) *Router {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Router{
		logger: logger,
		bound:  make(map[string]map[string]*stream.Stream),
	}
}

// Bind makes stm reachable through its peer address.
func (r *Router) Bind(stm *stream.Stream) error {
	peer := stm.Peer()
	if peer == nil {
		return errors.New("server: unbound stream peer")
	}
	bare := peer.ToBareJID().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	rs := r.bound[bare]
	if rs == nil {
		rs = make(map[string]*stream.Stream)
		r.bound[bare] = rs
	}
	rs[peer.Resource()] = stm
	return nil
}

// Unbind removes stm from the router. It is a no-op if stm is not bound.
func (r *Router) Unbind(stm *stream.Stream) {
	peer := stm.Peer()
	if peer == nil {
		return
	}
	bare := peer.ToBareJID().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	rs := r.bound[bare]
	if rs == nil || rs[peer.Resource()] != stm {
		return
	}
	delete(rs, peer.Resource())
	if len(rs) == 0 {
		delete(r.bound, bare)
	}
}

// Streams returns the streams bound to j. A bare address matches every bound resource.
func (r *Router) Streams(j *jid.JID) []*stream.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := r.bound[j.ToBareJID().String()]
	if rs == nil {
		return nil
	}
	if j.IsFull() {
		if stm := rs[j.Resource()]; stm != nil {
			return []*stream.Stream{stm}
		}
		return nil
	}
	stms := make([]*stream.Stream, 0, len(rs))
	for _, stm := range rs {
		stms = append(stms, stm)
	}
	return stms
}

// Route delivers stanza to every stream bound to its destination address.
func (r *Router) Route(stanza xmpp.Stanza) error {
	to := stanza.ToJID()
	if to == nil {
		return ErrNotAvailable
	}
	stms := r.Streams(to)
	if len(stms) == 0 {
		reportRoutedStanza(stanza.Name(), false)
		return ErrNotAvailable
	}
	for _, stm := range stms {
		if err := stm.Send(stanza); err != nil {
			level.Debug(r.logger).Log("msg", "failed to route stanza", "stream", stm.LogID(), "err", err)
		}
	}
	reportRoutedStanza(stanza.Name(), true)
	return nil
}

func (r *Router) track(stm *stream.Stream) {
	select {
	case <-stm.Established():
	case <-stm.Done():
		return
	}
	if err := r.Bind(stm); err != nil {
		level.Warn(r.logger).Log("msg", "failed to bind stream", "stream", stm.LogID(), "err", err)
		return
	}
	<-stm.Done()
	r.Unbind(stm)
}

// session routes the messages and directed presences received over a single stream.
type session struct {
	router *Router
	stm    *stream.Stream
}

func (s *session) MessageHandlers() []processor.StanzaHandler {
	var hs []processor.StanzaHandler
	for _, typ := range []string{xmpp.NormalType, xmpp.ChatType, xmpp.GroupChatType, xmpp.HeadlineType, xmpp.ErrorType} {
		hs = append(hs, processor.StanzaHandler{
			Type:    typ,
			Usage:   processor.PostAuth,
			Handler: s.route,
		})
	}
	return hs
}

func (s *session) PresenceHandlers() []processor.StanzaHandler {
	var hs []processor.StanzaHandler
	for _, typ := range []string{
		xmpp.AvailableType, xmpp.UnavailableType, xmpp.ProbeType, xmpp.ErrorType,
		xmpp.SubscribeType, xmpp.SubscribedType, xmpp.UnsubscribeType, xmpp.UnsubscribedType,
	} {
		hs = append(hs, processor.StanzaHandler{
			Type:    typ,
			Usage:   processor.PostAuth,
			Handler: s.route,
		})
	}
	return hs
}

func (s *session) route(_ context.Context, stanza xmpp.Stanza) processor.Result {
	if stanza.ToJID() == nil {
		// undirected presence, no roster to broadcast it to
		return processor.Handled()
	}
	out := stampFrom(stanza, s.stm)
	err := s.router.Route(out)
	switch {
	case err == nil:
		return processor.Handled()
	case errors.Is(err, ErrNotAvailable) && !stanza.IsError() && stanza.Kind() == xmpp.MessageKind:
		return processor.Reply(stanza.MakeErrorResponse(xmpp.ErrServiceUnavailable))
	}
	return processor.Handled()
}

// stampFrom returns a copy of stanza sent on behalf of the stream peer.
// Component streams keep the sender address they set.
func stampFrom(stanza xmpp.Stanza, stm *stream.Stream) xmpp.Stanza {
	keep := stm.Namespace() == xmpp.ComponentNamespace && stanza.FromJID() != nil

	switch st := stanza.(type) {
	case *xmpp.Message:
		out := st.Copy()
		if !keep {
			out.SetFromJID(stm.Peer())
		}
		return out

	case *xmpp.Presence:
		out := st.Copy()
		if !keep {
			out.SetFromJID(stm.Peer())
		}
		return out
	}
	return stanza
}
