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

package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/jid"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	elems []*xmpp.Element
}

func (s *fakeSender) SendElement(_ context.Context, elem *xmpp.Element) error {
	s.mu.Lock()
	s.elems = append(s.elems, elem)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) sent() []*xmpp.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*xmpp.Element(nil), s.elems...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testProvider struct {
	iq       []IQHandler
	message  []StanzaHandler
	presence []StanzaHandler
}

func (p *testProvider) IQHandlers() []IQHandler           { return p.iq }
func (p *testProvider) MessageHandlers() []StanzaHandler  { return p.message }
func (p *testProvider) PresenceHandlers() []StanzaHandler { return p.presence }

func parseStanza(t *testing.T, elem *xmpp.Element) xmpp.Stanza {
	t.Helper()
	stanza, err := xmpp.NewStanzaFromElement(elem, xmpp.ClientNamespace, false, nil)
	require.Nil(t, err)
	return stanza
}

func TestProcessor_MessageDispatch(t *testing.T) {
	var got []string
	record := func(tag string, res Result) StanzaHandlerFunc {
		return func(_ context.Context, _ xmpp.Stanza) Result {
			got = append(got, tag)
			return res
		}
	}
	s := &fakeSender{}
	p := New(s)
	p.SetupHandlers(&testProvider{
		message: []StanzaHandler{
			{Type: "normal", Handler: record("normal", Handled())},
			{Type: "chat", Handler: record("chat-1", Unhandled())},
			{Type: "chat", Handler: record("chat-2", Handled())},
			{Type: "headline", Handler: record("headline", Unhandled())},
		},
	})
	p.SetPeerAuthenticated(true)

	ctx := context.Background()

	// untyped messages are dispatched as normal
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("message"))))
	require.Equal(t, []string{"normal"}, got)

	got = nil
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("message").SetType("chat"))))
	require.Equal(t, []string{"chat-1", "chat-2"}, got)

	// unhandled typed messages fall back to normal handlers
	got = nil
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("message").SetType("headline"))))
	require.Equal(t, []string{"headline", "normal"}, got)

	// error messages never fall back
	got = nil
	elem := xmpp.NewElementName("message").SetType("error")
	elem.AppendElement(xmpp.ErrBadRequest.Element())
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, elem)))
	require.Empty(t, got)

	require.Empty(t, s.sent())
}

func TestProcessor_PresenceDispatch(t *testing.T) {
	var got []string
	s := &fakeSender{}
	p := New(s)
	p.SetupHandlers(&testProvider{
		presence: []StanzaHandler{
			{Type: "", Handler: func(_ context.Context, _ xmpp.Stanza) Result {
				got = append(got, "available")
				return Handled()
			}},
			{Type: "subscribe", Handler: func(_ context.Context, st xmpp.Stanza) Result {
				got = append(got, "subscribe")
				rs, _ := xmpp.NewPresenceType("", xmpp.SubscribedType)
				rs.SetToJID(st.FromJID())
				return Reply(rs)
			}},
		},
	})
	p.SetPeerAuthenticated(true)

	ctx := context.Background()
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("presence"))))
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("presence").SetType("subscribe").SetFrom("noelia@jackal.im"))))
	require.Nil(t, p.ProcessStanza(ctx, parseStanza(t, xmpp.NewElementName("presence").SetType("unavailable"))))

	require.Equal(t, []string{"available", "subscribe"}, got)

	sent := s.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "subscribed", sent[0].Type())
	require.Equal(t, "noelia@jackal.im", sent[0].To())
}

func TestProcessor_IQRequestLookupOrder(t *testing.T) {
	var got []string
	handler := func(tag string) IQHandlerFunc {
		return func(_ context.Context, iq *xmpp.IQ) Result {
			got = append(got, tag)
			return Reply(iq.MakeResultResponse())
		}
	}
	s := &fakeSender{}
	p := New(s)
	p.SetupHandlers(&testProvider{
		iq: []IQHandler{
			{Type: "get", Name: "query", Namespace: "jabber:iq:version", Handler: handler("exact")},
			{Type: "get", Namespace: "jabber:iq:version", Handler: handler("namespace")},
			{Type: "get", Handler: handler("generic")},
		},
	})
	p.SetPeerAuthenticated(true)

	newIQ := func(name, ns string) xmpp.Stanza {
		elem := xmpp.NewElementName("iq").SetID(xmpp.NewID()).SetType("get")
		elem.AppendElement(xmpp.NewElementNamespace(name, ns))
		return parseStanza(t, elem)
	}
	ctx := context.Background()
	require.Nil(t, p.ProcessStanza(ctx, newIQ("query", "jabber:iq:version")))
	require.Nil(t, p.ProcessStanza(ctx, newIQ("other", "jabber:iq:version")))
	require.Nil(t, p.ProcessStanza(ctx, newIQ("ping", xmpp.PingNamespace)))

	require.Equal(t, []string{"exact", "namespace", "generic"}, got)
	require.Len(t, s.sent(), 3)
	for _, elem := range s.sent() {
		require.Equal(t, "result", elem.Type())
	}
}

func TestProcessor_IQRequestNotImplemented(t *testing.T) {
	s := &fakeSender{}
	p := New(s)
	p.SetupHandlers(&testProvider{
		iq: []IQHandler{
			{Type: "set", Namespace: "jabber:iq:roster", Handler: func(context.Context, *xmpp.IQ) Result {
				return Unhandled()
			}},
		},
	})
	p.SetPeerAuthenticated(true)

	for _, ns := range []string{"jabber:iq:roster", "jabber:iq:private"} {
		elem := xmpp.NewElementName("iq").SetID("1").SetType("set").SetFrom("ortuman@jackal.im/yard")
		elem.AppendElement(xmpp.NewElementNamespace("query", ns))
		require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, elem)))
	}
	sent := s.sent()
	require.Len(t, sent, 2)
	for _, elem := range sent {
		require.Equal(t, "error", elem.Type())
		require.Equal(t, "ortuman@jackal.im/yard", elem.To())
		require.NotNil(t, elem.Error().ChildNamespace("feature-not-implemented", xmpp.StanzaErrorNamespace))
	}
}

func TestProcessor_PreAuthHandlers(t *testing.T) {
	var got []string
	s := &fakeSender{}
	p := New(s)
	p.SetupHandlers(&testProvider{
		iq: []IQHandler{
			{Type: "get", Name: "query", Namespace: "jabber:iq:auth", Usage: PreAuth, Handler: func(_ context.Context, iq *xmpp.IQ) Result {
				got = append(got, "pre")
				return Reply(iq.MakeResultResponse())
			}},
			{Type: "get", Name: "query", Namespace: "jabber:iq:version", Handler: func(_ context.Context, iq *xmpp.IQ) Result {
				got = append(got, "post")
				return Reply(iq.MakeResultResponse())
			}},
		},
	})
	newIQ := func(ns string) xmpp.Stanza {
		elem := xmpp.NewElementName("iq").SetID("1").SetType("get")
		elem.AppendElement(xmpp.NewElementNamespace("query", ns))
		return parseStanza(t, elem)
	}
	ctx := context.Background()

	require.Nil(t, p.ProcessStanza(ctx, newIQ("jabber:iq:version")))
	require.Nil(t, p.ProcessStanza(ctx, newIQ("jabber:iq:auth")))

	p.SetPeerAuthenticated(true)

	require.Nil(t, p.ProcessStanza(ctx, newIQ("jabber:iq:version")))
	require.Nil(t, p.ProcessStanza(ctx, newIQ("jabber:iq:auth")))

	require.Equal(t, []string{"pre", "post"}, got)
	require.Len(t, s.sent(), 4)
}

func TestProcessor_IQResponseExactlyOnce(t *testing.T) {
	s := &fakeSender{}
	p := New(s)

	var results, timeouts int
	req, _ := xmpp.NewIQType("req-1", xmpp.GetType)
	req.SetToJID(jid.MustParse("jackal.im"))
	req.AppendElement(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	err := p.SendIQ(context.Background(), req,
		func(context.Context, *xmpp.IQ) Result { results++; return Handled() },
		nil,
		func(*xmpp.IQ) { timeouts++ },
		time.Minute,
	)
	require.Nil(t, err)
	require.Len(t, s.sent(), 1)
	require.Equal(t, 1, p.PendingRequests())

	resp := xmpp.NewElementName("iq").SetID("req-1").SetType("result").SetFrom("jackal.im")

	require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, resp)))
	require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, resp))) // duplicate

	_, _ = p.Expire()

	require.Equal(t, 1, results)
	require.Equal(t, 0, timeouts)
	require.Equal(t, 0, p.PendingRequests())
}

func TestProcessor_IQResponseTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1600000000, 0)}
	s := &fakeSender{}
	p := New(s, WithClock(clk.Now))

	var results, errs, timeouts int
	req, _ := xmpp.NewIQType("req-1", xmpp.GetType)
	req.SetToJID(jid.MustParse("jackal.im"))
	req.AppendElement(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	p.SetResponseHandlers(req,
		func(context.Context, *xmpp.IQ) Result { results++; return Handled() },
		func(context.Context, *xmpp.IQ) Result { errs++; return Handled() },
		func(r *xmpp.IQ) {
			require.Equal(t, "req-1", r.ID())
			timeouts++
		},
		time.Second,
	)
	clk.Advance(2 * time.Second)
	_, ok := p.Expire()
	require.False(t, ok)

	// late response is ignored
	resp := xmpp.NewElementName("iq").SetID("req-1").SetType("result").SetFrom("jackal.im")
	require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, resp)))

	require.Equal(t, 0, results)
	require.Equal(t, 0, errs)
	require.Equal(t, 1, timeouts)
}

func TestProcessor_IQResponseNormalizedPeer(t *testing.T) {
	s := &fakeSender{}
	p := New(s)

	var results int
	req, _ := xmpp.NewIQType("req-1", xmpp.GetType)
	req.SetTo("Juliet@Example.COM/balcony")
	req.AppendElement(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

	err := p.SendIQ(context.Background(), req,
		func(context.Context, *xmpp.IQ) Result { results++; return Handled() },
		nil, nil, time.Minute,
	)
	require.Nil(t, err)

	resp := xmpp.NewElementName("iq").SetID("req-1").SetType("result").SetFrom("juliet@example.com/balcony")
	require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, resp)))

	require.Equal(t, 1, results)
	require.Equal(t, 0, p.PendingRequests())
}

func TestProcessor_Abort(t *testing.T) {
	s := &fakeSender{}
	p := New(s)

	var results, timeouts int
	for _, id := range []string{"req-1", "req-2"} {
		req, _ := xmpp.NewIQType(id, xmpp.GetType)
		req.SetToJID(jid.MustParse("jackal.im"))
		req.AppendElement(xmpp.NewElementNamespace("ping", xmpp.PingNamespace))

		p.SetResponseHandlers(req,
			func(context.Context, *xmpp.IQ) Result { results++; return Handled() },
			nil,
			func(*xmpp.IQ) { timeouts++ },
			time.Minute,
		)
	}
	p.Abort()

	resp := xmpp.NewElementName("iq").SetID("req-1").SetType("result").SetFrom("jackal.im")
	require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, resp)))
	_, _ = p.Expire()

	require.Equal(t, 0, results)
	require.Equal(t, 2, timeouts)
	require.Equal(t, 0, p.PendingRequests())
}

func TestProcessor_IQResponseFallback(t *testing.T) {
	s := &fakeSender{}
	p := New(s)
	p.SetMe(jid.MustParse("ortuman@jackal.im/yard"))
	p.SetPeer(jid.MustParse("jackal.im"))

	var errs int
	register := func(id string) {
		req, _ := xmpp.NewIQType(id, xmpp.GetType)
		req.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:roster"))
		p.SetResponseHandlers(req, nil, func(context.Context, *xmpp.IQ) Result { errs++; return Handled() }, nil, 0)
	}
	respond := func(id, from string) {
		elem := xmpp.NewElementName("iq").SetID(id).SetType("error").SetFrom(from)
		elem.AppendElement(xmpp.ErrItemNotFound.Element())
		require.Nil(t, p.ProcessStanza(context.Background(), parseStanza(t, elem)))
	}
	register("a")
	register("b")
	register("c")

	respond("a", "ortuman@jackal.im") // own bare JID
	respond("b", "jackal.im")         // peer
	respond("c", "noelia@jackal.im")  // unrelated entity

	require.Equal(t, 2, errs)
	require.Equal(t, 1, p.PendingRequests())

	p2 := New(s, WithIQResponseFallback(false))
	p2.SetPeer(jid.MustParse("jackal.im"))
	req, _ := xmpp.NewIQType("d", xmpp.GetType)
	p2.SetResponseHandlers(req, func(context.Context, *xmpp.IQ) Result { errs++; return Handled() }, nil, nil, 0)

	elem := xmpp.NewElementName("iq").SetID("d").SetType("result").SetFrom("jackal.im")
	require.Nil(t, p2.ProcessStanza(context.Background(), parseStanza(t, elem)))
	require.Equal(t, 2, errs)
}

func TestProcessor_MalformedElement(t *testing.T) {
	s := &fakeSender{}
	p := New(s)

	elem := xmpp.NewElementName("message").SetID("m1").SetFrom("ortuman@jackal.im").SetTo("@bad")
	require.Nil(t, p.ProcessElement(context.Background(), elem, xmpp.ClientNamespace))

	sent := s.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "error", sent[0].Type())
	require.NotNil(t, sent[0].Error().ChildNamespace("jid-malformed", xmpp.StanzaErrorNamespace))

	// errors are never answered with errors
	errElem := xmpp.NewElementName("message").SetType("error").SetTo("@bad")
	require.Nil(t, p.ProcessElement(context.Background(), errElem, xmpp.ClientNamespace))
	require.Len(t, s.sent(), 1)
}

func TestProcessor_HandlerRegistryMutation(t *testing.T) {
	s := &fakeSender{}
	p := New(s)

	var calls int
	provider := &testProvider{}
	provider.message = []StanzaHandler{
		{Type: "chat", Usage: PreAuth, Handler: func(context.Context, xmpp.Stanza) Result {
			calls++
			p.SetupHandlers(provider) // re-entrant registry rebuild
			p.SetPeerAuthenticated(true)
			return Handled()
		}},
	}
	p.SetupHandlers(provider)

	msg := parseStanza(t, xmpp.NewElementName("message").SetType("chat"))
	require.Nil(t, p.ProcessStanza(context.Background(), msg))
	require.Nil(t, p.ProcessStanza(context.Background(), msg)) // post-auth set has no handlers

	require.Equal(t, 1, calls)
	require.True(t, p.PeerAuthenticated())
}

func TestProcessor_JIDCache(t *testing.T) {
	cache := jid.NewCache(64)
	p := New(&fakeSender{}, WithJIDCache(cache))

	elem := xmpp.NewElementName("message").SetType("chat").SetFrom("noelia@jackal.im/yard").SetTo("ortuman@jackal.im")
	require.Nil(t, p.ProcessElement(context.Background(), elem, xmpp.ClientNamespace))

	require.Equal(t, 2, cache.Len())
}
