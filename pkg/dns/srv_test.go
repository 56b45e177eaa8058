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

package dns

import (
	"context"
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func staticLookup(addrs []*net.SRV) LookupSRVFunc {
	return func(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
		return "_" + service + "._" + proto + "." + name, addrs, nil
	}
}

func TestSRVResolver_PriorityOrder(t *testing.T) {
	r := NewSRVResolver(WithLookupSRV(staticLookup([]*net.SRV{
		{Target: "xmpp2.jackal.im.", Port: 30000, Priority: 20},
		{Target: "xmpp0.jackal.im.", Port: 31000, Priority: 0},
		{Target: "xmpp1.jackal.im.", Port: 32000, Priority: 10},
	})))

	targets, err := r.LookupSRV(context.Background(), "xmpp-client", "tcp", "jackal.im")
	require.NoError(t, err)

	var addrs []string
	for _, tg := range targets {
		addrs = append(addrs, tg.String())
	}
	require.Equal(t, []string{"xmpp0.jackal.im:31000", "xmpp1.jackal.im:32000", "xmpp2.jackal.im:30000"}, addrs)
}

func TestSRVResolver_WeightedTier(t *testing.T) {
	recs := []*net.SRV{
		{Target: "heavy.jackal.im.", Port: 5222, Priority: 0, Weight: 1000},
		{Target: "zero.jackal.im.", Port: 5222, Priority: 0, Weight: 0},
		{Target: "backup.jackal.im.", Port: 5222, Priority: 5, Weight: 1000},
	}
	r := NewSRVResolver(
		WithLookupSRV(staticLookup(recs)),
		WithRandSource(rand.NewSource(1)),
	)

	var heavyFirst int
	for i := 0; i < 100; i++ {
		targets, err := r.LookupSRV(context.Background(), "xmpp-client", "tcp", "jackal.im")
		require.NoError(t, err)
		require.Len(t, targets, 3)
		require.Equal(t, "backup.jackal.im", targets[2].Host)
		if targets[0].Host == "heavy.jackal.im" {
			heavyFirst++
		}
	}
	require.Greater(t, heavyFirst, 90)
}

func TestSRVResolver_ServiceUnavailable(t *testing.T) {
	r := NewSRVResolver(WithLookupSRV(staticLookup([]*net.SRV{{Target: ".", Port: 0}})))

	_, err := r.LookupSRV(context.Background(), "xmpp-client", "tcp", "jackal.im")
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestAddressResolver_Preference(t *testing.T) {
	v4 := net.ParseIP("192.0.2.1")
	v6 := net.ParseIP("2001:db8::1")

	var gotNetwork string
	lookUp := func(_ context.Context, network, _ string) ([]net.IP, error) {
		gotNetwork = network
		return []net.IP{v4, v6}, nil
	}
	tcs := map[string]struct {
		ipv4, ipv6, prefer6 bool
		network             string
		expected            []net.IP
	}{
		"ipv4 first": {ipv4: true, ipv6: true, network: "ip", expected: []net.IP{v4, v6}},
		"ipv6 first": {ipv4: true, ipv6: true, prefer6: true, network: "ip", expected: []net.IP{v6, v4}},
		"ipv4 only":  {ipv4: true, network: "ip4", expected: []net.IP{v4}},
		"ipv6 only":  {ipv6: true, network: "ip6", expected: []net.IP{v6}},
	}
	for tn, tc := range tcs {
		t.Run(tn, func(t *testing.T) {
			r := NewAddressResolver(lookUp, tc.ipv4, tc.ipv6, tc.prefer6, nil)

			ips, err := r.LookupAddrs(context.Background(), "jackal.im")
			require.NoError(t, err)
			require.Equal(t, tc.network, gotNetwork)
			require.Equal(t, tc.expected, ips)
		})
	}
}

func TestAddressResolver_LiteralAddress(t *testing.T) {
	r := NewAddressResolver(nil, true, false, false, nil)

	ips, err := r.LookupAddrs(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, ips, 1)

	_, err = r.LookupAddrs(context.Background(), "::1")
	require.ErrorIs(t, err, ErrNoAddress)
}
