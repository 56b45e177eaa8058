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

// Package dns resolves XMPP service endpoints.
package dns

import (
	"context"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

const resolveTimeout = time.Second * 5

// ErrServiceUnavailable is returned when the domain explicitly declares the service as not available.
var ErrServiceUnavailable = errors.New("dns: service not available")

// LookupSRVFunc performs a raw SRV lookup.
type LookupSRVFunc func(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)

// Target is a resolved SRV target.
type Target struct {
	Host string
	Port int
}

// String satisfies fmt.Stringer interface.
func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// SRVResolver resolves and orders SRV records.
type SRVResolver struct {
	lookUpFn LookupSRVFunc
	logger   kitlog.Logger

	randMu sync.Mutex
	rnd    *rand.Rand
}

var srvDialer = net.Dialer{Timeout: resolveTimeout}

// SRVOption defines SRVResolver option type.
type SRVOption func(*SRVResolver)

// WithLookupSRV replaces the underlying SRV lookup function.
func WithLookupSRV(fn LookupSRVFunc) SRVOption {
	return func(r *SRVResolver) {
		r.lookUpFn = fn
	}
}

// WithRandSource sets the source used for weighted target selection.
func WithRandSource(src rand.Source) SRVOption {
	return func(r *SRVResolver) {
		r.rnd = rand.New(src)
	}
}

// WithSRVLogger sets the resolver logger.
func WithSRVLogger(logger kitlog.Logger) SRVOption {
	return func(r *SRVResolver) {
		r.logger = logger
	}
}

// NewSRVResolver creates and initializes a new SRVResolver instance.
func NewSRVResolver(opts ...SRVOption) *SRVResolver {
	r := net.Resolver{
		Dial: func(ctx context.Context, _, address string) (net.Conn, error) {
			return srvDialer.DialContext(ctx, "tcp", address) // force SRV resolution over TCP
		},
	}
	res := &SRVResolver{
		lookUpFn: r.LookupSRV,
		logger:   kitlog.NewNopLogger(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// LookupSRV returns the targets of the _service._proto.domain record in connection order.
func (r *SRVResolver) LookupSRV(ctx context.Context, service, proto, domain string) ([]Target, error) {
	_, addrs, err := r.lookUpFn(ctx, service, proto, domain)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 1 && addrs[0].Target == "." {
		return nil, ErrServiceUnavailable
	}
	ordered := r.order(addrs)

	targets := make([]Target, 0, len(ordered))
	for _, addr := range ordered {
		if addr.Target == "." {
			continue
		}
		targets = append(targets, Target{
			Host: strings.TrimSuffix(addr.Target, "."),
			Port: int(addr.Port),
		})
	}
	level.Debug(r.logger).Log("msg", "resolved SRV record", "service", service, "domain", domain, "targets", len(targets))
	return targets, nil
}

// order sorts records by priority and shuffles every priority tier by weight.
func (r *SRVResolver) order(addrs []*net.SRV) []*net.SRV {
	sorted := make([]*net.SRV, len(addrs))
	copy(sorted, addrs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	ret := make([]*net.SRV, 0, len(sorted))
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].Priority == sorted[i].Priority {
			j++
		}
		ret = append(ret, r.shuffleTier(sorted[i:j])...)
		i = j
	}
	return ret
}

func (r *SRVResolver) shuffleTier(tier []*net.SRV) []*net.SRV {
	remaining := make([]*net.SRV, len(tier))
	copy(remaining, tier)

	r.randMu.Lock()
	defer r.randMu.Unlock()

	ret := make([]*net.SRV, 0, len(tier))
	for len(remaining) > 0 {
		var total float64
		for _, rec := range remaining {
			total += float64(rec.Weight) + 0.1
		}
		pick := r.rnd.Float64() * total
		idx := len(remaining) - 1
		for i, rec := range remaining {
			pick -= float64(rec.Weight) + 0.1
			if pick < 0 {
				idx = i
				break
			}
		}
		ret = append(ret, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return ret
}
