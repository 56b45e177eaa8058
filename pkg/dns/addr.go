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
	"net"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrNoAddress is returned when a host has no address of an allowed family.
var ErrNoAddress = errors.New("dns: no usable address")

// LookupIPFunc performs a raw address lookup.
type LookupIPFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// AddressResolver resolves host names applying the configured address family preference.
type AddressResolver struct {
	lookUpFn   LookupIPFunc
	ipv4       bool
	ipv6       bool
	preferIPv6 bool
	logger     kitlog.Logger
}

// NewAddressResolver returns a new AddressResolver instance.
// A nil lookUpFn makes the resolver use net.DefaultResolver.
func NewAddressResolver(lookUpFn LookupIPFunc, ipv4, ipv6, preferIPv6 bool, logger kitlog.Logger) *AddressResolver {
	if lookUpFn == nil {
		lookUpFn = net.DefaultResolver.LookupIP
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &AddressResolver{
		lookUpFn:   lookUpFn,
		ipv4:       ipv4,
		ipv6:       ipv6,
		preferIPv6: preferIPv6,
		logger:     logger,
	}
}

// LookupAddrs returns the addresses of host in connection order.
func (r *AddressResolver) LookupAddrs(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !r.allowed(ip) {
			return nil, ErrNoAddress
		}
		return []net.IP{ip}, nil
	}
	network := "ip"
	switch {
	case r.ipv4 && !r.ipv6:
		network = "ip4"
	case r.ipv6 && !r.ipv4:
		network = "ip6"
	}
	ips, err := r.lookUpFn(ctx, network, host)
	if err != nil {
		return nil, err
	}
	v4 := lo.Filter(ips, func(ip net.IP, _ int) bool { return ip.To4() != nil && r.ipv4 })
	v6 := lo.Filter(ips, func(ip net.IP, _ int) bool { return ip.To4() == nil && r.ipv6 })

	var ret []net.IP
	if r.preferIPv6 {
		ret = append(v6, v4...)
	} else {
		ret = append(v4, v6...)
	}
	if len(ret) == 0 {
		return nil, ErrNoAddress
	}
	level.Debug(r.logger).Log("msg", "resolved host", "host", host, "addrs", len(ret))
	return ret, nil
}

func (r *AddressResolver) allowed(ip net.IP) bool {
	if ip.To4() != nil {
		return r.ipv4
	}
	return r.ipv6
}
