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

package jid

import (
	"bytes"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

const maxPartLength = 1023

// MatchingOptions represents a matching jid mask.
type MatchingOptions int8

const (
	// MatchesNode indicates that left and right operand has same node value.
	MatchesNode = MatchingOptions(1)

	// MatchesDomain indicates that left and right operand has same domain value.
	MatchesDomain = MatchingOptions(2)

	// MatchesResource indicates that left and right operand has same resource value.
	MatchesResource = MatchingOptions(4)

	// MatchesBare indicates that left and right operand has same node and domain value.
	MatchesBare = MatchesNode | MatchesDomain

	// MatchesFull indicates that left and right operand has same node, domain and resource value.
	MatchesFull = MatchesNode | MatchesDomain | MatchesResource
)

var (
	// ErrEmptyDomain is returned when parsing a JID string without domain part.
	ErrEmptyDomain = errors.New("jid: empty domain")

	// ErrEmptyResource is returned when parsing a JID string ending with a resource separator.
	ErrEmptyResource = errors.New("jid: empty resource")

	// ErrInvalidUTF8 is returned when a JID part is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("jid: invalid UTF-8")
)

// JID represents an XMPP address (JID).
// A JID is made up of a node (generally a username), a domain, and a resource.
// The node and resource are optional; domain is required.
//
// JID values are immutable once constructed.
type JID struct {
	node     string
	domain   string
	resource string
}

// New constructs a JID given a user, domain, and resource.
// This construction allows the caller to specify if stringprep should be applied or not.
func New(node, domain, resource string, skipStringPrep bool) (*JID, error) {
	if skipStringPrep {
		return &JID{
			node:     node,
			domain:   domain,
			resource: resource,
		}, nil
	}
	return stringPrep(node, domain, resource)
}

// NewWithString constructs a JID from it's string representation.
// This construction allows the caller to specify if stringprep should be applied or not.
func NewWithString(str string, skipStringPrep bool) (*JID, error) {
	node, domain, resource, err := split(str)
	if err != nil {
		return nil, err
	}
	return New(node, domain, resource, skipStringPrep)
}

// MustParse parses str and panics if it is not a valid JID.
func MustParse(str string) *JID {
	j, err := NewWithString(str, false)
	if err != nil {
		panic(err)
	}
	return j
}

// Node returns the node, or empty string if this JID does not contain node information.
func (j *JID) Node() string {
	return j.node
}

// Domain returns the domain.
func (j *JID) Domain() string {
	return j.domain
}

// Resource returns the resource, or empty string if this JID does not contain resource information.
func (j *JID) Resource() string {
	return j.resource
}

// ToBareJID returns the JID equivalent of the bare JID, which is the JID with resource information removed.
func (j *JID) ToBareJID() *JID {
	return &JID{node: j.node, domain: j.domain}
}

// WithResource returns a copy of the JID with its resource replaced.
func (j *JID) WithResource(resource string) (*JID, error) {
	return New(j.node, j.domain, resource, false)
}

// IsServer returns true if instance is a server JID.
func (j *JID) IsServer() bool {
	return len(j.node) == 0
}

// IsBare returns true if instance is a bare JID.
func (j *JID) IsBare() bool {
	return len(j.node) > 0 && len(j.resource) == 0
}

// IsFull returns true if instance is a full JID.
func (j *JID) IsFull() bool {
	return len(j.resource) > 0
}

// IsFullWithUser returns true if instance is a full client JID.
func (j *JID) IsFullWithUser() bool {
	return len(j.node) > 0 && len(j.resource) > 0
}

// Matches returns true if two JID's are equivalent according to options.
func (j *JID) Matches(j2 *JID, options MatchingOptions) bool {
	if j2 == nil {
		return false
	}
	if (options&MatchesNode) > 0 && j.node != j2.node {
		return false
	}
	if (options&MatchesDomain) > 0 && j.domain != j2.domain {
		return false
	}
	if (options&MatchesResource) > 0 && j.resource != j2.resource {
		return false
	}
	return true
}

// Equal reports whether j and j2 hold the same normalized value.
// Two nil JIDs are equal.
func (j *JID) Equal(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == nil && j2 == nil
	}
	return j.Matches(j2, MatchesFull)
}

// String returns a string representation of the JID.
func (j *JID) String() string {
	if j == nil {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(j.node) + len(j.domain) + len(j.resource) + 2)
	if len(j.node) > 0 {
		sb.WriteString(j.node)
		sb.WriteString("@")
	}
	sb.WriteString(j.domain)
	if len(j.resource) > 0 {
		sb.WriteString("/")
		sb.WriteString(j.resource)
	}
	return sb.String()
}

func split(str string) (node, domain, resource string, err error) {
	if len(str) == 0 {
		return "", "", "", ErrEmptyDomain
	}
	// resource part may contain both '@' and '/'
	slashIndex := strings.Index(str, "/")
	head := str
	if slashIndex >= 0 {
		if slashIndex+1 == len(str) {
			return "", "", "", ErrEmptyResource
		}
		resource = str[slashIndex+1:]
		head = str[:slashIndex]
	}
	atIndex := strings.Index(head, "@")
	if atIndex >= 0 {
		node = head[:atIndex]
		domain = head[atIndex+1:]
		if len(node) == 0 {
			return "", "", "", errors.New("jid: empty node")
		}
	} else {
		domain = head
	}
	if len(domain) == 0 {
		return "", "", "", ErrEmptyDomain
	}
	return node, domain, resource, nil
}

func stringPrep(node, domain, resource string) (*JID, error) {
	// Ensure that parts are valid UTF-8 (and short circuit the rest of the
	// process if they're not). We'll check the domain after performing
	// the IDNA ToUnicode operation.
	if !utf8.ValidString(node) || !utf8.ValidString(resource) {
		return nil, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1.  Preparation
	//
	//    An entity that prepares a string for inclusion in an XMPP domain
	//    slot MUST ensure that the string consists only of Unicode code points
	//    that are allowed in NR-LDH labels or U-labels as defined in
	//    [RFC5890].
	var err error
	if !isIP6Literal(domain) {
		domain, err = idna.ToUnicode(domain)
		if err != nil {
			return nil, errors.Wrap(err, "jid: invalid domain")
		}
		domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	}
	if !utf8.ValidString(domain) {
		return nil, ErrInvalidUTF8
	}

	var nodelen int
	data := make([]byte, 0, len(node)+len(domain)+len(resource))

	if node != "" {
		data, err = precis.UsernameCaseMapped.Append(data, []byte(node))
		if err != nil {
			return nil, errors.Wrap(err, "jid: invalid node")
		}
		nodelen = len(data)
	}
	data = append(data, []byte(domain)...)

	if resource != "" {
		data, err = precis.OpaqueString.Append(data, []byte(resource))
		if err != nil {
			return nil, errors.Wrap(err, "jid: invalid resource")
		}
	}
	if err := commonChecks(data[:nodelen], domain, data[nodelen+len(domain):]); err != nil {
		return nil, err
	}
	return &JID{
		node:     string(data[:nodelen]),
		domain:   string(data[nodelen : nodelen+len(domain)]),
		resource: string(data[nodelen+len(domain):]),
	}, nil
}

func commonChecks(node []byte, domain string, resource []byte) error {
	if len(node) > maxPartLength {
		return errors.New("jid: node must be smaller than 1024 bytes")
	}
	// RFC 7622 §3.3.1 provides a small table of characters which are still not
	// allowed in node's even though the IdentifierClass base class and the
	// UsernameCaseMapped profile don't forbid them; disallow them here.
	if bytes.ContainsAny(node, `"&'/:<>@`) {
		return errors.New("jid: node contains forbidden characters")
	}
	if len(resource) > maxPartLength {
		return errors.New("jid: resource must be smaller than 1024 bytes")
	}
	if l := len(domain); l < 1 || l > maxPartLength {
		return errors.New("jid: domain must be between 1 and 1023 bytes")
	}
	return checkIP6String(domain)
}

func isIP6Literal(domain string) bool {
	return len(domain) > 2 && strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]")
}

func checkIP6String(domain string) error {
	// if the domain is a valid IPv6 address (with brackets), short circuit.
	if isIP6Literal(domain) {
		if ip := net.ParseIP(domain[1 : len(domain)-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domain is not a valid IPv6 address")
		}
	}
	return nil
}
