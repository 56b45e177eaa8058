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

package streamerror

import (
	"github.com/ortuman/xmppcore/pkg/xmpp"
)

// Error represents a "stream:error" element.
type Error struct {
	reason string
	text   string
}

var (
	// ErrBadFormat represents 'bad-format' stream error.
	ErrBadFormat = newStreamError("bad-format")

	// ErrBadNamespacePrefix represents 'bad-namespace-prefix' stream error.
	ErrBadNamespacePrefix = newStreamError("bad-namespace-prefix")

	// ErrConflict represents 'conflict' stream error.
	ErrConflict = newStreamError("conflict")

	// ErrConnectionTimeout represents 'connection-timeout' stream error.
	ErrConnectionTimeout = newStreamError("connection-timeout")

	// ErrHostGone represents 'host-gone' stream error.
	ErrHostGone = newStreamError("host-gone")

	// ErrHostUnknown represents 'host-unknown' stream error.
	ErrHostUnknown = newStreamError("host-unknown")

	// ErrImproperAddressing represents 'improper-addressing' stream error.
	ErrImproperAddressing = newStreamError("improper-addressing")

	// ErrInternalServerError represents 'internal-server-error' stream error.
	ErrInternalServerError = newStreamError("internal-server-error")

	// ErrInvalidFrom represents 'invalid-from' stream error.
	ErrInvalidFrom = newStreamError("invalid-from")

	// ErrInvalidNamespace represents 'invalid-namespace' stream error.
	ErrInvalidNamespace = newStreamError("invalid-namespace")

	// ErrInvalidXML represents 'invalid-xml' stream error.
	ErrInvalidXML = newStreamError("invalid-xml")

	// ErrNotAuthorized represents 'not-authorized' stream error.
	ErrNotAuthorized = newStreamError("not-authorized")

	// ErrNotWellFormed represents 'not-well-formed' stream error.
	ErrNotWellFormed = newStreamError("not-well-formed")

	// ErrPolicyViolation represents 'policy-violation' stream error.
	ErrPolicyViolation = newStreamError("policy-violation")

	// ErrRemoteConnectionFailed represents 'remote-connection-failed' stream error.
	ErrRemoteConnectionFailed = newStreamError("remote-connection-failed")

	// ErrReset represents 'reset' stream error.
	ErrReset = newStreamError("reset")

	// ErrResourceConstraint represents 'resource-constraint' stream error.
	ErrResourceConstraint = newStreamError("resource-constraint")

	// ErrRestrictedXML represents 'restricted-xml' stream error.
	ErrRestrictedXML = newStreamError("restricted-xml")

	// ErrSeeOtherHost represents 'see-other-host' stream error.
	ErrSeeOtherHost = newStreamError("see-other-host")

	// ErrSystemShutdown represents 'system-shutdown' stream error.
	ErrSystemShutdown = newStreamError("system-shutdown")

	// ErrUndefinedCondition represents 'undefined-condition' stream error.
	ErrUndefinedCondition = newStreamError("undefined-condition")

	// ErrUnsupportedEncoding represents 'unsupported-encoding' stream error.
	ErrUnsupportedEncoding = newStreamError("unsupported-encoding")

	// ErrUnsupportedFeature represents 'unsupported-feature' stream error.
	ErrUnsupportedFeature = newStreamError("unsupported-feature")

	// ErrUnsupportedStanzaType represents 'unsupported-stanza-type' stream error.
	ErrUnsupportedStanzaType = newStreamError("unsupported-stanza-type")

	// ErrUnsupportedVersion represents 'unsupported-version' stream error.
	ErrUnsupportedVersion = newStreamError("unsupported-version")
)

func newStreamError(reason string) *Error {
	return &Error{reason: reason}
}

// FromElement parses a received "stream:error" element.
// Unknown conditions are reported as 'undefined-condition'.
func FromElement(elem *xmpp.Element) *Error {
	se := &Error{}
	for _, child := range elem.Elements() {
		if child.Namespace() != xmpp.StreamErrorNamespace {
			continue
		}
		if child.Name() == "text" {
			se.text = child.Text()
			continue
		}
		se.reason = child.Name()
	}
	if len(se.reason) == 0 {
		se.reason = ErrUndefinedCondition.reason
	}
	return se
}

// WithText returns a copy of the stream error carrying a descriptive text.
func (se *Error) WithText(text string) *Error {
	return &Error{reason: se.reason, text: text}
}

// Reason returns the stream error defined condition.
func (se *Error) Reason() string {
	return se.reason
}

// Text returns the stream error descriptive text.
func (se *Error) Text() string {
	return se.text
}

// Is reports whether target refers to the same defined condition.
func (se *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.reason == se.reason
}

// Element returns stream error XML node.
func (se *Error) Element() *xmpp.Element {
	ret := xmpp.NewElementName(xmpp.StreamErrorName)
	ret.AppendElement(xmpp.NewElementNamespace(se.reason, xmpp.StreamErrorNamespace))
	if len(se.text) > 0 {
		ret.AppendElement(xmpp.NewElementNamespace("text", xmpp.StreamErrorNamespace).SetText(se.text))
	}
	return ret
}

// Error satisfies error interface.
func (se *Error) Error() string {
	if len(se.text) > 0 {
		return se.reason + ": " + se.text
	}
	return se.reason
}
