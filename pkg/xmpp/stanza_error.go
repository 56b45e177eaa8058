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

package xmpp

import (
	"strconv"
)

// StanzaError represents a stanza "error" element.
type StanzaError struct {
	code       int
	errorType  string
	reason     string
	text       string
	appElement *Element
}

func newStanzaError(code int, errorType string, reason string) *StanzaError {
	return &StanzaError{
		code:      code,
		errorType: errorType,
		reason:    reason,
	}
}

// Error satisfies error interface.
func (se *StanzaError) Error() string {
	if len(se.text) > 0 {
		return se.reason + ": " + se.text
	}
	return se.reason
}

// Reason returns the defined condition name.
func (se *StanzaError) Reason() string {
	return se.reason
}

// Type returns the error type (auth, cancel, continue, modify or wait).
func (se *StanzaError) Type() string {
	return se.errorType
}

// Code returns the legacy numeric error code.
func (se *StanzaError) Code() int {
	return se.code
}

// Text returns the optional descriptive text.
func (se *StanzaError) Text() string {
	return se.text
}

// ApplicationCondition returns the application specific condition element, if any.
func (se *StanzaError) ApplicationCondition() *Element {
	return se.appElement
}

// WithText returns a copy of the error carrying a descriptive text.
func (se *StanzaError) WithText(text string) *StanzaError {
	cp := *se
	cp.text = text
	return &cp
}

// WithApplicationCondition returns a copy of the error carrying an application specific condition.
func (se *StanzaError) WithApplicationCondition(elem *Element) *StanzaError {
	cp := *se
	cp.appElement = elem
	return &cp
}

// Element returns StanzaError equivalent XML element.
func (se *StanzaError) Element() *Element {
	err := NewElementName("error")
	if se.code > 0 {
		err.SetAttribute("code", strconv.Itoa(se.code))
	}
	err.SetAttribute("type", se.errorType)
	err.AppendElement(NewElementNamespace(se.reason, StanzaErrorNamespace))
	if len(se.text) > 0 {
		err.AppendElement(NewElementNamespace("text", StanzaErrorNamespace).SetText(se.text))
	}
	if se.appElement != nil {
		err.AppendElement(se.appElement)
	}
	return err
}

// NewStanzaErrorFromElement parses a received <error/> element.
// Unknown or missing conditions are reported as 'undefined-condition'.
func NewStanzaErrorFromElement(elem *Element) *StanzaError {
	if elem == nil {
		return ErrUndefinedCondition
	}
	se := &StanzaError{errorType: elem.Type()}
	se.code, _ = strconv.Atoi(elem.Attribute("code"))
	for _, child := range elem.Elements() {
		switch {
		case child.Namespace() == StanzaErrorNamespace && child.Name() == "text":
			se.text = child.Text()
		case child.Namespace() == StanzaErrorNamespace:
			se.reason = child.Name()
		default:
			se.appElement = child
		}
	}
	if len(se.reason) == 0 {
		se.reason = undefinedConditionErrorReason
	}
	return se
}

const (
	authErrorType   = "auth"
	cancelErrorType = "cancel"
	modifyErrorType = "modify"
	waitErrorType   = "wait"
)

const (
	badRequestErrorReason            = "bad-request"
	conflictErrorReason              = "conflict"
	featureNotImplementedErrorReason = "feature-not-implemented"
	forbiddenErrorReason             = "forbidden"
	goneErrorReason                  = "gone"
	internalServerErrorErrorReason   = "internal-server-error"
	itemNotFoundErrorReason          = "item-not-found"
	jidMalformedErrorReason          = "jid-malformed"
	notAcceptableErrorReason         = "not-acceptable"
	notAllowedErrorReason            = "not-allowed"
	notAuthorizedErrorReason         = "not-authorized"
	policyViolationErrorReason       = "policy-violation"
	recipientUnavailableErrorReason  = "recipient-unavailable"
	redirectErrorReason              = "redirect"
	registrationRequiredErrorReason  = "registration-required"
	remoteServerNotFoundErrorReason  = "remote-server-not-found"
	remoteServerTimeoutErrorReason   = "remote-server-timeout"
	resourceConstraintErrorReason    = "resource-constraint"
	serviceUnavailableErrorReason    = "service-unavailable"
	subscriptionRequiredErrorReason  = "subscription-required"
	undefinedConditionErrorReason    = "undefined-condition"
	unexpectedRequestErrorReason     = "unexpected-request"
)

var (
	// ErrBadRequest is returned when the sender has sent XML that is malformed or that cannot be processed.
	ErrBadRequest = newStanzaError(400, modifyErrorType, badRequestErrorReason)

	// ErrConflict is returned when access cannot be granted because an existing resource
	// or session exists with the same name or address.
	ErrConflict = newStanzaError(409, cancelErrorType, conflictErrorReason)

	// ErrFeatureNotImplemented is returned when the feature requested is not implemented
	// by the recipient and therefore cannot be processed.
	ErrFeatureNotImplemented = newStanzaError(501, cancelErrorType, featureNotImplementedErrorReason)

	// ErrForbidden is returned when the requesting entity does not possess the required
	// permissions to perform the action.
	ErrForbidden = newStanzaError(403, authErrorType, forbiddenErrorReason)

	// ErrGone is returned when the recipient can no longer be contacted at this address.
	ErrGone = newStanzaError(302, cancelErrorType, goneErrorReason)

	// ErrInternalServerError is returned when the server could not process the stanza because
	// of a misconfiguration or an otherwise-undefined internal server error.
	ErrInternalServerError = newStanzaError(500, waitErrorType, internalServerErrorErrorReason)

	// ErrItemNotFound is returned when the addressed JID or item requested cannot be found.
	ErrItemNotFound = newStanzaError(404, cancelErrorType, itemNotFoundErrorReason)

	// ErrJidMalformed is returned when the sending entity has provided an XMPP address
	// that does not adhere to the address syntax.
	ErrJidMalformed = newStanzaError(400, modifyErrorType, jidMalformedErrorReason)

	// ErrNotAcceptable is returned when the recipient understands the request but is refusing
	// to process it because it does not meet the defined criteria.
	ErrNotAcceptable = newStanzaError(406, modifyErrorType, notAcceptableErrorReason)

	// ErrNotAllowed is returned when the recipient does not allow any entity to perform the action.
	ErrNotAllowed = newStanzaError(405, cancelErrorType, notAllowedErrorReason)

	// ErrNotAuthorized is returned when the sender must provide proper credentials before
	// being allowed to perform the action, or has provided improper credentials.
	ErrNotAuthorized = newStanzaError(401, authErrorType, notAuthorizedErrorReason)

	// ErrPolicyViolation is returned when the entity has violated some local service policy.
	ErrPolicyViolation = newStanzaError(0, modifyErrorType, policyViolationErrorReason)

	// ErrRecipientUnavailable is returned when the intended recipient is temporarily unavailable.
	ErrRecipientUnavailable = newStanzaError(404, waitErrorType, recipientUnavailableErrorReason)

	// ErrRedirect is returned when the recipient is redirecting requests for this information
	// to another entity, usually temporarily.
	ErrRedirect = newStanzaError(302, modifyErrorType, redirectErrorReason)

	// ErrRegistrationRequired is returned when the requesting entity is not authorized to access
	// the requested service because registration is required.
	ErrRegistrationRequired = newStanzaError(407, authErrorType, registrationRequiredErrorReason)

	// ErrRemoteServerNotFound is returned when a remote server or service specified as part
	// of the JID of the intended recipient does not exist.
	ErrRemoteServerNotFound = newStanzaError(404, cancelErrorType, remoteServerNotFoundErrorReason)

	// ErrRemoteServerTimeout is returned when a remote server or service specified as part
	// of the JID of the intended recipient could not be contacted within a reasonable amount of time.
	ErrRemoteServerTimeout = newStanzaError(504, waitErrorType, remoteServerTimeoutErrorReason)

	// ErrResourceConstraint is returned when the recipient lacks the system resources
	// necessary to service the request.
	ErrResourceConstraint = newStanzaError(500, waitErrorType, resourceConstraintErrorReason)

	// ErrServiceUnavailable is returned when the recipient does not currently provide the requested service.
	ErrServiceUnavailable = newStanzaError(503, cancelErrorType, serviceUnavailableErrorReason)

	// ErrSubscriptionRequired is returned when the requesting entity is not authorized to access
	// the requested service because a subscription is required.
	ErrSubscriptionRequired = newStanzaError(407, authErrorType, subscriptionRequiredErrorReason)

	// ErrUndefinedCondition is returned when the error condition is not one of those
	// defined by the other conditions in this list.
	ErrUndefinedCondition = newStanzaError(500, waitErrorType, undefinedConditionErrorReason)

	// ErrUnexpectedRequest is returned when the recipient understood the request
	// but was not expecting it at this time.
	ErrUnexpectedRequest = newStanzaError(400, waitErrorType, unexpectedRequestErrorReason)
)
