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
	"errors"
	"testing"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/stretchr/testify/require"
)

func TestStreamError(t *testing.T) {
	var tcs = []*Error{
		ErrBadFormat,
		ErrHostUnknown,
		ErrInvalidNamespace,
		ErrInvalidXML,
		ErrNotAuthorized,
		ErrNotWellFormed,
		ErrPolicyViolation,
		ErrUnsupportedStanzaType,
		ErrUnsupportedVersion,
	}
	for _, se := range tcs {
		t.Run(se.Reason(), func(t *testing.T) {
			elem := se.Element()

			require.Equal(t, "stream:error", elem.Name())
			require.Equal(t, se.Reason(), elem.Elements()[0].Name())
			require.Equal(t, xmpp.StreamErrorNamespace, elem.Elements()[0].Namespace())
			require.Equal(t, se.Reason(), se.Error())
		})
	}
}

func TestStreamError_WithText(t *testing.T) {
	se := ErrHostUnknown.WithText("unknown domain: example.org")

	require.Equal(t, "host-unknown: unknown domain: example.org", se.Error())
	require.True(t, errors.Is(se, ErrHostUnknown))
	require.False(t, errors.Is(se, ErrBadFormat))
	require.Len(t, se.Element().Elements(), 2)
}

func TestFromElement(t *testing.T) {
	received := FromElement(ErrSystemShutdown.WithText("bye").Element())

	require.Equal(t, "system-shutdown", received.Reason())
	require.Equal(t, "bye", received.Text())

	require.Equal(t, "undefined-condition", FromElement(xmpp.NewElementName("stream:error")).Reason())
}
