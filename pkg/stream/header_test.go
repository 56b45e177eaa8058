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
	"testing"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/stretchr/testify/require"
)

func TestNegotiateLanguage(t *testing.T) {
	accepted := []string{"en", "pl", "zh-Hant"}

	tcs := map[string]struct {
		requested string
		expected  string
	}{
		"exact":     {requested: "pl", expected: "pl"},
		"case":      {requested: "PL", expected: "pl"},
		"region":    {requested: "pl-PL", expected: "pl"},
		"script":    {requested: "zh-Hant-TW", expected: "zh-Hant"},
		"singleton": {requested: "en-x-private", expected: "en"},
		"unknown":   {requested: "de-DE", expected: "en"},
		"missing":   {requested: "", expected: "en"},
	}
	for tn, tc := range tcs {
		t.Run(tn, func(t *testing.T) {
			require.Equal(t, tc.expected, negotiateLanguage(tc.requested, accepted, "en"))
		})
	}
}

func TestCheckVersion(t *testing.T) {
	v, se := checkVersion("")
	require.Nil(t, se)
	require.True(t, v.IsLegacy())

	v, se = checkVersion("1.0")
	require.Nil(t, se)
	require.Equal(t, currentVersion, v)

	v, se = checkVersion("1.5")
	require.Nil(t, se)
	require.Equal(t, "1.0", v.String())

	_, se = checkVersion("2.0")
	require.NotNil(t, se)
	require.Equal(t, "unsupported-version", se.Reason())

	_, se = checkVersion("one")
	require.NotNil(t, se)
}

func TestBuildHeader(t *testing.T) {
	hdr := buildHeader(headerParams{
		ns:       xmpp.ClientNamespace,
		to:       "jackal.im",
		version:  "1.0",
		language: "en",
	})
	require.Equal(t,
		`<?xml version='1.0'?><stream:stream xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams" to="jackal.im" version="1.0" xml:lang="en">`,
		string(hdr),
	)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "established", StateEstablished.String())
	require.True(t, StateAborted.IsTerminal())
	require.False(t, StateConnected.IsTerminal())
	require.Equal(t, "receiver", Receiver.String())
}
