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

package xmpp_test

import (
	"bytes"
	"testing"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/stretchr/testify/require"
)

func TestElement_Attributes(t *testing.T) {
	elem := xmpp.NewElementName("a")
	elem.SetAttribute("id", "1234").SetAttribute("type", "get")

	require.Equal(t, "1234", elem.ID())
	require.Equal(t, "get", elem.Type())
	require.True(t, elem.HasAttribute("id"))

	elem.SetAttribute("id", "5678")
	require.Equal(t, "5678", elem.ID())
	require.Len(t, elem.Attributes(), 2)

	elem.RemoveAttribute("id")
	require.False(t, elem.HasAttribute("id"))
	require.Len(t, elem.Attributes(), 1)
}

func TestElement_Children(t *testing.T) {
	elem := xmpp.NewElementName("a")
	elem.AppendElement(xmpp.NewElementNamespace("b", "ns1"))
	elem.AppendElement(xmpp.NewElementNamespace("b", "ns2"))
	elem.AppendElement(xmpp.NewElementName("c"))

	require.Equal(t, 3, elem.ElementsCount())
	require.Len(t, elem.Children("b"), 2)
	require.Equal(t, "ns2", elem.ChildNamespace("b", "ns2").Namespace())
	require.Nil(t, elem.ChildNamespace("b", "ns3"))

	elem.RemoveElementsNamespace("b", "ns1")
	require.Len(t, elem.Children("b"), 1)

	elem.RemoveElements("c")
	require.Nil(t, elem.Child("c"))

	elem.ClearElements()
	require.Equal(t, 0, elem.ElementsCount())
}

func TestElement_PrefixedName(t *testing.T) {
	elem := xmpp.NewElementName("stream:features")

	require.Equal(t, "stream", elem.Prefix())
	require.Equal(t, "features", elem.LocalName())
}

func TestElement_Copy(t *testing.T) {
	elem := xmpp.NewElementName("a").SetID("1")
	elem.AppendElement(xmpp.NewElementName("b").SetText("text"))

	cp := elem.Copy()
	cp.SetID("2")
	cp.Child("b").SetText("changed")

	require.Equal(t, "1", elem.ID())
	require.Equal(t, "text", elem.Child("b").Text())
	require.Equal(t, "changed", cp.Child("b").Text())
}

func TestElement_ToXML(t *testing.T) {
	elem := xmpp.NewElementNamespace("message", "jabber:client")
	elem.SetTo(`noelia@jackal.im`)
	elem.AppendElement(xmpp.NewElementName("body").SetText(`a < b & "c"`))

	require.Equal(t, `<message xmlns="jabber:client" to="noelia@jackal.im"><body>a &lt; b &amp; &#34;c&#34;</body></message>`, elem.String())

	buf := bytes.NewBuffer(nil)
	require.Nil(t, xmpp.NewElementName("stream:stream").SetAttribute("id", `"x"`).ToXML(buf, false))
	require.Equal(t, `<stream:stream id="&#34;x&#34;">`, buf.String())

	require.Equal(t, `<a/>`, xmpp.NewElementName("a").String())
}
