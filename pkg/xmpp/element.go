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
	"encoding/xml"
	"io"
	"strings"

	"github.com/ortuman/xmppcore/pkg/util/pool"
)

var bufPool = pool.NewBufferPool()

// Attribute represents an XML node attribute (label=value).
type Attribute struct {
	Label string
	Value string
}

// Element represents a generic and mutable XML node element.
//
// Element names and attribute labels are kept in their raw, possibly prefixed,
// form (e.g. "stream:features", "xml:lang").
type Element struct {
	name     string
	text     string
	attrs    []Attribute
	elements []*Element
}

// NewElementName creates a mutable XML element instance with a given name.
func NewElementName(name string) *Element {
	return &Element{name: name}
}

// NewElementNamespace creates a mutable XML element instance with a given name and namespace.
func NewElementNamespace(name, namespace string) *Element {
	return &Element{
		name:  name,
		attrs: []Attribute{{Label: "xmlns", Value: namespace}},
	}
}

// Name returns XML node name.
func (e *Element) Name() string {
	return e.name
}

// LocalName returns XML node name without its namespace prefix.
func (e *Element) LocalName() string {
	if i := strings.IndexByte(e.name, ':'); i >= 0 {
		return e.name[i+1:]
	}
	return e.name
}

// Prefix returns the XML node name namespace prefix, if any.
func (e *Element) Prefix() string {
	if i := strings.IndexByte(e.name, ':'); i >= 0 {
		return e.name[:i]
	}
	return ""
}

// Text returns XML node text value.
// Returns an empty string if not set.
func (e *Element) Text() string {
	return e.text
}

// Attribute returns the value of the attribute identified by label.
func (e *Element) Attribute(label string) string {
	for _, attr := range e.attrs {
		if attr.Label == label {
			return attr.Value
		}
	}
	return ""
}

// HasAttribute reports whether the element holds an attribute identified by label.
func (e *Element) HasAttribute(label string) bool {
	for _, attr := range e.attrs {
		if attr.Label == label {
			return true
		}
	}
	return false
}

// Attributes returns a copy of the element attribute list.
func (e *Element) Attributes() []Attribute {
	ret := make([]Attribute, len(e.attrs))
	copy(ret, e.attrs)
	return ret
}

// Namespace returns 'xmlns' node attribute.
func (e *Element) Namespace() string {
	return e.Attribute("xmlns")
}

// ID returns 'id' node attribute.
func (e *Element) ID() string {
	return e.Attribute("id")
}

// Language returns 'xml:lang' node attribute.
func (e *Element) Language() string {
	return e.Attribute("xml:lang")
}

// Version returns 'version' node attribute.
func (e *Element) Version() string {
	return e.Attribute("version")
}

// From returns 'from' node attribute.
func (e *Element) From() string {
	return e.Attribute("from")
}

// To returns 'to' node attribute.
func (e *Element) To() string {
	return e.Attribute("to")
}

// Type returns 'type' node attribute.
func (e *Element) Type() string {
	return e.Attribute("type")
}

// IsError returns true if element has a 'type' attribute of value 'error'.
func (e *Element) IsError() bool {
	return e.Type() == ErrorType
}

// Error returns element error sub element.
func (e *Element) Error() *Element {
	return e.Child("error")
}

// Elements returns all instance's child elements.
func (e *Element) Elements() []*Element {
	return e.elements
}

// ElementsCount returns child elements count.
func (e *Element) ElementsCount() int {
	return len(e.elements)
}

// Child returns first element identified by name.
// Returns nil if no element is found.
func (e *Element) Child(name string) *Element {
	for _, el := range e.elements {
		if el.name == name {
			return el
		}
	}
	return nil
}

// Children returns all elements identified by name.
func (e *Element) Children(name string) []*Element {
	var ret []*Element
	for _, el := range e.elements {
		if el.name == name {
			ret = append(ret, el)
		}
	}
	return ret
}

// ChildNamespace returns first element identified by name and namespace.
// Returns nil if no element is found.
func (e *Element) ChildNamespace(name, namespace string) *Element {
	for _, el := range e.elements {
		if el.name == name && el.Namespace() == namespace {
			return el
		}
	}
	return nil
}

// ChildrenNamespace returns all elements identified by name and namespace.
func (e *Element) ChildrenNamespace(name, namespace string) []*Element {
	var ret []*Element
	for _, el := range e.elements {
		if el.name == name && el.Namespace() == namespace {
			ret = append(ret, el)
		}
	}
	return ret
}

// SetName sets XML node name.
func (e *Element) SetName(name string) *Element {
	e.name = name
	return e
}

// SetText sets XML node text value.
func (e *Element) SetText(text string) *Element {
	e.text = text
	return e
}

// SetAttribute sets an XML node attribute (label=value).
func (e *Element) SetAttribute(label, value string) *Element {
	for i := range e.attrs {
		if e.attrs[i].Label == label {
			e.attrs[i].Value = value
			return e
		}
	}
	e.attrs = append(e.attrs, Attribute{Label: label, Value: value})
	return e
}

// RemoveAttribute removes an XML node attribute.
func (e *Element) RemoveAttribute(label string) *Element {
	for i := range e.attrs {
		if e.attrs[i].Label == label {
			e.attrs = append(e.attrs[:i], e.attrs[i+1:]...)
			return e
		}
	}
	return e
}

// SetNamespace sets 'xmlns' node attribute.
func (e *Element) SetNamespace(namespace string) *Element {
	return e.SetAttribute("xmlns", namespace)
}

// SetID sets 'id' node attribute.
func (e *Element) SetID(identifier string) *Element {
	return e.SetAttribute("id", identifier)
}

// SetLanguage sets 'xml:lang' node attribute.
func (e *Element) SetLanguage(language string) *Element {
	return e.SetAttribute("xml:lang", language)
}

// SetVersion sets 'version' node attribute.
func (e *Element) SetVersion(version string) *Element {
	return e.SetAttribute("version", version)
}

// SetFrom sets 'from' node attribute.
func (e *Element) SetFrom(from string) *Element {
	return e.SetAttribute("from", from)
}

// SetTo sets 'to' node attribute.
func (e *Element) SetTo(to string) *Element {
	return e.SetAttribute("to", to)
}

// SetType sets 'type' node attribute.
func (e *Element) SetType(tp string) *Element {
	return e.SetAttribute("type", tp)
}

// AppendElement appends a new sub element.
func (e *Element) AppendElement(elem *Element) *Element {
	e.elements = append(e.elements, elem)
	return e
}

// AppendElements appends an array of sub elements.
func (e *Element) AppendElements(elems []*Element) *Element {
	e.elements = append(e.elements, elems...)
	return e
}

// RemoveElements removes all elements with a given name.
func (e *Element) RemoveElements(name string) *Element {
	filtered := e.elements[:0]
	for _, el := range e.elements {
		if el.name != name {
			filtered = append(filtered, el)
		}
	}
	e.elements = filtered
	return e
}

// RemoveElementsNamespace removes all elements with a given name and namespace.
func (e *Element) RemoveElementsNamespace(name, namespace string) *Element {
	filtered := e.elements[:0]
	for _, el := range e.elements {
		if el.name != name || el.Namespace() != namespace {
			filtered = append(filtered, el)
		}
	}
	e.elements = filtered
	return e
}

// ClearElements removes all elements.
func (e *Element) ClearElements() *Element {
	e.elements = nil
	return e
}

// Copy returns a deep copy of the element.
func (e *Element) Copy() *Element {
	cp := &Element{name: e.name, text: e.text}
	if len(e.attrs) > 0 {
		cp.attrs = make([]Attribute, len(e.attrs))
		copy(cp.attrs, e.attrs)
	}
	if len(e.elements) > 0 {
		cp.elements = make([]*Element, len(e.elements))
		for i, el := range e.elements {
			cp.elements[i] = el.Copy()
		}
	}
	return cp
}

// String returns a string representation of the element.
func (e *Element) String() string {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	_ = e.ToXML(buf, true)
	return buf.String()
}

// ToXML serializes element to a raw XML representation.
// includeClosing determines if closing tag should be attached.
func (e *Element) ToXML(w io.Writer, includeClosing bool) error {
	sw := &stickyWriter{w: w}

	sw.writeString("<")
	sw.writeString(e.name)
	for _, attr := range e.attrs {
		if len(attr.Value) == 0 {
			continue
		}
		sw.writeString(" ")
		sw.writeString(attr.Label)
		sw.writeString(`="`)
		sw.escape(attr.Value)
		sw.writeString(`"`)
	}
	switch {
	case len(e.elements) > 0 || len(e.text) > 0:
		sw.writeString(">")
		if len(e.text) > 0 {
			sw.escape(e.text)
		}
		for _, elem := range e.elements {
			if sw.err == nil {
				sw.err = elem.ToXML(w, true)
			}
		}
		if includeClosing {
			sw.writeString("</")
			sw.writeString(e.name)
			sw.writeString(">")
		}
	case includeClosing:
		sw.writeString("/>")
	default:
		sw.writeString(">")
	}
	return sw.err
}

type stickyWriter struct {
	w   io.Writer
	err error
}

func (sw *stickyWriter) writeString(s string) {
	if sw.err != nil {
		return
	}
	_, sw.err = io.WriteString(sw.w, s)
}

func (sw *stickyWriter) escape(s string) {
	if sw.err != nil {
		return
	}
	sw.err = xml.EscapeText(sw.w, []byte(s))
}
