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

package xmppparser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/pkg/errors"
)

// DefaultMaxStanzaSize is the default maximum size of a pending top level element.
const DefaultMaxStanzaSize = 32768

// EventKind identifies a stream parsing event.
type EventKind int

const (
	// StreamStart is emitted once the root element start tag has been read.
	StreamStart EventKind = iota + 1

	// StreamElement is emitted for every complete direct child of the root element.
	StreamElement

	// StreamEnd is emitted once the root element end tag has been read.
	StreamEnd
)

// String satisfies fmt.Stringer interface.
func (k EventKind) String() string {
	switch k {
	case StreamStart:
		return "stream_start"
	case StreamElement:
		return "stream_element"
	case StreamEnd:
		return "stream_end"
	}
	return "unknown"
}

// Event represents a parsed stream event.
type Event struct {
	Kind EventKind

	// Element holds the root element on StreamStart, and the completed child on StreamElement.
	Element *xmpp.Element

	// Namespace is the resolved namespace of Element.
	Namespace string
}

// ErrTooLargeStanza will be returned by Next when the size of the pending element exceeds the configured limit.
var ErrTooLargeStanza = errors.New("parser: too large stanza")

// ErrNoElement will be returned by Next when more input is needed to complete the next event.
var ErrNoElement = errors.New("parser: no elements")

// ParseError represents a malformed XML input error.
type ParseError struct {
	Err error
}

// Error satisfies error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: %v", e.Err)
}

// Unwrap returns the underlying syntax error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Option defines Reader option type.
type Option func(*Reader)

// WithMaxStanzaSize sets the maximum size of a pending top level element.
func WithMaxStanzaSize(maxStanzaSize int) Option {
	return func(r *Reader) {
		r.maxStanzaSize = maxStanzaSize
	}
}

// WithLogger sets the reader logger.
func WithLogger(logger kitlog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// Reader is an incremental XML stream parser.
//
// Input bytes are pushed with Feed and complete events are pulled with Next.
// Every parsing attempt starts from the first unconsumed byte, so the emitted
// event sequence does not depend on how the input is split.
type Reader struct {
	maxStanzaSize int
	logger        kitlog.Logger

	buf      []byte
	scanned  int
	started  bool
	closed   bool
	rootEnds bool

	rootName   string
	defaultNS  string
	prefixesNS map[string]string
}

// New creates an empty Reader instance.
func New(opts ...Option) *Reader {
	r := &Reader{
		maxStanzaSize: DefaultMaxStanzaSize,
		logger:        kitlog.NewNopLogger(),
		prefixesNS:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed appends b to the reader input buffer.
// It is a no-op once the reader has been closed.
func (r *Reader) Feed(b []byte) error {
	if r.closed {
		return nil
	}
	r.buf = append(r.buf, b...)
	return nil
}

// Remaining returns a copy of the input bytes not consumed yet.
func (r *Reader) Remaining() []byte {
	if len(r.buf) == 0 {
		return nil
	}
	ret := make([]byte, len(r.buf))
	copy(ret, r.buf)
	return ret
}

// Closed reports whether the reader reached the end of stream or failed.
func (r *Reader) Closed() bool {
	return r.closed
}

// Next returns the next complete stream event.
// ErrNoElement is returned when more input is needed.
func (r *Reader) Next() (Event, error) {
	if r.closed {
		return Event{}, io.EOF
	}
	if r.rootEnds {
		r.closed = true
		return Event{Kind: StreamEnd}, nil
	}
	// no event can complete without a new tag end
	if bytes.IndexByte(r.buf[r.scanned:], '>') < 0 {
		r.scanned = len(r.buf)
		return Event{}, r.incomplete()
	}
	ev, n, err := r.parse(r.buf[:completeRunesLen(r.buf)])
	switch {
	case err == ErrNoElement:
		r.scanned = len(r.buf)
		return Event{}, r.incomplete()

	case err != nil:
		r.closed = true
		level.Debug(r.logger).Log("msg", "failed to parse XML stream", "err", err)
		return Event{}, err
	}
	r.buf = r.buf[n:]
	r.scanned = 0
	if ev.Kind == StreamEnd {
		r.closed = true
	}
	return ev, nil
}

func (r *Reader) incomplete() error {
	if r.maxStanzaSize > 0 && len(r.buf) > r.maxStanzaSize {
		r.closed = true
		return ErrTooLargeStanza
	}
	return ErrNoElement
}

// parse tries to extract a single event from b, returning the number of consumed bytes.
func (r *Reader) parse(b []byte) (Event, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = true

	var stack []*xmpp.Element
	for {
		t, err := dec.RawToken()
		if err != nil {
			if isIncomplete(err) {
				return Event{}, 0, ErrNoElement
			}
			return Event{}, 0, &ParseError{Err: err}
		}
		switch t1 := t.(type) {
		case xml.ProcInst, xml.Comment:
			break

		case xml.Directive:
			return Event{}, 0, &ParseError{Err: errors.New("directives are not allowed")}

		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.SetText(top.Text() + string(t1))
			}

		case xml.StartElement:
			elem := newElement(t1)
			if !r.started {
				r.started = true
				r.rootName = elem.Name()
				r.registerRootNamespaces(elem)
				n := int(dec.InputOffset())
				if isSelfClosing(dec, n) {
					r.rootEnds = true
				}
				return Event{Kind: StreamStart, Element: elem, Namespace: r.namespaceOf(elem)}, n, nil
			}
			if len(stack) > 0 {
				stack[len(stack)-1].AppendElement(elem)
			}
			stack = append(stack, elem)

		case xml.EndElement:
			name := xmlName(t1.Name.Space, t1.Name.Local)
			if len(stack) == 0 {
				if !r.started || name != r.rootName {
					return Event{}, 0, errUnexpectedEnd(name)
				}
				return Event{Kind: StreamEnd}, int(dec.InputOffset()), nil
			}
			elem := stack[len(stack)-1]
			if elem.Name() != name {
				return Event{}, 0, errUnexpectedEnd(name)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return Event{Kind: StreamElement, Element: elem, Namespace: r.namespaceOf(elem)}, int(dec.InputOffset()), nil
			}
		}
	}
}

func (r *Reader) registerRootNamespaces(root *xmpp.Element) {
	for _, attr := range root.Attributes() {
		switch {
		case attr.Label == "xmlns":
			r.defaultNS = attr.Value
		case strings.HasPrefix(attr.Label, "xmlns:"):
			r.prefixesNS[attr.Label[len("xmlns:"):]] = attr.Value
		}
	}
}

func (r *Reader) namespaceOf(elem *xmpp.Element) string {
	prefix := elem.Prefix()
	if len(prefix) == 0 {
		if elem.HasAttribute("xmlns") {
			return elem.Namespace()
		}
		return r.defaultNS
	}
	if elem.HasAttribute("xmlns:" + prefix) {
		return elem.Attribute("xmlns:" + prefix)
	}
	if prefix == "xml" {
		return xmpp.XMLNamespace
	}
	return r.prefixesNS[prefix]
}

func newElement(t xml.StartElement) *xmpp.Element {
	elem := xmpp.NewElementName(xmlName(t.Name.Space, t.Name.Local))
	for _, a := range t.Attr {
		elem.SetAttribute(xmlName(a.Name.Space, a.Name.Local), a.Value)
	}
	return elem
}

// isSelfClosing reports whether the start tag ending at offset n was an empty element tag.
func isSelfClosing(dec *xml.Decoder, n int) bool {
	t, err := dec.RawToken()
	if err != nil {
		return false
	}
	_, ok := t.(xml.EndElement)
	return ok && int(dec.InputOffset()) == n
}

func isIncomplete(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return strings.HasPrefix(syntaxErr.Msg, "unexpected EOF")
	}
	return false
}

// completeRunesLen returns the length of the longest prefix of b not ending in a partial UTF-8 sequence.
func completeRunesLen(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return i
		}
		break
	}
	return len(b)
}

func xmlName(space, local string) string {
	if len(space) > 0 {
		return space + ":" + local
	}
	return local
}

func errUnexpectedEnd(name string) error {
	return &ParseError{Err: fmt.Errorf("unexpected end element </%s>", name)}
}
