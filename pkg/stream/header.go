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
	"regexp"
	"strconv"
	"strings"

	"github.com/ortuman/xmppcore/pkg/xmpp"
	"github.com/ortuman/xmppcore/pkg/xmpp/streamerror"
	"github.com/pkg/errors"
)

const (
	xmlDeclaration = `<?xml version='1.0'?>`
	streamFooter   = "</stream:stream>"
)

var langSubtagRe = regexp.MustCompile(`^(.*?)(?:-[a-zA-Z0-9])?-[a-zA-Z0-9]+$`)

var errBadVersion = errors.New("stream: malformed version")

// parseVersion parses a stream 'version' attribute.
// A missing attribute identifies a pre-1.0 stream.
func parseVersion(s string) (Version, error) {
	if len(s) == 0 {
		return legacyVersion, nil
	}
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Version{}, errBadVersion
	}
	mj, err := strconv.Atoi(major)
	if err != nil || mj < 0 {
		return Version{}, errBadVersion
	}
	mn, err := strconv.Atoi(minor)
	if err != nil || mn < 0 {
		return Version{}, errBadVersion
	}
	return Version{Major: mj, Minor: mn}, nil
}

// checkVersion validates a received version and returns the one to be used on the stream.
func checkVersion(s string) (Version, *streamerror.Error) {
	v, err := parseVersion(s)
	if err != nil {
		return Version{}, streamerror.ErrUnsupportedVersion.WithText(err.Error())
	}
	if v.Major != 1 && v != legacyVersion {
		return Version{}, streamerror.ErrUnsupportedVersion
	}
	if v.Major == 1 {
		return currentVersion, nil
	}
	return v, nil
}

// negotiateLanguage returns the best language of accepted for the requested tag.
// Subtags are stripped off requested until a match is found, falling back to def.
func negotiateLanguage(requested string, accepted []string, def string) string {
	for lang := requested; len(lang) > 0; {
		for _, acc := range accepted {
			if strings.EqualFold(acc, lang) {
				return acc
			}
		}
		m := langSubtagRe.FindStringSubmatch(lang)
		if m == nil {
			break
		}
		lang = m[1]
	}
	return def
}

type headerParams struct {
	ns       string
	from     string
	to       string
	id       string
	version  string
	language string
}

// buildHeader returns the serialized opening stream tag.
func buildHeader(p headerParams) []byte {
	hdr := xmpp.NewElementName(xmpp.StreamName)
	hdr.SetAttribute("xmlns", p.ns)
	hdr.SetAttribute("xmlns:stream", xmpp.StreamNamespace)
	hdr.SetAttribute("from", p.from)
	hdr.SetAttribute("to", p.to)
	hdr.SetAttribute("id", p.id)
	hdr.SetAttribute("version", p.version)
	hdr.SetAttribute("xml:lang", p.language)

	buf := &strings.Builder{}
	buf.WriteString(xmlDeclaration)
	_ = hdr.ToXML(buf, false)
	return []byte(buf.String())
}

// validateHeader checks the root element of a received stream.
func validateHeader(elem *xmpp.Element, streamNS, ns string) *streamerror.Error {
	if elem.LocalName() != "stream" {
		return streamerror.ErrBadFormat
	}
	if streamNS != xmpp.StreamNamespace {
		return streamerror.ErrInvalidNamespace
	}
	if elem.Attribute("xmlns") != ns {
		return streamerror.ErrInvalidNamespace
	}
	return nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
