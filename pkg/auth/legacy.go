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

package auth

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// LegacyDigest returns the jabber:iq:auth digest of password for streamID.
func LegacyDigest(streamID, password string) string {
	h := sha1.Sum([]byte(streamID + password))
	return hex.EncodeToString(h[:])
}

// HandshakeDigest returns the component handshake value of secret for streamID.
func HandshakeDigest(streamID, secret string) string {
	return LegacyDigest(streamID, secret)
}

// VerifyLegacyDigest checks a jabber:iq:auth digest against the plain password stored for username.
func VerifyLegacyDigest(ctx context.Context, provider CredentialProvider, username, realm, streamID, digest string) (bool, error) {
	secret, format, err := provider.GetPassword(ctx, username, realm, []string{PlainFormat})
	if err != nil || format != PlainFormat {
		return false, err
	}
	expected := LegacyDigest(streamID, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(digest))) == 1, nil
}
