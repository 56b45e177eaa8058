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

// copied from https://github.com/etcd-io/etcd/blob/master/etcdctl/ctlv3/command/error.go

package command

import (
	"fmt"
	"os"
)

const (
	// ExitSuccess is the exit code of a command that completed.
	ExitSuccess = iota
	// ExitError is the generic failure exit code.
	ExitError
	// ExitBadConnection is returned when the XMPP stream could not be established.
	ExitBadConnection
	// ExitInvalidInput is returned on malformed addresses or stanzas.
	ExitInvalidInput
	// ExitTimeout is returned when the peer does not answer in time.
	ExitTimeout
	// ExitBadArgs is returned on wrong command arguments.
	ExitBadArgs = 128
)

// ExitWithError prints err to stderr and exits with code.
func ExitWithError(code int, err error) {
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(code)
}
