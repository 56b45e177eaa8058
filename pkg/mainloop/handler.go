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

package mainloop

import (
	"time"
)

// PrepareResult is the outcome of an IOHandler.Prepare call.
type PrepareResult interface {
	prepareResult()
}

// HandlerReady signals that the handler can be polled.
type HandlerReady struct{}

func (HandlerReady) prepareResult() {}

// PrepareAgain signals that the handler is not ready to be polled yet and
// Prepare must be called again on the next iteration.
type PrepareAgain struct {
	// Timeout bounds the time until the next Prepare call. Zero means no bound.
	Timeout time.Duration
}

func (PrepareAgain) prepareResult() {}

// IOHandler represents an I/O source driven by a poll loop.
type IOHandler interface {
	// Fileno returns the file descriptor to be polled, if any.
	Fileno() (int, bool)

	// IsReadable reports whether the handler wants to be notified of read readiness.
	IsReadable() bool

	// IsWritable reports whether the handler wants to be notified of write readiness.
	IsWritable() bool

	// Prepare is called before each poll.
	Prepare() PrepareResult

	HandleRead()
	HandleWrite()
	HandleHUP()
	HandleErr()
	HandleNVAL()

	Close() error
}

// Wakeable is implemented by handlers whose readiness may change from other goroutines.
// The poll loop hands over a function that interrupts an ongoing poll.
type Wakeable interface {
	SetWakeup(fn func())
}
