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

package transport

import (
	"crypto/tls"
	"time"

	"github.com/ortuman/xmppcore/pkg/mainloop"
)

var _ mainloop.IOHandler = (*TCP)(nil)
var _ mainloop.Wakeable = (*TCP)(nil)

// SetWakeup satisfies mainloop.Wakeable interface.
func (t *TCP) SetWakeup(fn func()) {
	t.mu.Lock()
	t.wakeFn = fn
	t.mu.Unlock()
}

// Fileno satisfies mainloop.IOHandler interface.
func (t *TCP) Fileno() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected || !t.hasFd {
		return 0, false
	}
	return t.fd, true
}

// IsReadable satisfies mainloop.IOHandler interface.
func (t *TCP) IsReadable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateConnected && !t.shutdown && (t.tls == tlsNone || t.tls == tlsActive)
}

// IsWritable satisfies mainloop.IOHandler interface.
func (t *TCP) IsWritable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canWriteLocked() && len(t.writeBuf) > 0
}

// Prepare satisfies mainloop.IOHandler interface.
// It drives the connection establishment and the TLS handshake.
func (t *TCP) Prepare() mainloop.PrepareResult {
	t.mu.Lock()
	switch t.mode {
	case modeNone:
		t.mode = modeLoop
	case modeThreaded:
		t.mu.Unlock()
		return mainloop.PrepareAgain{}
	}
	switch t.state {
	case StateIdle:
		t.mu.Unlock()
		return mainloop.PrepareAgain{}

	case StateResolvingSRV, StateResolvingHostname, StateConnecting:
		if err := t.stepErr; err != nil {
			t.mu.Unlock()
			t.closeWith(err)
			return mainloop.HandlerReady{}
		}
		if !t.stepRunning {
			t.stepRunning = true
			go t.runStep()
		}
		t.mu.Unlock()
		return mainloop.PrepareAgain{}

	case StateClosed:
		t.mu.Unlock()
		return mainloop.HandlerReady{}
	}
	var connected func()
	if t.connectedPending && t.target != nil {
		t.connectedPending = false
		connected = t.target.TransportConnected
	}
	var tlsConnected func(tls.ConnectionState)
	var tlsErr error
	res := mainloop.PrepareResult(mainloop.HandlerReady{})

	switch t.tls {
	case tlsPending:
		t.tls = tlsHandshaking
		go t.handshakeAsync()
		res = mainloop.PrepareAgain{}

	case tlsHandshaking:
		res = mainloop.PrepareAgain{}

	case tlsDone:
		if t.tlsErr != nil {
			tlsErr = t.tlsErr
			break
		}
		t.tls = tlsActive
		if t.target != nil {
			tlsConnected = t.target.TLSConnected
		}
	}
	shutdown := t.shutdown && len(t.writeBuf) == 0
	if t.keepaliveDueLocked() {
		t.writeBuf = append(t.writeBuf, ' ')
	}
	st := t.tlsConnState
	t.mu.Unlock()

	if connected != nil {
		connected()
	}
	switch {
	case tlsErr != nil:
		t.closeWith(tlsErr)
		return mainloop.HandlerReady{}
	case tlsConnected != nil:
		tlsConnected(st)
	}
	if shutdown {
		t.closeWith(nil)
		return mainloop.HandlerReady{}
	}
	return res
}

// HandleRead satisfies mainloop.IOHandler interface.
func (t *TCP) HandleRead() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	_, isTLS := conn.(*tls.Conn)

	deadline := time.Now().Add(readGracePeriod)
	for {
		_ = conn.SetReadDeadline(deadline)
		n, err := conn.Read(t.readBuf)
		if n > 0 && !t.deliver(t.readBuf[:n]) {
			return
		}
		if err != nil {
			if isTimeout(err) {
				break
			}
			t.closeWith(readError(err))
			return
		}
		// tls.Conn may hold decrypted records the poller cannot see
		if !isTLS || !t.IsReadable() {
			break
		}
		deadline = time.Now().Add(drainPeriod)
	}
	_ = conn.SetReadDeadline(time.Time{})
}

// HandleWrite satisfies mainloop.IOHandler interface.
func (t *TCP) HandleWrite() {
	if err := t.flush(); err != nil {
		t.closeWith(err)
		return
	}
	t.mu.Lock()
	shutdown := t.shutdown && len(t.writeBuf) == 0
	t.mu.Unlock()
	if shutdown {
		t.closeWith(nil)
	}
}

// HandleHUP satisfies mainloop.IOHandler interface.
func (t *TCP) HandleHUP() {
	t.closeWith(&IOError{Op: "poll", Err: errHangup})
}

// HandleErr satisfies mainloop.IOHandler interface.
func (t *TCP) HandleErr() {
	t.closeWith(&IOError{Op: "poll", Err: errPollError})
}

// HandleNVAL satisfies mainloop.IOHandler interface.
func (t *TCP) HandleNVAL() {
	t.closeWith(&IOError{Op: "poll", Err: errInvalidFd})
}

func (t *TCP) runStep() {
	err := t.step(t.ctx)

	t.mu.Lock()
	t.stepRunning = false
	if err != nil {
		t.stepErr = err
	}
	t.mu.Unlock()

	t.wakeup()
}

func (t *TCP) handshakeAsync() {
	_, err := t.handshake()

	t.mu.Lock()
	t.tls = tlsDone
	t.tlsErr = err
	t.mu.Unlock()

	t.wakeup()
}
