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
	"context"
	"time"

	"github.com/jackal-xmpp/runqueue/v2"
	"github.com/pkg/errors"
)

// RunThreaded drives the transport on the calling goroutine until it gets closed.
// Connection establishment and reads block the caller, writes are serialized
// by a dedicated run queue.
func (t *TCP) RunThreaded(ctx context.Context) error {
	t.mu.Lock()
	if t.mode == modeLoop {
		t.mu.Unlock()
		return ErrModeConflict
	}
	if t.mode == modeThreaded {
		t.mu.Unlock()
		return errors.New("transport: already running")
	}
	t.mode = modeThreaded
	t.rq = runqueue.New("transport:" + t.id)
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		t.closeWith(ctx.Err())
	})
	defer stop()

	for t.isConnecting() {
		if err := t.step(ctx); err != nil {
			t.closeWith(err)
			return err
		}
	}
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return ErrClosed
	}
	var connected func()
	if t.connectedPending && t.target != nil {
		t.connectedPending = false
		connected = t.target.TransportConnected
	}
	rq := t.rq
	t.mu.Unlock()

	if connected != nil {
		connected()
	}
	rq.Run(t.flushJob)

	if t.stg.Keepalive > 0 {
		go t.keepaliveLoop(ctx)
	}
	return t.readLoop()
}

func (t *TCP) readLoop() error {
	for {
		if err := t.maybeHandshake(); err != nil {
			t.closeWith(err)
			return err
		}
		t.mu.Lock()
		conn, closed := t.conn, t.closed
		t.mu.Unlock()
		if closed {
			return nil
		}
		n, err := conn.Read(t.readBuf)
		if n > 0 && !t.deliver(t.readBuf[:n]) {
			return nil
		}
		if err != nil {
			if t.IsClosed() {
				return nil
			}
			rErr := readError(err)
			t.closeWith(rErr)
			return rErr
		}
	}
}

func (t *TCP) maybeHandshake() error {
	t.mu.Lock()
	if t.tls != tlsPending {
		t.mu.Unlock()
		return nil
	}
	t.tls = tlsHandshaking
	t.mu.Unlock()

	st, err := t.handshake()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.tls = tlsActive
	target, rq := t.target, t.rq
	t.mu.Unlock()

	if target != nil {
		target.TLSConnected(st)
	}
	rq.Run(t.flushJob)
	return nil
}

func (t *TCP) keepaliveLoop(ctx context.Context) {
	tc := time.NewTicker(t.stg.Keepalive)
	defer tc.Stop()

	for {
		select {
		case <-tc.C:
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				return
			}
			due := t.keepaliveDueLocked()
			if due {
				t.writeBuf = append(t.writeBuf, ' ')
			}
			rq := t.rq
			t.mu.Unlock()

			if due {
				rq.Run(t.flushJob)
			}

		case <-ctx.Done():
			return

		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TCP) isConnecting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateResolvingSRV, StateResolvingHostname, StateConnecting:
		return true
	}
	return false
}
