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
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackal-xmpp/sonar"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type pipeHandler struct {
	r, w     int
	prepared int32
	notReady int32
	reads    [][]byte
	closed   bool
	wakeFn   func()

	wakeOnRead bool
}

func newPipeHandler(t *testing.T) *pipeHandler {
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	require.NoError(t, unix.SetNonblock(p[0], true))
	return &pipeHandler{r: p[0], w: p[1]}
}

func (h *pipeHandler) Fileno() (int, bool) { return h.r, true }
func (h *pipeHandler) IsReadable() bool    { return true }
func (h *pipeHandler) IsWritable() bool    { return false }

func (h *pipeHandler) Prepare() PrepareResult {
	atomic.AddInt32(&h.prepared, 1)
	if atomic.LoadInt32(&h.notReady) > 0 {
		atomic.AddInt32(&h.notReady, -1)
		return PrepareAgain{Timeout: 10 * time.Millisecond}
	}
	return HandlerReady{}
}

func (h *pipeHandler) HandleRead() {
	buf := make([]byte, 64)
	n, _ := unix.Read(h.r, buf)
	if n > 0 {
		h.reads = append(h.reads, buf[:n])
	}
	if h.wakeOnRead {
		h.wakeFn()
	}
}

func (h *pipeHandler) HandleWrite()       {}
func (h *pipeHandler) HandleHUP()         {}
func (h *pipeHandler) HandleErr()         {}
func (h *pipeHandler) HandleNVAL()        {}
func (h *pipeHandler) SetWakeup(f func()) { h.wakeFn = f }

func (h *pipeHandler) Close() error {
	h.closed = true
	_ = unix.Close(h.w)
	return unix.Close(h.r)
}

func newTestLoop(t *testing.T) *PollLoop {
	l, err := NewPollLoop(NewEventQueue(sonar.New(), nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestPollLoop_HandleRead(t *testing.T) {
	// given
	l := newTestLoop(t)
	h := newPipeHandler(t)
	l.AddHandler(h)

	_, err := unix.Write(h.w, []byte("ping"))
	require.NoError(t, err)

	// when
	require.NoError(t, l.LoopIteration(time.Second))

	// then
	require.Len(t, h.reads, 1)
	require.Equal(t, "ping", string(h.reads[0]))
	require.NotNil(t, h.wakeFn)
}

func TestPollLoop_WakeupFromHandler(t *testing.T) {
	// given
	l := newTestLoop(t)
	h := newPipeHandler(t)
	h.wakeOnRead = true
	l.AddHandler(h)

	_, err := unix.Write(h.w, []byte("ping"))
	require.NoError(t, err)
	l.Wakeup()

	require.NoError(t, l.LoopIteration(time.Second))
	require.Len(t, h.reads, 1)

	// when
	t0 := time.Now()
	require.NoError(t, l.LoopIteration(5*time.Second))

	// then
	require.Less(t, time.Since(t0), time.Second)
}

func TestPollLoop_PrepareAgain(t *testing.T) {
	// given
	l := newTestLoop(t)
	h := newPipeHandler(t)
	h.notReady = 1
	l.AddHandler(h)

	_, err := unix.Write(h.w, []byte("x"))
	require.NoError(t, err)

	// when
	require.NoError(t, l.LoopIteration(50*time.Millisecond))
	readsAfterFirst := len(h.reads)
	require.NoError(t, l.LoopIteration(time.Second))

	// then
	require.Equal(t, 0, readsAfterFirst)
	require.Len(t, h.reads, 1)
	require.Equal(t, int32(2), atomic.LoadInt32(&h.prepared))
}

func TestPollLoop_Timers(t *testing.T) {
	// given
	l := newTestLoop(t)

	var once, recurring, cancelled int32
	l.DelayedCall(time.Millisecond, func() { atomic.AddInt32(&once, 1) })
	l.AddTimeoutHandler(time.Millisecond, true, func() { atomic.AddInt32(&recurring, 1) })
	id := l.DelayedCall(time.Millisecond, func() { atomic.AddInt32(&cancelled, 1) })
	l.RemoveTimeoutHandler(id)

	// when
	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, l.LoopIteration(5*time.Millisecond))
	}

	// then
	require.Equal(t, int32(1), atomic.LoadInt32(&once))
	require.GreaterOrEqual(t, atomic.LoadInt32(&recurring), int32(2))
	require.Equal(t, int32(0), atomic.LoadInt32(&cancelled))
}

func TestPollLoop_QuitEvent(t *testing.T) {
	// given
	l := newTestLoop(t)

	var delivered int32
	l.Queue().Subscribe("test.event", func(_ context.Context, _ sonar.Event) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- l.Loop(context.Background()) }()

	// when
	l.Queue().PostEvent("test.event", nil, nil)
	l.Queue().PostEvent(QuitEvent, nil, nil)

	// then
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not quit")
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&delivered))
	require.True(t, l.Started())
	require.True(t, l.Finished())
}

func TestPollLoop_ContextCancel(t *testing.T) {
	// given
	l := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Loop(ctx) }()

	// when
	cancel()

	// then
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestPollLoop_CloseHandlers(t *testing.T) {
	l, err := NewPollLoop(NewEventQueue(nil, nil), nil)
	require.NoError(t, err)

	h := newPipeHandler(t)
	l.AddHandler(h)
	require.Equal(t, 1, l.HandlerCount())

	require.NoError(t, l.Close())
	require.True(t, h.closed)
}

func TestEventQueue_Run(t *testing.T) {
	// given
	q := NewEventQueue(nil, nil)

	var names []string
	for _, name := range []string{"a", "b"} {
		q.Subscribe(name, func(_ context.Context, ev sonar.Event) error {
			names = append(names, ev.Name())
			return nil
		})
	}
	q.PostEvent("a", nil, nil)
	q.PostEvent("b", nil, nil)
	q.PostEvent(QuitEvent, nil, nil)

	// when
	err := q.Run(context.Background())

	// then
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, names)
	require.Equal(t, 0, q.Len())
}
