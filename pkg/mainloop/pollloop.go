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
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultIterationTimeout is the maximum time a single loop iteration waits for readiness.
const DefaultIterationTimeout = time.Second

// TimerID identifies a registered timeout handler.
type TimerID uint64

type timer struct {
	id        TimerID
	deadline  time.Time
	interval  time.Duration
	recurring bool
	fn        func()
	index     int
}

type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// PollLoop is a readiness based main loop built on poll(2).
type PollLoop struct {
	queue  *EventQueue
	logger kitlog.Logger

	mu       sync.Mutex
	handlers []IOHandler
	timers   timerHeap
	timerIdx map[TimerID]*timer
	nextID   TimerID

	wakeR, wakeW int
	wakePending  int32

	quit     int32
	started  int32
	finished int32
}

// NewPollLoop returns a new PollLoop instance draining queue on every iteration.
func NewPollLoop(queue *EventQueue, logger kitlog.Logger) (*PollLoop, error) {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap(err, "mainloop: failed to create wakeup pipe")
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, errors.Wrap(err, "mainloop: failed to set wakeup pipe non-blocking")
		}
		unix.CloseOnExec(fd)
	}
	l := &PollLoop{
		queue:    queue,
		logger:   logger,
		timerIdx: make(map[TimerID]*timer),
		wakeR:    p[0],
		wakeW:    p[1],
	}
	queue.setWakeup(l.Wakeup)
	return l, nil
}

// Queue returns the loop event queue.
func (l *PollLoop) Queue() *EventQueue {
	return l.queue
}

// AddHandler registers an I/O handler.
func (l *PollLoop) AddHandler(h IOHandler) {
	if w, ok := h.(Wakeable); ok {
		w.SetWakeup(l.Wakeup)
	}
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
	l.Wakeup()
}

// RemoveHandler unregisters an I/O handler. The handler is not closed.
func (l *PollLoop) RemoveHandler(h IOHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, hnd := range l.handlers {
		if hnd == h {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of registered I/O handlers.
func (l *PollLoop) HandlerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

// AddTimeoutHandler registers fn to be called after interval, repeatedly if recurring is set.
func (l *PollLoop) AddTimeoutHandler(interval time.Duration, recurring bool, fn func()) TimerID {
	l.mu.Lock()
	l.nextID++
	t := &timer{
		id:        l.nextID,
		deadline:  time.Now().Add(interval),
		interval:  interval,
		recurring: recurring,
		fn:        fn,
	}
	heap.Push(&l.timers, t)
	l.timerIdx[t.id] = t
	l.mu.Unlock()

	l.Wakeup()
	return t.id
}

// DelayedCall registers fn to be called once after d.
func (l *PollLoop) DelayedCall(d time.Duration, fn func()) TimerID {
	return l.AddTimeoutHandler(d, false, fn)
}

// RemoveTimeoutHandler cancels a registered timeout handler.
func (l *PollLoop) RemoveTimeoutHandler(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.timerIdx[id]
	if !ok {
		return
	}
	delete(l.timerIdx, id)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

// Wakeup interrupts an ongoing poll. It is safe to call from any goroutine.
func (l *PollLoop) Wakeup() {
	if !atomic.CompareAndSwapInt32(&l.wakePending, 0, 1) {
		return
	}
	_, _ = unix.Write(l.wakeW, []byte{0})
}

// Quit makes the loop return after the current iteration.
func (l *PollLoop) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	l.Wakeup()
}

// Started reports whether the loop has started running.
func (l *PollLoop) Started() bool {
	return atomic.LoadInt32(&l.started) == 1
}

// Finished reports whether the loop has finished running.
func (l *PollLoop) Finished() bool {
	return atomic.LoadInt32(&l.finished) == 1
}

// Loop runs iterations until Quit is called, a QuitEvent is drained or ctx is done.
func (l *PollLoop) Loop(ctx context.Context) error {
	atomic.StoreInt32(&l.started, 1)
	defer atomic.StoreInt32(&l.finished, 1)

	stop := context.AfterFunc(ctx, l.Wakeup)
	defer stop()

	for atomic.LoadInt32(&l.quit) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.iteration(ctx, DefaultIterationTimeout); err != nil {
			return err
		}
	}
	return nil
}

// LoopIteration runs a single loop iteration waiting at most timeout for readiness.
func (l *PollLoop) LoopIteration(timeout time.Duration) error {
	return l.iteration(context.Background(), timeout)
}

// Close releases the loop resources and closes every registered handler.
func (l *PollLoop) Close() error {
	l.mu.Lock()
	handlers := l.handlers
	l.handlers = nil
	l.mu.Unlock()

	for _, h := range handlers {
		_ = h.Close()
	}
	_ = unix.Close(l.wakeR)
	return unix.Close(l.wakeW)
}

func (l *PollLoop) iteration(ctx context.Context, timeout time.Duration) error {
	if l.queue.Drain(ctx) {
		l.Quit()
		return nil
	}
	if next, ok := l.fireTimers(); ok && next < timeout {
		timeout = next
	}
	fds, handlers, prepTimeout := l.prepare()
	if prepTimeout > 0 && prepTimeout < timeout {
		timeout = prepTimeout
	}
	if l.queue.Len() > 0 || atomic.LoadInt32(&l.quit) == 1 {
		timeout = 0
	}
	fds = append(fds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	switch {
	case err == unix.EINTR:
		return nil
	case err != nil:
		return errors.Wrap(err, "mainloop: poll failed")
	case n == 0:
		return nil
	}
	// handlers may call Wakeup while dispatched
	if fds[len(fds)-1].Revents&unix.POLLIN != 0 {
		l.drainWakeup()
	}
	for i, h := range handlers {
		dispatch(h, fds[i].Revents)
	}
	return nil
}

func (l *PollLoop) prepare() ([]unix.PollFd, []IOHandler, time.Duration) {
	l.mu.Lock()
	handlers := make([]IOHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	var fds []unix.PollFd
	var polled []IOHandler
	var timeout time.Duration
	for _, h := range handlers {
		switch r := h.Prepare().(type) {
		case PrepareAgain:
			if r.Timeout > 0 && (timeout == 0 || r.Timeout < timeout) {
				timeout = r.Timeout
			}
			continue
		}
		fd, ok := h.Fileno()
		if !ok {
			continue
		}
		var events int16
		if h.IsReadable() {
			events |= unix.POLLIN
		}
		if h.IsWritable() {
			events |= unix.POLLOUT
		}
		if events == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		polled = append(polled, h)
	}
	return fds, polled, timeout
}

func (l *PollLoop) fireTimers() (next time.Duration, ok bool) {
	now := time.Now()
	var due []func()

	l.mu.Lock()
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		t := l.timers[0]
		due = append(due, t.fn)
		if t.recurring && t.interval > 0 {
			t.deadline = now.Add(t.interval)
			heap.Fix(&l.timers, 0)
			continue
		}
		heap.Pop(&l.timers)
		delete(l.timerIdx, t.id)
	}
	if len(l.timers) > 0 {
		next, ok = l.timers[0].deadline.Sub(now), true
	}
	l.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return next, ok
}

func (l *PollLoop) drainWakeup() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	atomic.StoreInt32(&l.wakePending, 0)
}

func dispatch(h IOHandler, revents int16) {
	switch {
	case revents&unix.POLLNVAL != 0:
		h.HandleNVAL()
		return
	case revents&unix.POLLERR != 0:
		h.HandleErr()
		return
	}
	if revents&unix.POLLIN != 0 {
		h.HandleRead()
	}
	if revents&unix.POLLOUT != 0 {
		h.HandleWrite()
	}
	if revents&unix.POLLHUP != 0 && revents&unix.POLLIN == 0 {
		h.HandleHUP()
	}
}
