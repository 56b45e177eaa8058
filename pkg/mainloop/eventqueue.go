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
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackal-xmpp/sonar"
)

// QuitEvent stops the loop draining the queue it is posted to.
const QuitEvent = "mainloop.quit"

// EventQueue is a cooperative FIFO of events.
//
// Events may be posted from any goroutine but subscribers are only invoked
// from the goroutine draining the queue.
type EventQueue struct {
	sn     *sonar.Sonar
	logger kitlog.Logger

	mu     sync.Mutex
	events []sonar.Event
	wakeFn func()

	notifyCh chan struct{}
}

// NewEventQueue returns a new EventQueue delivering events through sn.
func NewEventQueue(sn *sonar.Sonar, logger kitlog.Logger) *EventQueue {
	if sn == nil {
		sn = sonar.New()
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &EventQueue{
		sn:       sn,
		logger:   logger,
		notifyCh: make(chan struct{}, 1),
	}
}

// Sonar returns the underlying event bus.
func (q *EventQueue) Sonar() *sonar.Sonar {
	return q.sn
}

// Subscribe registers fn to be invoked on every drained event named name.
func (q *EventQueue) Subscribe(name string, fn func(ctx context.Context, ev sonar.Event) error) sonar.SubID {
	return q.sn.Subscribe(name, fn)
}

// Unsubscribe removes a previously registered subscriber.
func (q *EventQueue) Unsubscribe(id sonar.SubID) {
	q.sn.Unsubscribe(id)
}

// Post enqueues ev.
func (q *EventQueue) Post(ev sonar.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	wakeFn := q.wakeFn
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	if wakeFn != nil {
		wakeFn()
	}
}

// PostEvent builds and enqueues an event named name carrying info.
func (q *EventQueue) PostEvent(name string, info interface{}, sender interface{}) {
	q.Post(sonar.NewEventBuilder(name).
		WithInfo(info).
		WithSender(sender).
		Build(),
	)
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain delivers every pending event in order, including those posted while draining.
// It returns true if a QuitEvent was drained.
func (q *EventQueue) Drain(ctx context.Context) (quit bool) {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return quit
		}
		ev := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		q.mu.Unlock()

		if ev.Name() == QuitEvent {
			quit = true
		}
		if err := q.sn.Post(ctx, ev); err != nil {
			level.Warn(q.logger).Log("msg", "event handler failed", "event", ev.Name(), "err", err)
		}
	}
}

// Run drains the queue as events arrive until ctx is done or a QuitEvent is drained.
// It is used when no poll loop drives the queue.
func (q *EventQueue) Run(ctx context.Context) error {
	for {
		if q.Drain(ctx) {
			return nil
		}
		select {
		case <-q.notifyCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *EventQueue) setWakeup(fn func()) {
	q.mu.Lock()
	q.wakeFn = fn
	q.mu.Unlock()
}
