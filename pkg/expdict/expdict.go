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

// Package expdict implements a key-value table whose entries expire after a timeout.
//
// Expiration is cooperative: entries are only evicted when Expire is called, or
// lazily when an overdue entry is looked up. No timers or goroutines are involved.
package expdict

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the entry timeout applied when none is given.
const DefaultTimeout = 300 * time.Second

// ErrKeyNotFound will be returned by Pop when the key is not present or has already expired.
var ErrKeyNotFound = errors.New("expdict: key not found")

// ExpireFunc is invoked exactly once when an entry expires.
type ExpireFunc[K comparable, V any] func(key K, value V)

type entry[K comparable, V any] struct {
	value    V
	deadline time.Time
	onExpire ExpireFunc[K, V]
}

// Dict is a concurrency safe expiring dictionary.
type Dict[K comparable, V any] struct {
	defaultTimeout time.Duration
	nowFn          func() time.Time

	mu      sync.Mutex
	entries map[K]*entry[K, V]
}

// Option defines Dict option type.
type Option func(*options)

type options struct {
	defaultTimeout time.Duration
	nowFn          func() time.Time
}

// WithDefaultTimeout overrides the timeout used when Set receives a zero timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.defaultTimeout = timeout
	}
}

// WithClock sets the time source used to compute deadlines.
func WithClock(nowFn func() time.Time) Option {
	return func(o *options) {
		o.nowFn = nowFn
	}
}

// New returns a new empty Dict instance.
func New[K comparable, V any](opts ...Option) *Dict[K, V] {
	o := options{
		defaultTimeout: DefaultTimeout,
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Dict[K, V]{
		defaultTimeout: o.defaultTimeout,
		nowFn:          o.nowFn,
		entries:        make(map[K]*entry[K, V]),
	}
}

// Set stores value under key. A zero timeout means the dictionary default timeout.
// onExpire may be nil. Any previous entry stored under key is replaced without firing its callback.
func (d *Dict[K, V]) Set(key K, value V, timeout time.Duration, onExpire ExpireFunc[K, V]) {
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	d.mu.Lock()
	d.entries[key] = &entry[K, V]{
		value:    value,
		deadline: d.nowFn().Add(timeout),
		onExpire: onExpire,
	}
	d.mu.Unlock()
}

// Get returns the value stored under key without removing it.
func (d *Dict[K, V]) Get(key K) (V, bool) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok && d.expired(e) {
		delete(d.entries, key)
		d.mu.Unlock()

		fire(key, e)
		var zero V
		return zero, false
	}
	d.mu.Unlock()

	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Pop removes and returns the value stored under key.
func (d *Dict[K, V]) Pop(key K) (V, error) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		delete(d.entries, key)
	}
	d.mu.Unlock()

	var zero V
	switch {
	case !ok:
		return zero, ErrKeyNotFound
	case d.expired(e):
		fire(key, e)
		return zero, ErrKeyNotFound
	}
	return e.value, nil
}

// Expire evicts every overdue entry firing its callback, and returns the time left
// until the next deadline. ok is false when the dictionary is left empty.
func (d *Dict[K, V]) Expire() (next time.Duration, ok bool) {
	type expiredEntry struct {
		key K
		e   *entry[K, V]
	}
	var expired []expiredEntry

	d.mu.Lock()
	now := d.nowFn()
	var nextDeadline time.Time
	for k, e := range d.entries {
		if !e.deadline.After(now) {
			expired = append(expired, expiredEntry{key: k, e: e})
			delete(d.entries, k)
			continue
		}
		if nextDeadline.IsZero() || e.deadline.Before(nextDeadline) {
			nextDeadline = e.deadline
		}
	}
	d.mu.Unlock()

	// callbacks run unlocked so they may access the dictionary
	for _, ee := range expired {
		fire(ee.key, ee.e)
	}
	if nextDeadline.IsZero() {
		return 0, false
	}
	return nextDeadline.Sub(now), true
}

// Len returns the number of stored entries, expired or not.
func (d *Dict[K, V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Clear removes all entries without firing any callback.
func (d *Dict[K, V]) Clear() {
	d.mu.Lock()
	d.entries = make(map[K]*entry[K, V])
	d.mu.Unlock()
}

// Abort removes all entries firing the callback of each of them, whether overdue or not.
func (d *Dict[K, V]) Abort() {
	d.mu.Lock()
	entries := d.entries
	d.entries = make(map[K]*entry[K, V])
	d.mu.Unlock()

	for k, e := range entries {
		fire(k, e)
	}
}

func (d *Dict[K, V]) expired(e *entry[K, V]) bool {
	return !e.deadline.After(d.nowFn())
}

func fire[K comparable, V any](key K, e *entry[K, V]) {
	if e.onExpire != nil {
		e.onExpire(key, e.value)
	}
}
