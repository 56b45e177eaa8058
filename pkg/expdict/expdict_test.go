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

package expdict

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDict() (*Dict[string, int], *fakeClock) {
	clk := &fakeClock{now: time.Unix(1600000000, 0)}
	return New[string, int](WithClock(clk.Now)), clk
}

func TestDict_SetPop(t *testing.T) {
	d, _ := newTestDict()

	d.Set("a", 1, time.Second, nil)
	require.Equal(t, 1, d.Len())

	v, err := d.Pop("a")
	require.Nil(t, err)
	require.Equal(t, 1, v)

	_, err = d.Pop("a")
	require.Equal(t, ErrKeyNotFound, err)
}

func TestDict_Get(t *testing.T) {
	d, _ := newTestDict()
	d.Set("a", 1, time.Second, nil)

	v, ok := d.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 1, d.Len())

	_, ok = d.Get("b")
	require.False(t, ok)
}

func TestDict_Expire(t *testing.T) {
	d, clk := newTestDict()

	var expired []string
	onExpire := func(k string, _ int) { expired = append(expired, k) }

	d.Set("a", 1, time.Second, onExpire)
	d.Set("b", 2, 3*time.Second, onExpire)

	next, ok := d.Expire()
	require.True(t, ok)
	require.Equal(t, time.Second, next)
	require.Empty(t, expired)

	clk.Advance(2 * time.Second)

	next, ok = d.Expire()
	require.True(t, ok)
	require.Equal(t, time.Second, next)
	require.Equal(t, []string{"a"}, expired)

	// callbacks fire exactly once
	_, _ = d.Expire()
	require.Equal(t, []string{"a"}, expired)

	clk.Advance(time.Second)
	_, ok = d.Expire()
	require.False(t, ok)
	require.Equal(t, []string{"a", "b"}, expired)
	require.Equal(t, 0, d.Len())
}

func TestDict_LazyExpiry(t *testing.T) {
	d, clk := newTestDict()

	var fired int
	d.Set("a", 1, time.Second, func(string, int) { fired++ })

	clk.Advance(time.Second)

	_, err := d.Pop("a")
	require.Equal(t, ErrKeyNotFound, err)
	require.Equal(t, 1, fired)

	_, _ = d.Expire()
	require.Equal(t, 1, fired)
}

func TestDict_DefaultTimeout(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1600000000, 0)}
	d := New[string, int](WithClock(clk.Now), WithDefaultTimeout(10*time.Second))

	d.Set("a", 1, 0, nil)

	next, ok := d.Expire()
	require.True(t, ok)
	require.Equal(t, 10*time.Second, next)
}

func TestDict_CallbackReentrancy(t *testing.T) {
	d, clk := newTestDict()

	d.Set("a", 1, time.Second, func(k string, v int) {
		d.Set(k+"-retry", v+1, time.Second, nil)
	})
	clk.Advance(time.Second)
	_, _ = d.Expire()

	v, ok := d.Get("a-retry")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestDict_Clear(t *testing.T) {
	d, _ := newTestDict()
	d.Set("a", 1, time.Second, nil)
	d.Set("b", 2, time.Second, nil)

	d.Clear()

	require.Equal(t, 0, d.Len())
}

func TestDict_Abort(t *testing.T) {
	d, _ := newTestDict()

	fired := map[string]int{}
	onExpire := func(k string, _ int) {
		fired[k]++
		_ = d.Len() // callbacks run unlocked
	}
	d.Set("a", 1, time.Minute, onExpire)
	d.Set("b", 2, time.Hour, onExpire)
	d.Set("c", 3, time.Hour, nil)

	d.Abort()
	d.Abort()
	_, _ = d.Expire()

	require.Equal(t, map[string]int{"a": 1, "b": 1}, fired)
	require.Equal(t, 0, d.Len())
}
