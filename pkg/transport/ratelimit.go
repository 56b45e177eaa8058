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
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type readLimiter struct {
	rLim atomic.Value
}

func (l *readLimiter) allow(n int) bool {
	v := l.rLim.Load()
	if v == nil {
		return true
	}
	return v.(*rate.Limiter).AllowN(time.Now(), n)
}

func (l *readLimiter) set(rLim *rate.Limiter) {
	l.rLim.Store(rLim)
}

func (l *readLimiter) get() *rate.Limiter {
	if v := l.rLim.Load(); v != nil {
		return v.(*rate.Limiter)
	}
	return nil
}
