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

package jid

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const cacheShards = 16

// Cache maps JID strings to their parsed and normalized value.
// It is bounded in size and evicts the least recently used entries.
// A Cache is safe for concurrent use.
type Cache struct {
	shards [cacheShards]*lru.Cache[string, *JID]
}

// NewCache returns a cache holding up to size entries.
func NewCache(size int) *Cache {
	shardCap := size / cacheShards
	if shardCap < 1 {
		shardCap = 1
	}
	c := &Cache{}
	for i := range c.shards {
		// only fails on a non-positive size
		c.shards[i], _ = lru.New[string, *JID](shardCap)
	}
	return c
}

// Parse returns the JID represented by str, reusing a previously parsed value when present.
func (c *Cache) Parse(str string) (*JID, error) {
	sh := c.shard(str)
	if j, ok := sh.Get(str); ok {
		return j, nil
	}
	j, err := NewWithString(str, false)
	if err != nil {
		return nil, err
	}
	sh.Add(str, j)
	return j, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	var n int
	for _, sh := range c.shards {
		n += sh.Len()
	}
	return n
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	for _, sh := range c.shards {
		sh.Purge()
	}
}

func (c *Cache) shard(key string) *lru.Cache[string, *JID] {
	return c.shards[xxhash.Sum64String(key)%cacheShards]
}
