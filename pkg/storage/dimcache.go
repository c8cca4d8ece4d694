// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dimCacheSize bounds each hash→id cache. Dimension cardinality is
// normally far below this; the bound only guards against attribute
// explosions.
const dimCacheSize = 65536

// dimEntry is one cached hash→id mapping plus the time of the last
// last_seen refresh issued from this process.
type dimEntry struct {
	id int64

	mu          sync.Mutex
	refreshedAt time.Time
}

// needsRefresh reports whether a last_seen refresh is due and, if so,
// claims it. The conditional SQL still guards against clock skew
// between writers; this is only the in-process write suppressor.
func (e *dimEntry) needsRefresh(threshold time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.refreshedAt) < threshold {
		return false
	}
	e.refreshedAt = time.Now()
	return true
}

// dimCache is a TTL-expiring hash→id cache shared by all workers.
// Entries are idempotent, so racing writers may both insert; the last
// one wins and both carry the same id.
type dimCache struct {
	lru *expirable.LRU[string, *dimEntry]
}

func newDimCache(ttl time.Duration) *dimCache {
	return &dimCache{lru: expirable.NewLRU[string, *dimEntry](dimCacheSize, nil, ttl)}
}

func (c *dimCache) get(hash string) (*dimEntry, bool) {
	return c.lru.Get(hash)
}

func (c *dimCache) put(hash string, id int64) *dimEntry {
	e := &dimEntry{id: id, refreshedAt: time.Now()}
	c.lru.Add(hash, e)
	return e
}
