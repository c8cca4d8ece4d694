// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"sync"
)

const upsertKeySQL = `
INSERT INTO attribute_keys (key) VALUES ($1)
ON CONFLICT (key) DO UPDATE SET key = excluded.key
RETURNING key_id`

// KeyRegistry maps attribute key names to their stable small-integer
// ids, shared by every signal. Ids are immutable once assigned, so the
// cache never needs invalidation.
type KeyRegistry struct {
	db Executor

	mu    sync.RWMutex
	cache map[string]int32
}

// NewKeyRegistry builds a registry over the autocommit executor.
func NewKeyRegistry(db Executor) *KeyRegistry {
	return &KeyRegistry{db: db, cache: make(map[string]int32)}
}

// GetOrCreateKeyID returns the id for name, assigning one on first
// sight. The upsert is conflict-safe: a duplicate-key race returns the
// winner's id, and each statement commits on its own so concurrent
// processes never block each other.
func (r *KeyRegistry) GetOrCreateKeyID(ctx context.Context, name string) (int32, error) {
	r.mu.RLock()
	id, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	if err := r.db.QueryRow(ctx, upsertKeySQL, name).Scan(&id); err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cache[name] = id
	r.mu.Unlock()
	return id, nil
}

// LookupCached returns the cached id for name without touching the
// database. The attribute router uses it after the batch's dimension
// phase has warmed every key in the batch.
func (r *KeyRegistry) LookupCached(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[name]
	return id, ok
}
