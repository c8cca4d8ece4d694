// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"time"

	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

const upsertScopeSQL = `
INSERT INTO otel_scopes
    (scope_hash, name, version, schema_url, dropped_attributes_count, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (scope_hash) DO UPDATE SET
    last_seen = CASE WHEN otel_scopes.last_seen < now() - $6::interval
                     THEN now() ELSE otel_scopes.last_seen END
RETURNING scope_id, (xmax = 0)`

const refreshScopeSQL = `
UPDATE otel_scopes
SET last_seen = CASE WHEN last_seen < now() - $2::interval THEN now() ELSE last_seen END
WHERE scope_id = $1`

// ScopeManager deduplicates instrumentation scope identities. Identity
// is (name, version, schema_url); scope attributes are stored through
// the typed attribute tables and do not participate.
type ScopeManager struct {
	db        Executor
	attrs     *AttrRouter
	cache     *dimCache
	threshold time.Duration
}

// NewScopeManager builds a manager over the autocommit executor.
func NewScopeManager(db Executor, attrs *AttrRouter, cacheTTL, lastSeenThreshold time.Duration) *ScopeManager {
	return &ScopeManager{
		db:        db,
		attrs:     attrs,
		cache:     newDimCache(cacheTTL),
		threshold: lastSeenThreshold,
	}
}

// Empty reports whether the scope carries no identity at all, in which
// case facts reference no scope row.
func emptyScope(s telemetry.Scope) bool {
	return s.Name == "" && s.Version == "" && s.SchemaURL == "" && len(s.Attributes) == 0
}

// GetOrCreateScope returns the stable id for the scope identity,
// inserting the dimension row on first sight. Attribute inserts are
// idempotent and re-run on every cache miss, so a crash after the row
// insert heals on the next sighting. The returned id is nil for an
// entirely empty scope.
func (m *ScopeManager) GetOrCreateScope(ctx context.Context, scope telemetry.Scope) (*int64, error) {
	if emptyScope(scope) {
		return nil, nil
	}
	hash := HashScope(scope.Name, scope.Version, scope.SchemaURL)

	if e, ok := m.cache.get(hash); ok {
		if e.needsRefresh(m.threshold) {
			if _, err := m.db.Exec(ctx, refreshScopeSQL, e.id, m.threshold); err != nil {
				return nil, err
			}
		}
		id := e.id
		return &id, nil
	}

	var id int64
	var created bool
	err := m.db.QueryRow(ctx, upsertScopeSQL,
		hash, scope.Name, nullString(scope.Version), nullString(scope.SchemaURL),
		int32(scope.DroppedAttributesCount), m.threshold,
	).Scan(&id, &created)
	if err != nil {
		return nil, err
	}

	if len(scope.Attributes) > 0 {
		routed, err := m.attrs.Route(ctx, promote.SignalScope, scope.Attributes)
		if err != nil {
			return nil, err
		}
		if err := m.attrs.InsertPromoted(ctx, m.db, OwnerScope, id, routed.Promoted); err != nil {
			return nil, err
		}
		if err := m.attrs.InsertOther(ctx, m.db, OwnerScope, id, routed.Other); err != nil {
			return nil, err
		}
	}
	m.cache.put(hash, id)
	return &id, nil
}
