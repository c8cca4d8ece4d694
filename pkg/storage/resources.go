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

// Resource attribute keys promoted into dedicated columns for fast
// filtering. The full attribute set is still stored through the typed
// attribute tables.
const (
	serviceNameKey      = "service.name"
	serviceNamespaceKey = "service.namespace"
)

const upsertResourceSQL = `
INSERT INTO otel_resources
    (resource_hash, service_name, service_namespace, schema_url, dropped_attributes_count, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (resource_hash) DO UPDATE SET
    last_seen = CASE WHEN otel_resources.last_seen < now() - $6::interval
                     THEN now() ELSE otel_resources.last_seen END
RETURNING resource_id, (xmax = 0)`

const refreshResourceSQL = `
UPDATE otel_resources
SET last_seen = CASE WHEN last_seen < now() - $2::interval THEN now() ELSE last_seen END
WHERE resource_id = $1`

// ResourceManager deduplicates resource identities. All writes run on
// the autocommit executor so they are immediately visible to other
// processes and never hold row locks across the fact transaction.
type ResourceManager struct {
	db        Executor
	attrs     *AttrRouter
	cache     *dimCache
	threshold time.Duration
}

// NewResourceManager builds a manager over the autocommit executor.
func NewResourceManager(db Executor, attrs *AttrRouter, cacheTTL, lastSeenThreshold time.Duration) *ResourceManager {
	return &ResourceManager{
		db:        db,
		attrs:     attrs,
		cache:     newDimCache(cacheTTL),
		threshold: lastSeenThreshold,
	}
}

// GetOrCreateResource returns the stable id for the resource's
// attribute identity, inserting the dimension row on first sight.
// Promoted columns are written on first insert only; a later collision
// never overwrites them. The typed attribute inserts are idempotent and
// re-run on every cache miss, so a crash between the row insert and the
// attribute writes heals on the next sighting. last_seen is refreshed
// at most once per threshold window.
func (m *ResourceManager) GetOrCreateResource(ctx context.Context, res telemetry.Resource) (id int64, created bool, hash string, err error) {
	hash = HashAttributes(res.Attributes)

	if e, ok := m.cache.get(hash); ok {
		if e.needsRefresh(m.threshold) {
			if _, err := m.db.Exec(ctx, refreshResourceSQL, e.id, m.threshold); err != nil {
				return 0, false, hash, err
			}
		}
		return e.id, false, hash, nil
	}

	svcName, svcNamespace := promotedServiceColumns(res.Attributes, m.attrs.policy)
	err = m.db.QueryRow(ctx, upsertResourceSQL,
		hash, svcName, svcNamespace, nullString(res.SchemaURL),
		int32(res.DroppedAttributesCount), m.threshold,
	).Scan(&id, &created)
	if err != nil {
		return 0, false, hash, err
	}

	if err := m.storeAttributes(ctx, id, res.Attributes); err != nil {
		return 0, false, hash, err
	}
	m.cache.put(hash, id)
	return id, created, hash, nil
}

func (m *ResourceManager) storeAttributes(ctx context.Context, id int64, attrs []telemetry.KeyValue) error {
	routed, err := m.attrs.Route(ctx, promote.SignalResource, attrs)
	if err != nil {
		return err
	}
	if err := m.attrs.InsertPromoted(ctx, m.db, OwnerResource, id, routed.Promoted); err != nil {
		return err
	}
	return m.attrs.InsertOther(ctx, m.db, OwnerResource, id, routed.Other)
}

// promotedServiceColumns extracts service.name and service.namespace
// for the promoted dimension columns. Keys in the drop set for the
// resource signal are withheld here too.
func promotedServiceColumns(attrs []telemetry.KeyValue, policy *promote.Policy) (name, namespace *string) {
	for _, kv := range attrs {
		if kv.Value.Type != telemetry.ValueTypeString {
			continue
		}
		if policy.Dropped(promote.SignalResource, kv.Key) {
			continue
		}
		switch kv.Key {
		case serviceNameKey:
			v := kv.Value.Str
			name = &v
		case serviceNamespaceKey:
			v := kv.Value.Str
			namespace = &v
		}
	}
	return name, namespace
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
