// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"time"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

const upsertMetricSQL = `
INSERT INTO otel_metrics
    (metric_hash, name, metric_type_id, unit, temporality_id, monotonic, description, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (metric_hash) DO UPDATE SET
    last_seen = CASE WHEN otel_metrics.last_seen < now() - $8::interval
                     THEN now() ELSE otel_metrics.last_seen END
RETURNING metric_id`

const refreshMetricSQL = `
UPDATE otel_metrics
SET last_seen = CASE WHEN last_seen < now() - $2::interval THEN now() ELSE last_seen END
WHERE metric_id = $1`

// MetricDimManager deduplicates metric descriptors. Identity is
// (name, type, unit, temporality, monotonic); the description may vary
// and the first writer's value sticks.
type MetricDimManager struct {
	db        Executor
	cache     *dimCache
	threshold time.Duration
}

// NewMetricDimManager builds a manager over the autocommit executor.
func NewMetricDimManager(db Executor, cacheTTL, lastSeenThreshold time.Duration) *MetricDimManager {
	return &MetricDimManager{
		db:        db,
		cache:     newDimCache(cacheTTL),
		threshold: lastSeenThreshold,
	}
}

// GetOrCreateMetric returns the stable id for the metric descriptor.
func (m *MetricDimManager) GetOrCreateMetric(ctx context.Context, metric telemetry.Metric) (int64, error) {
	hash := HashMetric(metric.Name, metric.Type, metric.Unit, metric.Temporality, metric.Monotonic)

	if e, ok := m.cache.get(hash); ok {
		if e.needsRefresh(m.threshold) {
			if _, err := m.db.Exec(ctx, refreshMetricSQL, e.id, m.threshold); err != nil {
				return 0, err
			}
		}
		return e.id, nil
	}

	var id int64
	err := m.db.QueryRow(ctx, upsertMetricSQL,
		hash, metric.Name, int16(metric.Type), nullString(metric.Unit),
		metric.Temporality, metric.Monotonic, nullString(metric.Description),
		m.threshold,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	m.cache.put(hash, id)
	return id, nil
}
