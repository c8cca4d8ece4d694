// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/otelstore/otelstore/pkg/internaltelemetry"
	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

const insertNumberPointSQL = `
INSERT INTO otel_metrics_data_points_number
    (metric_id, resource_id, scope_id, start_time, start_time_nanos_fraction,
     time, time_nanos_fraction, value_int, value_double, attributes_other, flags, exemplars)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING point_id`

const insertHistogramPointSQL = `
INSERT INTO otel_metrics_data_points_histogram
    (metric_id, resource_id, scope_id, start_time, start_time_nanos_fraction,
     time, time_nanos_fraction, count, sum, min, max, bucket_counts, explicit_bounds,
     attributes_other, flags, exemplars)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING point_id`

const insertExpHistogramPointSQL = `
INSERT INTO otel_metrics_data_points_exp_histogram
    (metric_id, resource_id, scope_id, start_time, start_time_nanos_fraction,
     time, time_nanos_fraction, count, sum, min, max, scale, zero_count,
     positive_offset, positive_bucket_counts, negative_offset, negative_bucket_counts,
     attributes_other, flags, exemplars)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
RETURNING point_id`

const insertSummaryPointSQL = `
INSERT INTO otel_metrics_data_points_summary
    (metric_id, resource_id, scope_id, start_time, start_time_nanos_fraction,
     time, time_nanos_fraction, count, sum, quantiles, attributes_other, flags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING point_id`

// MetricsStorage drives the per-batch flow for metric data points. The
// four data-point shapes insert into their own fact tables; all of them
// share the metric_point_attrs typed attribute family through a common
// point id sequence.
type MetricsStorage struct {
	db      TxBeginner
	res     *ResourceManager
	scopes  *ScopeManager
	dims    *MetricDimManager
	attrs   *AttrRouter
	keys    *KeyRegistry
	metrics *internaltelemetry.Metrics
	log     *zap.Logger
}

// NewMetricsStorage wires the storage.
func NewMetricsStorage(db TxBeginner, res *ResourceManager, scopes *ScopeManager, dims *MetricDimManager, attrs *AttrRouter, keys *KeyRegistry, metrics *internaltelemetry.Metrics, log *zap.Logger) *MetricsStorage {
	return &MetricsStorage{db: db, res: res, scopes: scopes, dims: dims, attrs: attrs, keys: keys, metrics: metrics, log: log}
}

type pointWork struct {
	metricID   int64
	resourceID int64
	scopeID    *int64
	point      telemetry.DataPoint
}

// Store persists one metric batch.
func (s *MetricsStorage) Store(ctx context.Context, batch *telemetry.MetricBatch) (StoreResult, error) {
	s.metrics.BatchesTotal.WithLabelValues("metrics").Inc()
	result := StoreResult{}

	var work []pointWork
	for _, rm := range batch.Resources {
		resourceID, created, _, err := s.res.GetOrCreateResource(ctx, rm.Resource)
		if err != nil {
			return result, s.fail(ctx, err, batch.PointCount())
		}
		if created {
			s.metrics.DimensionUpserts.WithLabelValues("resource").Inc()
		}
		for _, sm := range rm.Scopes {
			scopeID, err := s.scopes.GetOrCreateScope(ctx, sm.Scope)
			if err != nil {
				return result, s.fail(ctx, err, batch.PointCount())
			}
			for _, metric := range sm.Metrics {
				if metric.Name == "" || metric.Type == telemetry.MetricTypeUnspecified {
					result.Rejected += len(metric.Points)
					s.metrics.RecordsDropped.WithLabelValues("metrics", "invalid").Add(float64(len(metric.Points)))
					s.log.Warn("dropping metric without name or type", zap.String("name", metric.Name))
					continue
				}
				metricID, err := s.dims.GetOrCreateMetric(ctx, metric)
				if err != nil {
					return result, s.fail(ctx, err, batch.PointCount())
				}
				for _, point := range metric.Points {
					if !validPoint(point) {
						result.Rejected++
						s.metrics.RecordsDropped.WithLabelValues("metrics", "invalid").Inc()
						s.log.Warn("dropping invalid data point",
							zap.String("metric", metric.Name),
							zap.String("kind", point.Kind.String()))
						continue
					}
					if err := warmKeys(ctx, s.keys, point.Attributes); err != nil {
						return result, s.fail(ctx, err, batch.PointCount())
					}
					work = append(work, pointWork{metricID: metricID, resourceID: resourceID, scopeID: scopeID, point: point})
				}
			}
		}
	}

	if len(work) == 0 {
		return result, nil
	}

	berr := runFactTx(ctx, s.db, func(tx Tx) error {
		for _, w := range work {
			if err := s.insertPoint(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if berr != nil {
		return result, s.fail(ctx, berr, len(work))
	}
	result.Accepted = len(work)
	s.metrics.RecordsAccepted.WithLabelValues("metrics").Add(float64(len(work)))
	return result, nil
}

func (s *MetricsStorage) insertPoint(ctx context.Context, tx Tx, w pointWork) error {
	p := w.point
	routed, err := s.attrs.Route(ctx, promote.SignalMetrics, p.Attributes)
	if err != nil {
		return err
	}
	other, err := marshalJSON(routed.Other)
	if err != nil {
		return err
	}
	exemplars, err := exemplarsJSON(p.Exemplars)
	if err != nil {
		return err
	}

	startTS, startFrac := SplitNanos(p.StartTimeUnixNano)
	ts, frac := SplitNanos(p.TimeUnixNano)

	var pointID int64
	switch p.Kind {
	case telemetry.MetricTypeGauge, telemetry.MetricTypeSum:
		var vi *int64
		var vd *float64
		if p.HasInt {
			vi = &p.ValueInt
		} else {
			vd = &p.ValueDouble
		}
		err = tx.QueryRow(ctx, insertNumberPointSQL,
			w.metricID, w.resourceID, w.scopeID,
			startTS, startFrac, ts, frac,
			vi, vd, other, int32(p.Flags), exemplars,
		).Scan(&pointID)
	case telemetry.MetricTypeHistogram:
		err = tx.QueryRow(ctx, insertHistogramPointSQL,
			w.metricID, w.resourceID, w.scopeID,
			startTS, startFrac, ts, frac,
			int64(p.Count), nullFloat(p.Sum, p.HasSum), nullFloat(p.Min, p.HasMin), nullFloat(p.Max, p.HasMax),
			uint64Slice(p.BucketCounts), p.ExplicitBounds,
			other, int32(p.Flags), exemplars,
		).Scan(&pointID)
	case telemetry.MetricTypeExponentialHistogram:
		err = tx.QueryRow(ctx, insertExpHistogramPointSQL,
			w.metricID, w.resourceID, w.scopeID,
			startTS, startFrac, ts, frac,
			int64(p.Count), nullFloat(p.Sum, p.HasSum), nullFloat(p.Min, p.HasMin), nullFloat(p.Max, p.HasMax),
			p.Scale, int64(p.ZeroCount),
			p.PositiveOffset, uint64Slice(p.PositiveCounts),
			p.NegativeOffset, uint64Slice(p.NegativeCounts),
			other, int32(p.Flags), exemplars,
		).Scan(&pointID)
	case telemetry.MetricTypeSummary:
		var quantiles []byte
		if quantiles, err = quantilesJSON(p.Quantiles); err != nil {
			return err
		}
		err = tx.QueryRow(ctx, insertSummaryPointSQL,
			w.metricID, w.resourceID, w.scopeID,
			startTS, startFrac, ts, frac,
			int64(p.Count), nullFloat(p.Sum, p.HasSum), quantiles,
			other, int32(p.Flags),
		).Scan(&pointID)
	}
	if err != nil {
		return err
	}
	return s.attrs.InsertPromoted(ctx, tx, OwnerMetricPoint, pointID, routed.Promoted)
}

func (s *MetricsStorage) fail(ctx context.Context, err error, batchSize int) error {
	var berr *BatchError
	if !errors.As(err, &berr) {
		berr = classifyError(ctx, err, newCorrelationID())
	}
	s.metrics.BatchesFailed.WithLabelValues("metrics", kindLabel(berr.Kind)).Inc()
	s.log.Error("metric batch failed",
		zap.String("signal", "metrics"),
		zap.Int("batch_size", batchSize),
		zap.String("kind", kindLabel(berr.Kind)),
		zap.String("correlation_id", berr.CorrelationID),
		zap.Error(berr.Err))
	return berr
}

// validPoint enforces the shape constraints the tables also carry: a
// number point has exactly one value variant, histograms need matching
// bucket arrays.
func validPoint(p telemetry.DataPoint) bool {
	switch p.Kind {
	case telemetry.MetricTypeGauge, telemetry.MetricTypeSum:
		return p.HasInt != p.HasDouble
	case telemetry.MetricTypeHistogram:
		return len(p.ExplicitBounds) == 0 || len(p.BucketCounts) == len(p.ExplicitBounds)+1
	case telemetry.MetricTypeExponentialHistogram, telemetry.MetricTypeSummary:
		return true
	}
	return false
}

func exemplarsJSON(exemplars []telemetry.Exemplar) ([]byte, error) {
	if len(exemplars) == 0 {
		return nil, nil
	}
	out := make([]map[string]interface{}, 0, len(exemplars))
	for _, e := range exemplars {
		m := map[string]interface{}{"time_unix_nano": e.TimeUnixNano}
		if e.HasInt {
			m["value_int"] = e.ValueInt
		}
		if e.HasDouble {
			m["value_double"] = e.ValueDouble
		}
		if e.TraceID != "" {
			m["trace_id"] = e.TraceID
		}
		if e.SpanID != "" {
			m["span_id"] = e.SpanID
		}
		if attrs := telemetry.AttributesMap(e.Attributes); len(attrs) > 0 {
			m["attributes"] = attrs
		}
		out = append(out, m)
	}
	return json.Marshal(out)
}

func quantilesJSON(qs []telemetry.QuantileValue) ([]byte, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	out := make([]map[string]float64, 0, len(qs))
	for _, q := range qs {
		out = append(out, map[string]float64{"quantile": q.Quantile, "value": q.Value})
	}
	return json.Marshal(out)
}

func nullFloat(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

// uint64Slice converts wire bucket counts for a BIGINT[] column. Counts
// above the BIGINT range saturate at math.MaxInt64 instead of wrapping
// negative.
func uint64Slice(in []uint64) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int64, len(in))
	for i, v := range in {
		if v > math.MaxInt64 {
			out[i] = math.MaxInt64
			continue
		}
		out[i] = int64(v)
	}
	return out
}
