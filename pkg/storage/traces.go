// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/otelstore/otelstore/pkg/internaltelemetry"
	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

const insertSpanSQL = `
INSERT INTO otel_spans_fact
    (resource_id, scope_id, trace_id, span_id_hex, parent_span_id_hex, trace_state, flags,
     name, kind_id, start_time, start_time_nanos_fraction, end_time, end_time_nanos_fraction,
     status_code_id, status_message, attributes_other, events, links,
     dropped_attributes_count, dropped_events_count, dropped_links_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (trace_id, span_id_hex) DO NOTHING
RETURNING span_id`

// TracesStorage drives the per-batch flow for spans: dimensions on the
// autocommit connection, then every span of the batch in one fact
// transaction.
type TracesStorage struct {
	db      TxBeginner
	res     *ResourceManager
	scopes  *ScopeManager
	attrs   *AttrRouter
	keys    *KeyRegistry
	metrics *internaltelemetry.Metrics
	log     *zap.Logger
}

// NewTracesStorage wires the storage.
func NewTracesStorage(db TxBeginner, res *ResourceManager, scopes *ScopeManager, attrs *AttrRouter, keys *KeyRegistry, metrics *internaltelemetry.Metrics, log *zap.Logger) *TracesStorage {
	return &TracesStorage{db: db, res: res, scopes: scopes, attrs: attrs, keys: keys, metrics: metrics, log: log}
}

type spanWork struct {
	resourceID int64
	scopeID    *int64
	span       telemetry.Span
}

// Store persists one trace batch. Malformed spans are rejected and
// counted; the rest commit atomically.
func (s *TracesStorage) Store(ctx context.Context, batch *telemetry.TraceBatch) (StoreResult, error) {
	s.metrics.BatchesTotal.WithLabelValues("traces").Inc()
	result := StoreResult{}

	var work []spanWork
	for _, rs := range batch.Resources {
		resourceID, created, _, err := s.res.GetOrCreateResource(ctx, rs.Resource)
		if err != nil {
			return result, s.fail(ctx, err, batch.SpanCount())
		}
		if created {
			s.metrics.DimensionUpserts.WithLabelValues("resource").Inc()
		}
		for _, ss := range rs.Scopes {
			scopeID, err := s.scopes.GetOrCreateScope(ctx, ss.Scope)
			if err != nil {
				return result, s.fail(ctx, err, batch.SpanCount())
			}
			for _, span := range ss.Spans {
				if !validSpan(span) {
					result.Rejected++
					s.metrics.RecordsDropped.WithLabelValues("traces", "invalid").Inc()
					s.log.Warn("dropping invalid span",
						zap.String("trace_id", span.TraceID),
						zap.String("span_id", span.SpanID),
						zap.String("name", span.Name))
					continue
				}
				if err := warmKeys(ctx, s.keys, span.Attributes); err != nil {
					return result, s.fail(ctx, err, batch.SpanCount())
				}
				work = append(work, spanWork{resourceID: resourceID, scopeID: scopeID, span: span})
			}
		}
	}

	if len(work) == 0 {
		return result, nil
	}

	berr := runFactTx(ctx, s.db, func(tx Tx) error {
		for _, w := range work {
			if err := s.insertSpan(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if berr != nil {
		return result, s.fail(ctx, berr, len(work))
	}
	result.Accepted = len(work)
	s.metrics.RecordsAccepted.WithLabelValues("traces").Add(float64(len(work)))
	return result, nil
}

func (s *TracesStorage) insertSpan(ctx context.Context, tx Tx, w spanWork) error {
	span := w.span
	routed, err := s.attrs.Route(ctx, promote.SignalSpans, span.Attributes)
	if err != nil {
		return err
	}
	other, err := marshalJSON(routed.Other)
	if err != nil {
		return err
	}
	events, err := s.eventsJSON(span.Events)
	if err != nil {
		return err
	}
	links, err := s.linksJSON(span.Links)
	if err != nil {
		return err
	}

	startTS, startFrac := SplitNanos(span.StartTimeUnixNano)
	endTS, endFrac := SplitNanos(span.EndTimeUnixNano)

	var spanPK int64
	err = tx.QueryRow(ctx, insertSpanSQL,
		w.resourceID, w.scopeID,
		span.TraceID, span.SpanID, nullString(span.ParentSpanID),
		nullString(span.TraceState), int32(span.Flags),
		span.Name, clampEnum(span.Kind, 5),
		startTS, startFrac, endTS, endFrac,
		clampEnum(span.StatusCode, 2), nullString(span.StatusMessage),
		other, events, links,
		int32(span.DroppedAttributesCount), int32(span.DroppedEventsCount), int32(span.DroppedLinksCount),
	).Scan(&spanPK)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate (trace_id, span_id): the collector resent a span
		// that already landed. Accept silently.
		return nil
	}
	if err != nil {
		return err
	}
	return s.attrs.InsertPromoted(ctx, tx, OwnerSpan, spanPK, routed.Promoted)
}

// eventsJSON renders span events the way the trace pipeline always has:
// one JSON array on the span row. Dropped keys are withheld here too.
func (s *TracesStorage) eventsJSON(events []telemetry.SpanEvent) ([]byte, error) {
	if len(events) == 0 {
		return nil, nil
	}
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		m := map[string]interface{}{"name": e.Name}
		if e.TimeUnixNano != 0 {
			m["time_unix_nano"] = e.TimeUnixNano
		}
		if attrs := s.filteredAttrs(e.Attributes); len(attrs) > 0 {
			m["attributes"] = attrs
		}
		if e.DroppedAttributesCount != 0 {
			m["dropped_attributes_count"] = e.DroppedAttributesCount
		}
		out = append(out, m)
	}
	return json.Marshal(out)
}

func (s *TracesStorage) linksJSON(links []telemetry.SpanLink) ([]byte, error) {
	if len(links) == 0 {
		return nil, nil
	}
	out := make([]map[string]interface{}, 0, len(links))
	for _, l := range links {
		m := map[string]interface{}{
			"trace_id": l.TraceID,
			"span_id":  l.SpanID,
		}
		if l.TraceState != "" {
			m["trace_state"] = l.TraceState
		}
		if l.Flags != 0 {
			m["flags"] = l.Flags
		}
		if attrs := s.filteredAttrs(l.Attributes); len(attrs) > 0 {
			m["attributes"] = attrs
		}
		if l.DroppedAttributesCount != 0 {
			m["dropped_attributes_count"] = l.DroppedAttributesCount
		}
		out = append(out, m)
	}
	return json.Marshal(out)
}

// filteredAttrs flattens an attribute bag to JSON form, withholding
// keys the policy drops for the spans signal.
func (s *TracesStorage) filteredAttrs(attrs []telemetry.KeyValue) map[string]interface{} {
	var m map[string]interface{}
	for _, kv := range attrs {
		if s.attrs.policy.Dropped(promote.SignalSpans, kv.Key) {
			continue
		}
		if m == nil {
			m = make(map[string]interface{})
		}
		m[kv.Key] = kv.Value.Interface()
	}
	return m
}

func (s *TracesStorage) fail(ctx context.Context, err error, batchSize int) error {
	var berr *BatchError
	if !errors.As(err, &berr) {
		berr = classifyError(ctx, err, newCorrelationID())
	}
	s.metrics.BatchesFailed.WithLabelValues("traces", kindLabel(berr.Kind)).Inc()
	s.log.Error("trace batch failed",
		zap.String("signal", "traces"),
		zap.Int("batch_size", batchSize),
		zap.String("kind", kindLabel(berr.Kind)),
		zap.String("correlation_id", berr.CorrelationID),
		zap.Error(berr.Err))
	return berr
}

func kindLabel(k ErrKind) string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// validSpan applies record-level validation: ids must be normalized
// hex, timestamps ordered, name present.
func validSpan(s telemetry.Span) bool {
	if !isHex(s.TraceID, 32) || !isHex(s.SpanID, 16) {
		return false
	}
	if s.ParentSpanID != "" && !isHex(s.ParentSpanID, 16) {
		return false
	}
	if s.Name == "" {
		return false
	}
	return s.EndTimeUnixNano >= s.StartTimeUnixNano
}

// clampEnum maps out-of-range wire enum values to the UNSPECIFIED/UNSET
// reference row.
func clampEnum(v int16, max int16) int16 {
	if v < 0 || v > max {
		return 0
	}
	return v
}
