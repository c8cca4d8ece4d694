// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/otelstore/otelstore/pkg/internaltelemetry"
	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

const insertLogSQL = `
INSERT INTO otel_logs_fact
    (resource_id, scope_id, time, time_nanos_fraction, observed_time, observed_time_nanos_fraction,
     severity_number, severity_text, body_type_id, body, trace_id, span_id, trace_flags,
     attributes_other, dropped_attributes_count, flags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING log_id`

// LogsStorage drives the per-batch flow for log records.
type LogsStorage struct {
	db      TxBeginner
	res     *ResourceManager
	scopes  *ScopeManager
	attrs   *AttrRouter
	keys    *KeyRegistry
	metrics *internaltelemetry.Metrics
	log     *zap.Logger

	// now is the clock used when a record carries no timestamp at
	// all; replaced in tests.
	now func() time.Time
}

// NewLogsStorage wires the storage.
func NewLogsStorage(db TxBeginner, res *ResourceManager, scopes *ScopeManager, attrs *AttrRouter, keys *KeyRegistry, metrics *internaltelemetry.Metrics, log *zap.Logger) *LogsStorage {
	return &LogsStorage{db: db, res: res, scopes: scopes, attrs: attrs, keys: keys, metrics: metrics, log: log, now: time.Now}
}

type logWork struct {
	resourceID int64
	scopeID    *int64
	record     telemetry.LogRecord
}

// Store persists one log batch.
func (s *LogsStorage) Store(ctx context.Context, batch *telemetry.LogBatch) (StoreResult, error) {
	s.metrics.BatchesTotal.WithLabelValues("logs").Inc()
	result := StoreResult{}

	var work []logWork
	for _, rl := range batch.Resources {
		resourceID, created, _, err := s.res.GetOrCreateResource(ctx, rl.Resource)
		if err != nil {
			return result, s.fail(ctx, err, batch.RecordCount())
		}
		if created {
			s.metrics.DimensionUpserts.WithLabelValues("resource").Inc()
		}
		for _, sl := range rl.Scopes {
			scopeID, err := s.scopes.GetOrCreateScope(ctx, sl.Scope)
			if err != nil {
				return result, s.fail(ctx, err, batch.RecordCount())
			}
			for _, rec := range sl.Records {
				if !validLogRecord(rec) {
					result.Rejected++
					s.metrics.RecordsDropped.WithLabelValues("logs", "invalid").Inc()
					s.log.Warn("dropping invalid log record",
						zap.String("trace_id", rec.TraceID),
						zap.String("span_id", rec.SpanID))
					continue
				}
				if err := warmKeys(ctx, s.keys, rec.Attributes); err != nil {
					return result, s.fail(ctx, err, batch.RecordCount())
				}
				work = append(work, logWork{resourceID: resourceID, scopeID: scopeID, record: rec})
			}
		}
	}

	if len(work) == 0 {
		return result, nil
	}

	berr := runFactTx(ctx, s.db, func(tx Tx) error {
		for _, w := range work {
			if err := s.insertRecord(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if berr != nil {
		return result, s.fail(ctx, berr, len(work))
	}
	result.Accepted = len(work)
	s.metrics.RecordsAccepted.WithLabelValues("logs").Add(float64(len(work)))
	return result, nil
}

func (s *LogsStorage) insertRecord(ctx context.Context, tx Tx, w logWork) error {
	rec := w.record
	routed, err := s.attrs.Route(ctx, promote.SignalLogs, rec.Attributes)
	if err != nil {
		return err
	}
	other, err := marshalJSON(routed.Other)
	if err != nil {
		return err
	}

	// A zero event time falls back to the observed time, then to the
	// local clock. This is lossy but preserves queryability.
	eventNanos := rec.TimeUnixNano
	if eventNanos == 0 {
		if rec.ObservedTimeUnixNano != 0 {
			eventNanos = rec.ObservedTimeUnixNano
		} else {
			eventNanos = uint64(s.now().UnixNano())
		}
	}
	observedNanos := rec.ObservedTimeUnixNano
	if observedNanos == 0 {
		observedNanos = eventNanos
	}
	ts, frac := SplitNanos(eventNanos)
	obsTS, obsFrac := SplitNanos(observedNanos)

	var body []byte
	bodyType := int16(rec.Body.Type)
	if rec.Body.Type != telemetry.ValueTypeEmpty {
		if body, err = json.Marshal(rec.Body.Interface()); err != nil {
			return err
		}
	}

	var logID int64
	err = tx.QueryRow(ctx, insertLogSQL,
		w.resourceID, w.scopeID,
		ts, frac, obsTS, obsFrac,
		nullSmallint(rec.SeverityNumber), nullString(rec.SeverityText),
		bodyType, body,
		nullString(rec.TraceID), nullString(rec.SpanID), int32(rec.TraceFlags),
		other, int32(rec.DroppedAttributesCount), int32(rec.Flags),
	).Scan(&logID)
	if err != nil {
		return err
	}
	return s.attrs.InsertPromoted(ctx, tx, OwnerLog, logID, routed.Promoted)
}

func (s *LogsStorage) fail(ctx context.Context, err error, batchSize int) error {
	var berr *BatchError
	if !errors.As(err, &berr) {
		berr = classifyError(ctx, err, newCorrelationID())
	}
	s.metrics.BatchesFailed.WithLabelValues("logs", kindLabel(berr.Kind)).Inc()
	s.log.Error("log batch failed",
		zap.String("signal", "logs"),
		zap.Int("batch_size", batchSize),
		zap.String("kind", kindLabel(berr.Kind)),
		zap.String("correlation_id", berr.CorrelationID),
		zap.Error(berr.Err))
	return berr
}

// validLogRecord checks optional trace correlation ids: absent is fine,
// malformed is not.
func validLogRecord(r telemetry.LogRecord) bool {
	if r.TraceID != "" && !isHex(r.TraceID, 32) {
		return false
	}
	if r.SpanID != "" && !isHex(r.SpanID, 16) {
		return false
	}
	return true
}

func nullSmallint(v int16) *int16 {
	if v == 0 {
		return nil
	}
	return &v
}
