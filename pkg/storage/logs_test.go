// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

func logBatch(records ...telemetry.LogRecord) *telemetry.LogBatch {
	return &telemetry.LogBatch{Resources: []telemetry.ResourceLogs{{
		Resource: testResource(),
		Scopes: []telemetry.ScopeLogs{{
			Scope:   telemetry.Scope{Name: "io.otelstore/logger"},
			Records: records,
		}},
	}}}
}

func newLogsStorage(env *testEnv) *LogsStorage {
	return NewLogsStorage(env.db, env.res, env.scopes, env.attrs, env.keys, env.metrics, env.log)
}

func TestLogsStoreHappyPath(t *testing.T) {
	env := newTestEnv(t)
	s := newLogsStorage(env)

	rec := telemetry.LogRecord{
		TimeUnixNano:         1724500000000000123,
		ObservedTimeUnixNano: 1724500001000000456,
		SeverityNumber:       9,
		SeverityText:         "INFO",
		Body:                 telemetry.StringValue("user logged in"),
		Attributes: []telemetry.KeyValue{
			{Key: "log.source", Value: telemetry.StringValue("auth")},
		},
	}
	res, err := s.Store(context.Background(), logBatch(rec))
	require.NoError(t, err)
	assert.Equal(t, StoreResult{Accepted: 1}, res)
	assert.True(t, env.tx.committed)

	require.Len(t, env.tx.queries, 1)
	args := env.tx.queries[0].args
	ts, frac := SplitNanos(rec.TimeUnixNano)
	assert.Equal(t, ts, args[2])
	assert.Equal(t, frac, args[3])
	assert.Equal(t, int16(telemetry.ValueTypeString), args[8])
	assert.JSONEq(t, `"user logged in"`, string(args[9].([]byte)))

	assert.Equal(t, 1, env.tx.execCount("log_attrs_string"))
}

func TestLogsStoreTimeFallsBackToObserved(t *testing.T) {
	env := newTestEnv(t)
	s := newLogsStorage(env)

	rec := telemetry.LogRecord{ObservedTimeUnixNano: 1724500001000000456}
	_, err := s.Store(context.Background(), logBatch(rec))
	require.NoError(t, err)

	args := env.tx.queries[0].args
	ts, frac := SplitNanos(rec.ObservedTimeUnixNano)
	assert.Equal(t, ts, args[2])
	assert.Equal(t, frac, args[3])
	assert.Equal(t, ts, args[4])
	assert.Equal(t, frac, args[5])
}

func TestLogsStoreTimeFallsBackToClock(t *testing.T) {
	env := newTestEnv(t)
	s := newLogsStorage(env)
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 123456789, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Store(context.Background(), logBatch(telemetry.LogRecord{}))
	require.NoError(t, err)

	args := env.tx.queries[0].args
	ts, frac := SplitNanos(uint64(fixed.UnixNano()))
	assert.Equal(t, ts, args[2])
	assert.Equal(t, frac, args[3])
}

func TestLogsStoreEmptyBodyStaysNull(t *testing.T) {
	env := newTestEnv(t)
	s := newLogsStorage(env)

	_, err := s.Store(context.Background(), logBatch(telemetry.LogRecord{TimeUnixNano: 1}))
	require.NoError(t, err)

	args := env.tx.queries[0].args
	assert.Equal(t, int16(telemetry.ValueTypeEmpty), args[8])
	assert.Nil(t, args[9])
}

func TestLogsStoreRejectsMalformedCorrelationIDs(t *testing.T) {
	env := newTestEnv(t)
	s := newLogsStorage(env)

	res, err := s.Store(context.Background(), logBatch(telemetry.LogRecord{
		TimeUnixNano: 1,
		TraceID:      "short",
	}))
	require.NoError(t, err)
	assert.Equal(t, StoreResult{Rejected: 1}, res)
	assert.Zero(t, env.db.begun)
}

func TestValidLogRecord(t *testing.T) {
	assert.True(t, validLogRecord(telemetry.LogRecord{}))
	assert.True(t, validLogRecord(telemetry.LogRecord{TraceID: testTraceID, SpanID: testSpanID}))
	assert.False(t, validLogRecord(telemetry.LogRecord{TraceID: "bad"}))
	assert.False(t, validLogRecord(telemetry.LogRecord{SpanID: "bad"}))
}
