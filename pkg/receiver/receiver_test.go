// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package receiver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/otelstore/otelstore/pkg/storage"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

type fakeReady struct{ state storage.State }

func (f fakeReady) State() storage.State { return f.state }

type fakeTraces struct {
	res storage.StoreResult
	err error
	got *telemetry.TraceBatch
}

func (f *fakeTraces) Store(_ context.Context, b *telemetry.TraceBatch) (storage.StoreResult, error) {
	f.got = b
	return f.res, f.err
}

type fakeLogs struct {
	res storage.StoreResult
	err error
}

func (f *fakeLogs) Store(context.Context, *telemetry.LogBatch) (storage.StoreResult, error) {
	return f.res, f.err
}

type fakeMetrics struct {
	res storage.StoreResult
	err error
}

func (f *fakeMetrics) Store(context.Context, *telemetry.MetricBatch) (storage.StoreResult, error) {
	return f.res, f.err
}

func testReceiver(ready storage.State, traces *fakeTraces, logs *fakeLogs, metrics *fakeMetrics) *Receiver {
	if traces == nil {
		traces = &fakeTraces{}
	}
	if logs == nil {
		logs = &fakeLogs{}
	}
	if metrics == nil {
		metrics = &fakeMetrics{}
	}
	return New(Config{ListenAddr: ":0", Workers: 4, QueueDepth: 4},
		traces, logs, metrics, fakeReady{state: ready}, zap.NewNop())
}

func validExportRequest() *coltracepb.ExportTraceServiceRequest {
	return &coltracepb.ExportTraceServiceRequest{ResourceSpans: []*tracepb.ResourceSpans{{
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{wireSpan()},
		}},
	}}}
}

func TestExportTraces(t *testing.T) {
	traces := &fakeTraces{res: storage.StoreResult{Accepted: 1}}
	r := testReceiver(storage.StateReady, traces, nil, nil)

	resp, err := (&traceService{r: r}).Export(context.Background(), validExportRequest())
	require.NoError(t, err)
	assert.Nil(t, resp.PartialSuccess)
	require.NotNil(t, traces.got)
	assert.Equal(t, 1, traces.got.SpanCount())
}

func TestExportTracesPartialSuccess(t *testing.T) {
	// One span rejected at conversion, one by storage validation.
	traces := &fakeTraces{res: storage.StoreResult{Accepted: 1, Rejected: 1}}
	r := testReceiver(storage.StateReady, traces, nil, nil)

	req := validExportRequest()
	req.ResourceSpans[0].ScopeSpans[0].Spans = append(req.ResourceSpans[0].ScopeSpans[0].Spans,
		&tracepb.Span{Name: "missing ids"})
	resp, err := (&traceService{r: r}).Export(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.PartialSuccess)
	assert.Equal(t, int64(2), resp.PartialSuccess.RejectedSpans)
	assert.NotEmpty(t, resp.PartialSuccess.ErrorMessage)
}

func TestExportNotReady(t *testing.T) {
	r := testReceiver(storage.StateNotReady, nil, nil, nil)
	_, err := (&traceService{r: r}).Export(context.Background(), validExportRequest())
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestExportReadOnly(t *testing.T) {
	r := testReceiver(storage.StateReadOnly, nil, nil, nil)
	_, err := (&traceService{r: r}).Export(context.Background(), validExportRequest())
	require.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "read-only")
}

func TestExportStorageErrors(t *testing.T) {
	cases := []struct {
		kind storage.ErrKind
		want codes.Code
	}{
		{storage.KindTransient, codes.Unavailable},
		{storage.KindPermanent, codes.Internal},
		{storage.KindCancelled, codes.Canceled},
	}
	for _, tc := range cases {
		traces := &fakeTraces{err: &storage.BatchError{Kind: tc.kind, CorrelationID: "c1", Err: errors.New("db")}}
		r := testReceiver(storage.StateReady, traces, nil, nil)
		_, err := (&traceService{r: r}).Export(context.Background(), validExportRequest())
		assert.Equal(t, tc.want, status.Code(err))
	}
}

func TestExportLogs(t *testing.T) {
	logs := &fakeLogs{res: storage.StoreResult{Accepted: 1}}
	r := testReceiver(storage.StateReady, nil, logs, nil)

	req := &collogspb.ExportLogsServiceRequest{ResourceLogs: []*logspb.ResourceLogs{{
		ScopeLogs: []*logspb.ScopeLogs{{
			LogRecords: []*logspb.LogRecord{{TimeUnixNano: 1}},
		}},
	}}}
	resp, err := (&logsService{r: r}).Export(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp.PartialSuccess)
}

func TestRPCErrorUnknown(t *testing.T) {
	err := rpcError(errors.New("plain"))
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGateShedsLoadWhenFull(t *testing.T) {
	g := newGate(1, 0)
	require.NoError(t, g.acquire(context.Background()))
	// No worker slot and no queue room.
	err := g.acquire(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))

	g.release()
	require.NoError(t, g.acquire(context.Background()))
}

func TestGateQueuedRequestHonorsCancellation(t *testing.T) {
	g := newGate(1, 1)
	require.NoError(t, g.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.acquire(ctx)
	assert.Equal(t, codes.Canceled, status.Code(err))
	// The queue slot was returned.
	assert.Zero(t, g.queued.Load())
}

func TestSetReadyTogglesHealth(t *testing.T) {
	r := testReceiver(storage.StateReady, nil, nil, nil)
	// No panic and no state corruption across transitions; the health
	// server is exercised end to end by the gRPC health tests upstream.
	r.SetReady(storage.StateReady)
	r.SetReady(storage.StateNotReady)
	r.SetReady(storage.StateReadOnly)
}
