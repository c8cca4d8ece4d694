// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package receiver terminates OTLP gRPC for traces, logs and metrics
// and feeds the signal storages. A bounded worker gate sheds load with
// a retryable status once the queue fills, and the standard gRPC health
// service reflects the readiness supervisor.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/otelstore/otelstore/pkg/storage"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

// ReadinessService is the health channel name carrying the supervisor's
// opinion; the empty service name reports liveness.
const ReadinessService = "readiness"

// TracesStore, LogsStore and MetricsStore are the signal storages the
// receiver feeds.
type TracesStore interface {
	Store(ctx context.Context, batch *telemetry.TraceBatch) (storage.StoreResult, error)
}

// LogsStore persists log batches.
type LogsStore interface {
	Store(ctx context.Context, batch *telemetry.LogBatch) (storage.StoreResult, error)
}

// MetricsStore persists metric batches.
type MetricsStore interface {
	Store(ctx context.Context, batch *telemetry.MetricBatch) (storage.StoreResult, error)
}

// ReadinessReporter is the supervisor's read side.
type ReadinessReporter interface {
	State() storage.State
}

// Config holds the receiver tunables.
type Config struct {
	ListenAddr string
	Workers    int64
	QueueDepth int64
}

// Receiver hosts the three OTLP Export services plus gRPC health.
type Receiver struct {
	cfg     Config
	traces  TracesStore
	logs    LogsStore
	metrics MetricsStore
	ready   ReadinessReporter
	log     *zap.Logger

	gate    *gate
	health  *health.Server
	grpcsrv *grpc.Server
	wg      sync.WaitGroup
}

// New builds a receiver. Call SetReady from the supervisor's onChange
// hook to keep the readiness health channel current.
func New(cfg Config, traces TracesStore, logs LogsStore, metrics MetricsStore, ready ReadinessReporter, log *zap.Logger) *Receiver {
	r := &Receiver{
		cfg:     cfg,
		traces:  traces,
		logs:    logs,
		metrics: metrics,
		ready:   ready,
		log:     log,
		gate:    newGate(cfg.Workers, cfg.QueueDepth),
		health:  health.NewServer(),
	}
	// Liveness: serving while the process is up.
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.health.SetServingStatus(ReadinessService, healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// SetReady updates the readiness health channel.
func (r *Receiver) SetReady(state storage.State) {
	s := healthpb.HealthCheckResponse_NOT_SERVING
	if state == storage.StateReady {
		s = healthpb.HealthCheckResponse_SERVING
	}
	r.health.SetServingStatus(ReadinessService, s)
}

// Start listens and serves in the background.
func (r *Receiver) Start() error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.cfg.ListenAddr, err)
	}
	r.grpcsrv = grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(r.grpcsrv, &traceService{r: r})
	collogspb.RegisterLogsServiceServer(r.grpcsrv, &logsService{r: r})
	colmetricspb.RegisterMetricsServiceServer(r.grpcsrv, &metricsService{r: r})
	healthpb.RegisterHealthServer(r.grpcsrv, r.health)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.grpcsrv.Serve(ln); err != nil {
			r.log.Error("OTLP gRPC server stopped", zap.Error(err))
		}
	}()
	r.log.Info("OTLP gRPC receiver running", zap.String("addr", r.cfg.ListenAddr))
	return nil
}

// Stop drains in-flight RPCs, falling back to a hard stop after the
// grace period.
func (r *Receiver) Stop(grace time.Duration) {
	if r.grpcsrv == nil {
		return
	}
	r.health.Shutdown()
	done := make(chan struct{})
	go func() {
		r.grpcsrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		r.grpcsrv.Stop()
	}
	r.wg.Wait()
}

// admit checks readiness and acquires a worker slot.
func (r *Receiver) admit(ctx context.Context) (release func(), err error) {
	switch r.ready.State() {
	case storage.StateReady:
	case storage.StateReadOnly:
		return nil, status.Error(codes.Unavailable, "storage is read-only during migration")
	default:
		return nil, status.Error(codes.Unavailable, "storage schema not ready")
	}
	if err := r.gate.acquire(ctx); err != nil {
		return nil, err
	}
	return r.gate.release, nil
}

// rpcError maps the storage taxonomy onto gRPC statuses.
func rpcError(err error) error {
	var berr *storage.BatchError
	if errors.As(err, &berr) {
		switch berr.Kind {
		case storage.KindTransient:
			return status.Error(codes.Unavailable, "transient storage failure, retry")
		case storage.KindCancelled:
			return status.Error(codes.Canceled, "request cancelled")
		case storage.KindPermanent:
			return status.Errorf(codes.Internal, "permanent storage failure (correlation %s)", berr.CorrelationID)
		}
	}
	return status.Error(codes.Internal, "storage failure")
}

type traceService struct {
	coltracepb.UnimplementedTraceServiceServer
	r *Receiver
}

// Export implements the OTLP trace service.
func (s *traceService) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	release, err := s.r.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	batch, rejected := convertTraces(req)
	res, err := s.r.traces.Store(ctx, batch)
	if err != nil {
		return nil, rpcError(err)
	}
	resp := &coltracepb.ExportTraceServiceResponse{}
	if total := rejected + res.Rejected; total > 0 {
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: int64(total),
			ErrorMessage:  "malformed spans were dropped",
		}
	}
	return resp, nil
}

type logsService struct {
	collogspb.UnimplementedLogsServiceServer
	r *Receiver
}

// Export implements the OTLP logs service.
func (s *logsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	release, err := s.r.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	batch, rejected := convertLogs(req)
	res, err := s.r.logs.Store(ctx, batch)
	if err != nil {
		return nil, rpcError(err)
	}
	resp := &collogspb.ExportLogsServiceResponse{}
	if total := rejected + res.Rejected; total > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: int64(total),
			ErrorMessage:       "malformed log records were dropped",
		}
	}
	return resp, nil
}

type metricsService struct {
	colmetricspb.UnimplementedMetricsServiceServer
	r *Receiver
}

// Export implements the OTLP metrics service.
func (s *metricsService) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	release, err := s.r.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	batch, rejected := convertMetrics(req)
	res, err := s.r.metrics.Store(ctx, batch)
	if err != nil {
		return nil, rpcError(err)
	}
	resp := &colmetricspb.ExportMetricsServiceResponse{}
	if total := rejected + res.Rejected; total > 0 {
		resp.PartialSuccess = &colmetricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: int64(total),
			ErrorMessage:       "malformed data points were dropped",
		}
	}
	return resp, nil
}

// gate bounds concurrent handlers. Workers slots run; up to depth more
// wait; past that the server sheds load so upstream collectors back
// off and retry.
type gate struct {
	sem    *semaphore.Weighted
	depth  int64
	queued atomic.Int64
}

func newGate(workers, depth int64) *gate {
	return &gate{sem: semaphore.NewWeighted(workers), depth: depth}
}

func (g *gate) acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}
	if g.queued.Add(1) > g.depth {
		g.queued.Add(-1)
		return status.Error(codes.Unavailable, "ingest queue full, retry with backoff")
	}
	defer g.queued.Add(-1)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return status.Error(codes.Canceled, "request cancelled while queued")
	}
	return nil
}

func (g *gate) release() {
	g.sem.Release(1)
}
