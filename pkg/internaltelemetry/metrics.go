// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package internaltelemetry exposes the ingester's own counters: batch
// outcomes by failure kind, dropped records by reason, ingest volume.
package internaltelemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the ingest counters.
type Metrics struct {
	RecordsAccepted *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	BatchesTotal    *prometheus.CounterVec
	BatchesFailed   *prometheus.CounterVec
	DimensionUpserts *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds the counter set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		RecordsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otelstore_records_accepted_total",
			Help: "Fact rows committed, by signal.",
		}, []string{"signal"}),
		RecordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otelstore_records_dropped_total",
			Help: "Records dropped before commit, by signal and reason.",
		}, []string{"signal", "reason"}),
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otelstore_batches_total",
			Help: "Export batches handled, by signal.",
		}, []string{"signal"}),
		BatchesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otelstore_batches_failed_total",
			Help: "Export batches failed, by signal and error kind.",
		}, []string{"signal", "kind"}),
		DimensionUpserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otelstore_dimension_upserts_total",
			Help: "Dimension rows created, by dimension.",
		}, []string{"dimension"}),
		registry: reg,
	}
}

// Serve exposes /metrics on addr until the server fails. Callers run it
// in a goroutine; an empty addr was filtered out by the caller.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
