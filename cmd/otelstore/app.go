// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/otelstore/otelstore/pkg/config"
	"github.com/otelstore/otelstore/pkg/internaltelemetry"
	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/receiver"
	"github.com/otelstore/otelstore/pkg/storage"
)

const shutdownGrace = 10 * time.Second

// runApp is the composition root: policy, pools, registries, storages,
// receiver, supervisor.
func runApp(ctx context.Context, confPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(confPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	// Missing base config is fatal by contract; a missing override is
	// an operator choice.
	policy, err := promote.Load(cfg.PromoteBase, cfg.PromoteOverride)
	if err != nil {
		log.Error("loading promotion policy", zap.Error(err))
		return err
	}

	db, err := storage.Open(ctx, cfg.DatabaseURL, cfg.AutoPoolSize, cfg.TxPoolSize)
	if err != nil {
		log.Error("opening database pools", zap.Error(err))
		return err
	}
	defer db.Close()

	metrics := internaltelemetry.New()
	keys := storage.NewKeyRegistry(db.Auto())
	attrs := storage.NewAttrRouter(keys, policy)
	resources := storage.NewResourceManager(db.Auto(), attrs, cfg.CacheTTL, cfg.LastSeenThreshold)
	scopes := storage.NewScopeManager(db.Auto(), attrs, cfg.CacheTTL, cfg.LastSeenThreshold)
	metricDims := storage.NewMetricDimManager(db.Auto(), cfg.CacheTTL, cfg.LastSeenThreshold)

	traces := storage.NewTracesStorage(db, resources, scopes, attrs, keys, metrics, log)
	logs := storage.NewLogsStorage(db, resources, scopes, attrs, keys, metrics, log)
	metricsStore := storage.NewMetricsStorage(db, resources, scopes, metricDims, attrs, keys, metrics, log)

	var rcv *receiver.Receiver
	supervisor := storage.NewReadinessSupervisor(db.Auto(), cfg.HealthInterval, log, func(s storage.State) {
		if rcv != nil {
			rcv.SetReady(s)
		}
	})
	rcv = receiver.New(receiver.Config{
		ListenAddr: cfg.ListenAddr,
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
	}, traces, logs, metricsStore, supervisor, log)

	go supervisor.Run(ctx)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	if err := rcv.Start(); err != nil {
		log.Error("starting receiver", zap.Error(err))
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	rcv.Stop(shutdownGrace)
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
