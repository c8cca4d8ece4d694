// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads the process configuration from environment
// variables (OTELSTORE_ prefix) and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the ingester.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string, typically
	// materialized from a secret mount. Required.
	DatabaseURL string

	// PromoteBase is the path of the baked-in promotion config.
	// Required; the process refuses to start without it.
	PromoteBase string
	// PromoteOverride is the path of the operator override promotion
	// config. Optional; skipped when absent.
	PromoteOverride string

	// ListenAddr is the OTLP gRPC listen address.
	ListenAddr string
	// MetricsAddr is the prometheus /metrics listen address; empty
	// disables the listener.
	MetricsAddr string

	// AutoPoolSize and TxPoolSize bound the two connection pools.
	AutoPoolSize int32
	TxPoolSize   int32

	// Workers bounds concurrently handled Export RPCs; QueueDepth is
	// how many more may wait before the server sheds load.
	Workers    int64
	QueueDepth int64

	// LastSeenThreshold is how stale a dimension's last_seen must be
	// before a refresh write is issued.
	LastSeenThreshold time.Duration
	// CacheTTL expires in-process hash→id mappings.
	CacheTTL time.Duration
	// HealthInterval is the readiness supervisor poll interval.
	HealthInterval time.Duration

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4343")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("auto_pool_size", 8)
	v.SetDefault("tx_pool_size", 8)
	v.SetDefault("workers", 16)
	v.SetDefault("queue_depth", 64)
	v.SetDefault("last_seen_threshold", 300*time.Second)
	v.SetDefault("cache_ttl", 1800*time.Second)
	v.SetDefault("health_interval", time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("promote_base", "")
	v.SetDefault("promote_override", "")
	v.SetDefault("database_url", "")
}

// Load builds the configuration. confPath may be empty; when set, the
// YAML file is read first and environment variables win over it.
func Load(confPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OTELSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if confPath != "" {
		v.SetConfigFile(confPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", confPath, err)
		}
	}

	c := &Config{
		DatabaseURL:       v.GetString("database_url"),
		PromoteBase:       v.GetString("promote_base"),
		PromoteOverride:   v.GetString("promote_override"),
		ListenAddr:        v.GetString("listen_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		AutoPoolSize:      v.GetInt32("auto_pool_size"),
		TxPoolSize:        v.GetInt32("tx_pool_size"),
		Workers:           v.GetInt64("workers"),
		QueueDepth:        v.GetInt64("queue_depth"),
		LastSeenThreshold: v.GetDuration("last_seen_threshold"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		HealthInterval:    v.GetDuration("health_interval"),
		LogLevel:          v.GetString("log_level"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (OTELSTORE_DATABASE_URL)")
	}
	if c.PromoteBase == "" {
		return nil, fmt.Errorf("promote_base is required (OTELSTORE_PROMOTE_BASE)")
	}
	if c.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return c, nil
}
