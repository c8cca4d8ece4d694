// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ExpectedSchemaVersion is the migration marker this build requires.
// The migration artifact stamps schema_migrations when it applies the
// otel_* schema.
const ExpectedSchemaVersion int64 = 12

// State is the supervisor's opinion on accepting traffic.
type State int

// Supervisor states. ReadOnly covers a schema present but marked
// mid-migration: ingest sheds load with a retryable status while
// queries elsewhere keep working.
const (
	StateNotReady State = iota
	StateReadOnly
	StateReady
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateReadOnly:
		return "read-only"
	}
	return "not-ready"
}

// requiredTables are probed every interval. Facts and typed attribute
// tables are created by the same migration, so probing the anchors is
// enough.
var requiredTables = []string{
	"attribute_keys",
	"otel_resources",
	"otel_scopes",
	"otel_logs_fact",
	"otel_spans_fact",
	"otel_metrics_data_points_number",
}

// ReadinessSupervisor polls the database schema and flips the serving
// state. Liveness is not its concern; the process is live while it
// runs.
type ReadinessSupervisor struct {
	db       Executor
	interval time.Duration
	log      *zap.Logger
	onChange func(State)

	mu    sync.RWMutex
	state State
}

// NewReadinessSupervisor builds a supervisor. onChange fires on every
// transition (not every poll) and may be nil.
func NewReadinessSupervisor(db Executor, interval time.Duration, log *zap.Logger, onChange func(State)) *ReadinessSupervisor {
	return &ReadinessSupervisor{db: db, interval: interval, log: log, onChange: onChange, state: StateNotReady}
}

// State returns the current opinion.
func (r *ReadinessSupervisor) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Ready is a convenience for handlers.
func (r *ReadinessSupervisor) Ready() bool { return r.State() == StateReady }

// Run polls until ctx is cancelled. The first check retries with
// exponential backoff so a database that is still booting does not
// flood the log.
func (r *ReadinessSupervisor) Run(ctx context.Context) {
	probe := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	_ = backoff.Retry(func() error {
		if err := r.check(ctx); err != nil {
			return err
		}
		return nil
	}, probe)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.check(ctx); err != nil {
				r.transition(StateNotReady, err)
			}
		}
	}
}

// check probes the schema and transitions the state accordingly.
func (r *ReadinessSupervisor) check(ctx context.Context) error {
	for _, table := range requiredTables {
		var present bool
		if err := r.db.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&present); err != nil {
			return err
		}
		if !present {
			r.transition(StateNotReady, nil)
			return nil
		}
	}

	var version int64
	var dirty bool
	if err := r.db.QueryRow(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty); err != nil {
		return err
	}
	switch {
	case dirty:
		r.transition(StateReadOnly, nil)
	case version != ExpectedSchemaVersion:
		r.transition(StateNotReady, nil)
	default:
		r.transition(StateReady, nil)
	}
	return nil
}

func (r *ReadinessSupervisor) transition(next State, cause error) {
	r.mu.Lock()
	prev := r.state
	r.state = next
	r.mu.Unlock()
	if prev == next {
		return
	}
	if cause != nil {
		r.log.Warn("readiness transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
			zap.Error(cause))
	} else {
		r.log.Info("readiness transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
	if r.onChange != nil {
		r.onChange(next)
	}
}
