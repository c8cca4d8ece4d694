// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/otelstore/otelstore/pkg/internaltelemetry"
	"github.com/otelstore/otelstore/pkg/promote"
)

type call struct {
	sql  string
	args []any
}

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeAuto stands in for the autocommit executor: key upserts hand out
// sequential ids, dimension upserts hand out sequential ids and report
// created on first sight.
type fakeAuto struct {
	mu      sync.Mutex
	execs   []call
	queries []call

	keyIDs map[string]int32
	dimIDs map[string]int64

	execErr  error
	queryErr error
}

func newFakeAuto() *fakeAuto {
	return &fakeAuto{keyIDs: make(map[string]int32), dimIDs: make(map[string]int64)}
}

func (f *fakeAuto) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, call{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeAuto) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, call{sql: sql, args: args})
	if f.queryErr != nil {
		err := f.queryErr
		return fakeRow{scan: func(...any) error { return err }}
	}
	switch {
	case strings.Contains(sql, "attribute_keys"):
		name := args[0].(string)
		id, ok := f.keyIDs[name]
		if !ok {
			id = int32(len(f.keyIDs) + 1)
			f.keyIDs[name] = id
		}
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*int32) = id
			return nil
		}}
	case strings.Contains(sql, "otel_resources"), strings.Contains(sql, "otel_scopes"):
		hash := args[0].(string)
		id, ok := f.dimIDs[hash]
		if !ok {
			id = int64(len(f.dimIDs) + 1)
			f.dimIDs[hash] = id
		}
		created := !ok
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*int64) = id
			*dest[1].(*bool) = created
			return nil
		}}
	case strings.Contains(sql, "otel_metrics"):
		hash := args[0].(string)
		id, ok := f.dimIDs[hash]
		if !ok {
			id = int64(len(f.dimIDs) + 1)
			f.dimIDs[hash] = id
		}
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*int64) = id
			return nil
		}}
	}
	return fakeRow{scan: func(...any) error { return errors.New("unexpected query: " + sql) }}
}

func (f *fakeAuto) execCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.execs {
		if strings.Contains(c.sql, substr) {
			n++
		}
	}
	return n
}

func (f *fakeAuto) queryCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.queries {
		if strings.Contains(c.sql, substr) {
			n++
		}
	}
	return n
}

// fakeTx records fact inserts and hands out sequential primary keys.
type fakeTx struct {
	mu         sync.Mutex
	execs      []call
	queries    []call
	nextID     int64
	scanErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execs = append(t.execs, call{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append(t.queries, call{sql: sql, args: args})
	if t.scanErr != nil {
		err := t.scanErr
		return fakeRow{scan: func(...any) error { return err }}
	}
	t.nextID++
	id := t.nextID
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int64) = id
		return nil
	}}
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

func (t *fakeTx) execCount(substr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.execs {
		if strings.Contains(c.sql, substr) {
			n++
		}
	}
	return n
}

type fakeBeginner struct {
	tx       *fakeTx
	begun    int
	beginErr error
}

func (b *fakeBeginner) BeginTx(context.Context) (Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.begun++
	return b.tx, nil
}

const testBasePolicy = `
promote:
  resource:
    string: ["service.name", "host.name"]
  spans:
    string: ["http.method"]
    int: ["http.status_code"]
  logs:
    string: ["log.source"]
  metrics:
    string: ["deployment.environment"]
`

const testOverridePolicy = `
promote:
  spans:
    string: ["rpc.system"]
drop:
  spans: ["secret.token"]
  resource: ["process.pid"]
`

func testPolicy(t *testing.T) *promote.Policy {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(testBasePolicy), 0o600))
	override := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(override, []byte(testOverridePolicy), 0o600))
	p, err := promote.Load(base, override)
	require.NoError(t, err)
	return p
}

// testEnv wires the storage layer over fakes.
type testEnv struct {
	auto    *fakeAuto
	tx      *fakeTx
	db      *fakeBeginner
	keys    *KeyRegistry
	attrs   *AttrRouter
	res     *ResourceManager
	scopes  *ScopeManager
	dims    *MetricDimManager
	metrics *internaltelemetry.Metrics
	log     *zap.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	auto := newFakeAuto()
	keys := NewKeyRegistry(auto)
	attrs := NewAttrRouter(keys, testPolicy(t))
	tx := &fakeTx{}
	return &testEnv{
		auto:    auto,
		tx:      tx,
		db:      &fakeBeginner{tx: tx},
		keys:    keys,
		attrs:   attrs,
		res:     NewResourceManager(auto, attrs, time.Hour, time.Hour),
		scopes:  NewScopeManager(auto, attrs, time.Hour, time.Hour),
		dims:    NewMetricDimManager(auto, time.Hour, time.Hour),
		metrics: internaltelemetry.New(),
		log:     zap.NewNop(),
	}
}
