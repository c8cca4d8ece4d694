// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package storage persists OTLP batches into the otel_* star schema:
// hash-deduplicated dimensions, an attribute-key registry, typed
// attribute tables with a JSON catch-all, and one fact transaction per
// batch.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor is the subset of pgx used by the storage layer. Both pool
// connections and transactions satisfy it, and tests fake it without a
// server.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is a fact-insert transaction.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner starts fact transactions. *DB implements it on the
// transactional pool.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// DB bundles the two connection pools. Dimension upserts go through
// Auto, where every statement commits on its own; fact batches go
// through transactions started on the transactional pool. The split
// keeps dimension writes out of long-lived transactions so they never
// compete with fact inserts for pool slots.
type DB struct {
	auto *pgxpool.Pool
	tx   *pgxpool.Pool
}

// Open connects both pools. The same connection string is used for
// both; only the pool sizes differ.
func Open(ctx context.Context, url string, autoSize, txSize int32) (*DB, error) {
	auto, err := openPool(ctx, url, autoSize)
	if err != nil {
		return nil, fmt.Errorf("autocommit pool: %w", err)
	}
	tx, err := openPool(ctx, url, txSize)
	if err != nil {
		auto.Close()
		return nil, fmt.Errorf("transactional pool: %w", err)
	}
	return &DB{auto: auto, tx: tx}, nil
}

func openPool(ctx context.Context, url string, size int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		cfg.MaxConns = size
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Auto returns the autocommit executor.
func (d *DB) Auto() Executor { return d.auto }

// BeginTx starts one per-batch fact transaction.
func (d *DB) BeginTx(ctx context.Context) (Tx, error) {
	t, err := d.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTxAdapter{t}, nil
}

// Ping verifies both pools can reach the server.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.auto.Ping(ctx); err != nil {
		return err
	}
	return d.tx.Ping(ctx)
}

// Close releases both pools.
func (d *DB) Close() {
	d.auto.Close()
	d.tx.Close()
}

type pgxTxAdapter struct {
	tx pgx.Tx
}

func (a pgxTxAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.tx.Exec(ctx, sql, args...)
}

func (a pgxTxAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.tx.QueryRow(ctx, sql, args...)
}

func (a pgxTxAdapter) Commit(ctx context.Context) error   { return a.tx.Commit(ctx) }
func (a pgxTxAdapter) Rollback(ctx context.Context) error { return a.tx.Rollback(ctx) }
