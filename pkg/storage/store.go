// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// StoreResult reports what a batch produced. Rejected counts feed the
// OTLP partial-success response.
type StoreResult struct {
	Accepted int
	Rejected int
}

// newCorrelationID returns a short random id attached to permanent
// batch failures so operators can pair a client error with the server
// log line.
func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// runFactTx runs fn inside one fact transaction. Dimension writes
// already committed by the time this runs are idempotent, so a rollback
// here loses nothing that a resend will not recreate.
func runFactTx(ctx context.Context, db TxBeginner, fn func(tx Tx) error) *BatchError {
	correlation := newCorrelationID()
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return classifyError(ctx, err, correlation)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return classifyError(ctx, err, correlation)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyError(ctx, err, correlation)
	}
	return nil
}

// warmKeys upserts every attribute key in the given bags on the
// autocommit connection, so the fact transaction later resolves ids
// from cache. Part of the batch's dimension phase.
func warmKeys(ctx context.Context, keys *KeyRegistry, bags ...[]telemetry.KeyValue) error {
	seen := make(map[string]struct{})
	for _, bag := range bags {
		for _, kv := range bag {
			if _, ok := seen[kv.Key]; ok {
				continue
			}
			seen[kv.Key] = struct{}{}
			if _, err := keys.GetOrCreateKeyID(ctx, kv.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// isHex reports whether s is lowercase hex of length n.
func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
