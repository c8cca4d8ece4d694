// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrKind sorts batch failures into the taxonomy the receiver maps to
// gRPC statuses.
type ErrKind int

// The failure kinds a batch can produce. Record-level problems never
// surface here; they are dropped and counted instead.
const (
	// KindTransient: connection loss, serialization failure,
	// deadlock, admin shutdown. The collector should resend.
	KindTransient ErrKind = iota
	// KindPermanent: a constraint or schema violation that a retry
	// cannot fix.
	KindPermanent
	// KindCancelled: the client went away or the deadline expired.
	KindCancelled
)

// BatchError wraps a batch failure with its kind and a correlation id
// for the permanent case.
type BatchError struct {
	Kind          ErrKind
	CorrelationID string
	Err           error
}

func (e *BatchError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s (correlation %s)", e.Err, e.CorrelationID)
	}
	return e.Err.Error()
}

func (e *BatchError) Unwrap() error { return e.Err }

// classifyError maps a database error to the taxonomy. SQLSTATE class
// 08 (connection), 40 (rollback: serialization, deadlock), 53
// (insufficient resources) and 57 (operator intervention) are
// retryable; everything else with a SQLSTATE is permanent.
func classifyError(ctx context.Context, err error, correlation string) *BatchError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &BatchError{Kind: KindCancelled, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "40"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return &BatchError{Kind: KindTransient, Err: err}
		}
		return &BatchError{Kind: KindPermanent, CorrelationID: correlation, Err: err}
	}
	// Network-level failures come back as plain errors from pgx.
	return &BatchError{Kind: KindTransient, Err: err}
}
