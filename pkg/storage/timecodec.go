// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import "time"

// PostgreSQL timestamptz resolves microseconds, so every OTLP
// nanosecond timestamp is split into (timestamp truncated to the
// microsecond, remainder 0-999) and recombined on read. The round trip
// is exact.

// SplitNanos encodes an OTLP nanosecond timestamp for storage.
func SplitNanos(unixNano uint64) (ts time.Time, fraction int16) {
	fraction = int16(unixNano % 1000)
	ts = time.Unix(0, int64(unixNano-uint64(fraction))).UTC()
	return ts, fraction
}

// JoinNanos decodes a stored (timestamp, fraction) pair back to OTLP
// nanoseconds.
func JoinNanos(ts time.Time, fraction int16) uint64 {
	return uint64(ts.UnixNano()) + uint64(fraction)
}
