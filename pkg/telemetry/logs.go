// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

// LogBatch is one Export request worth of log records.
type LogBatch struct {
	Resources []ResourceLogs
}

// ResourceLogs groups the log records of one resource.
type ResourceLogs struct {
	Resource Resource
	Scopes   []ScopeLogs
}

// ScopeLogs groups the log records of one instrumentation scope.
type ScopeLogs struct {
	Scope   Scope
	Records []LogRecord
}

// LogRecord is one log record. Trace correlation ids are normalized
// lowercase hex or empty.
type LogRecord struct {
	TimeUnixNano         uint64
	ObservedTimeUnixNano uint64

	SeverityNumber int16
	SeverityText   string

	// Body is the full AnyValue body; ValueTypeEmpty means absent.
	Body AnyValue

	Attributes             []KeyValue
	DroppedAttributesCount uint32

	Flags      uint32
	TraceID    string
	SpanID     string
	TraceFlags uint32
}

// RecordCount returns the number of log records across all groups.
func (b *LogBatch) RecordCount() int {
	n := 0
	for _, rl := range b.Resources {
		for _, sl := range rl.Scopes {
			n += len(sl.Records)
		}
	}
	return n
}
