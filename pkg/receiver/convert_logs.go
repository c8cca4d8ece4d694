// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package receiver

import (
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// convertLogs maps a wire Export request onto the neutral batch. Trace
// correlation ids are optional on logs, so a malformed id clears the
// field rather than rejecting the record.
func convertLogs(req *collogspb.ExportLogsServiceRequest) (*telemetry.LogBatch, int) {
	batch := &telemetry.LogBatch{}
	for _, rl := range req.ResourceLogs {
		if rl == nil {
			continue
		}
		out := telemetry.ResourceLogs{Resource: convertResource(rl.Resource, rl.SchemaUrl)}
		for _, sl := range rl.ScopeLogs {
			if sl == nil {
				continue
			}
			scope := telemetry.ScopeLogs{Scope: convertScope(sl.Scope, sl.SchemaUrl)}
			for _, rec := range sl.LogRecords {
				if rec == nil {
					continue
				}
				scope.Records = append(scope.Records, convertLogRecord(rec))
			}
			if len(scope.Records) > 0 {
				out.Scopes = append(out.Scopes, scope)
			}
		}
		if len(out.Scopes) > 0 {
			batch.Resources = append(batch.Resources, out)
		}
	}
	return batch, 0
}

func convertLogRecord(rec *logspb.LogRecord) telemetry.LogRecord {
	out := telemetry.LogRecord{
		TimeUnixNano:           rec.TimeUnixNano,
		ObservedTimeUnixNano:   rec.ObservedTimeUnixNano,
		SeverityNumber:         clampEnum(int32(rec.SeverityNumber), 24),
		SeverityText:           rec.SeverityText,
		Body:                   convertAnyValue(rec.Body),
		Attributes:             convertKeyValues(rec.Attributes),
		DroppedAttributesCount: rec.DroppedAttributesCount,
		Flags:                  rec.Flags,
		TraceID:                traceIDHex(rec.TraceId),
		SpanID:                 spanIDHex(rec.SpanId),
		TraceFlags:             rec.Flags & 0xff,
	}
	return out
}
