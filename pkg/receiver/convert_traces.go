// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package receiver

import (
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// convertTraces maps a wire Export request onto the neutral batch.
// Spans whose ids do not decode are rejected here; the count feeds the
// partial-success response.
func convertTraces(req *coltracepb.ExportTraceServiceRequest) (*telemetry.TraceBatch, int) {
	batch := &telemetry.TraceBatch{}
	rejected := 0
	for _, rs := range req.ResourceSpans {
		if rs == nil {
			continue
		}
		out := telemetry.ResourceSpans{Resource: convertResource(rs.Resource, rs.SchemaUrl)}
		for _, ss := range rs.ScopeSpans {
			if ss == nil {
				continue
			}
			scope := telemetry.ScopeSpans{Scope: convertScope(ss.Scope, ss.SchemaUrl)}
			for _, span := range ss.Spans {
				if span == nil {
					continue
				}
				converted, ok := convertSpan(span)
				if !ok {
					rejected++
					continue
				}
				scope.Spans = append(scope.Spans, converted)
			}
			if len(scope.Spans) > 0 {
				out.Scopes = append(out.Scopes, scope)
			}
		}
		if len(out.Scopes) > 0 {
			batch.Resources = append(batch.Resources, out)
		}
	}
	return batch, rejected
}

func convertSpan(span *tracepb.Span) (telemetry.Span, bool) {
	traceID := traceIDHex(span.TraceId)
	spanID := spanIDHex(span.SpanId)
	if traceID == "" || spanID == "" {
		return telemetry.Span{}, false
	}
	out := telemetry.Span{
		TraceID:                traceID,
		SpanID:                 spanID,
		ParentSpanID:           spanIDHex(span.ParentSpanId),
		TraceState:             span.TraceState,
		Flags:                  span.Flags,
		Name:                   span.Name,
		Kind:                   clampEnum(int32(span.Kind), 5),
		StartTimeUnixNano:      span.StartTimeUnixNano,
		EndTimeUnixNano:        span.EndTimeUnixNano,
		Attributes:             convertKeyValues(span.Attributes),
		DroppedAttributesCount: span.DroppedAttributesCount,
		DroppedEventsCount:     span.DroppedEventsCount,
		DroppedLinksCount:      span.DroppedLinksCount,
	}
	if span.Status != nil {
		out.StatusCode = clampEnum(int32(span.Status.Code), 2)
		out.StatusMessage = span.Status.Message
	}
	for _, e := range span.Events {
		if e == nil {
			continue
		}
		out.Events = append(out.Events, telemetry.SpanEvent{
			TimeUnixNano:           e.TimeUnixNano,
			Name:                   e.Name,
			Attributes:             convertKeyValues(e.Attributes),
			DroppedAttributesCount: e.DroppedAttributesCount,
		})
	}
	for _, l := range span.Links {
		if l == nil {
			continue
		}
		out.Links = append(out.Links, telemetry.SpanLink{
			TraceID:                traceIDHex(l.TraceId),
			SpanID:                 spanIDHex(l.SpanId),
			TraceState:             l.TraceState,
			Flags:                  l.Flags,
			Attributes:             convertKeyValues(l.Attributes),
			DroppedAttributesCount: l.DroppedAttributesCount,
		})
	}
	return out, true
}
