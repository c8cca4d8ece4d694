// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

// Resource describes the entity that produced a group of records.
type Resource struct {
	Attributes             []KeyValue
	DroppedAttributesCount uint32
	SchemaURL              string
}

// Scope is the instrumentation scope that produced a group of records.
type Scope struct {
	Name                   string
	Version                string
	SchemaURL              string
	Attributes             []KeyValue
	DroppedAttributesCount uint32
}

// TraceBatch is one Export request worth of spans, grouped the way the
// wire groups them: resource → scope → span.
type TraceBatch struct {
	Resources []ResourceSpans
}

// ResourceSpans groups the spans of one resource.
type ResourceSpans struct {
	Resource Resource
	Scopes   []ScopeSpans
}

// ScopeSpans groups the spans of one instrumentation scope.
type ScopeSpans struct {
	Scope Scope
	Spans []Span
}

// Span is one span record. Trace and span ids are already normalized to
// lowercase hex (32 and 16 characters); ParentSpanID is empty for roots.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	TraceState   string
	Flags        uint32

	Name string
	Kind int16 // 0-5, SPAN_KIND_UNSPECIFIED..CONSUMER

	StartTimeUnixNano uint64
	EndTimeUnixNano   uint64

	Attributes             []KeyValue
	DroppedAttributesCount uint32

	Events             []SpanEvent
	DroppedEventsCount uint32
	Links              []SpanLink
	DroppedLinksCount  uint32

	StatusCode    int16 // 0-2, UNSET/OK/ERROR
	StatusMessage string
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	TimeUnixNano           uint64
	Name                   string
	Attributes             []KeyValue
	DroppedAttributesCount uint32
}

// SpanLink points at another span.
type SpanLink struct {
	TraceID                string
	SpanID                 string
	TraceState             string
	Flags                  uint32
	Attributes             []KeyValue
	DroppedAttributesCount uint32
}

// SpanCount returns the number of spans across all groups.
func (b *TraceBatch) SpanCount() int {
	n := 0
	for _, rs := range b.Resources {
		for _, ss := range rs.Scopes {
			n += len(ss.Spans)
		}
	}
	return n
}
