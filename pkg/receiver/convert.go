// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package receiver

import (
	"encoding/hex"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// Wire id lengths. OTLP carries trace ids as 16 raw bytes and span ids
// as 8; storage wants 32/16 lowercase hex.
const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

// traceIDHex normalizes a wire trace id. An all-zero or wrong-length id
// yields "", which validation treats as absent or invalid depending on
// the record.
func traceIDHex(raw []byte) string {
	if len(raw) != traceIDBytes || allZero(raw) {
		return ""
	}
	return hex.EncodeToString(raw)
}

func spanIDHex(raw []byte) string {
	if len(raw) != spanIDBytes || allZero(raw) {
		return ""
	}
	return hex.EncodeToString(raw)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// convertAnyValue maps the wire AnyValue union onto the tagged variant.
func convertAnyValue(v *commonpb.AnyValue) telemetry.AnyValue {
	if v == nil {
		return telemetry.AnyValue{}
	}
	switch val := v.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return telemetry.StringValue(val.StringValue)
	case *commonpb.AnyValue_IntValue:
		return telemetry.IntValue(val.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return telemetry.DoubleValue(val.DoubleValue)
	case *commonpb.AnyValue_BoolValue:
		return telemetry.BoolValue(val.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return telemetry.BytesValue(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		if val.ArrayValue == nil {
			return telemetry.AnyValue{}
		}
		arr := make([]telemetry.AnyValue, len(val.ArrayValue.Values))
		for i, e := range val.ArrayValue.Values {
			arr[i] = convertAnyValue(e)
		}
		return telemetry.ArrayValue(arr...)
	case *commonpb.AnyValue_KvlistValue:
		if val.KvlistValue == nil {
			return telemetry.AnyValue{}
		}
		return telemetry.KvListValue(convertKeyValues(val.KvlistValue.Values)...)
	}
	return telemetry.AnyValue{}
}

func convertKeyValues(kvs []*commonpb.KeyValue) []telemetry.KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]telemetry.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		if kv == nil {
			continue
		}
		out = append(out, telemetry.KeyValue{Key: kv.Key, Value: convertAnyValue(kv.Value)})
	}
	return out
}

func convertResource(res *resourcepb.Resource, schemaURL string) telemetry.Resource {
	out := telemetry.Resource{SchemaURL: schemaURL}
	if res != nil {
		out.Attributes = convertKeyValues(res.Attributes)
		out.DroppedAttributesCount = res.DroppedAttributesCount
	}
	return out
}

func convertScope(scope *commonpb.InstrumentationScope, schemaURL string) telemetry.Scope {
	out := telemetry.Scope{SchemaURL: schemaURL}
	if scope != nil {
		out.Name = scope.Name
		out.Version = scope.Version
		out.Attributes = convertKeyValues(scope.Attributes)
		out.DroppedAttributesCount = scope.DroppedAttributesCount
	}
	return out
}

// clampEnum maps unknown wire enum values onto the UNSPECIFIED/UNSET
// reference row.
func clampEnum(v int32, max int32) int16 {
	if v < 0 || v > max {
		return 0
	}
	return int16(v)
}
