// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

func TestHashAttributesOrderIndependent(t *testing.T) {
	a := []telemetry.KeyValue{
		{Key: "service.name", Value: telemetry.StringValue("checkout")},
		{Key: "host.name", Value: telemetry.StringValue("web-1")},
		{Key: "port", Value: telemetry.IntValue(8080)},
	}
	b := []telemetry.KeyValue{
		{Key: "port", Value: telemetry.IntValue(8080)},
		{Key: "host.name", Value: telemetry.StringValue("web-1")},
		{Key: "service.name", Value: telemetry.StringValue("checkout")},
	}
	assert.Equal(t, HashAttributes(a), HashAttributes(b))
	assert.Len(t, HashAttributes(a), 64)
}

func TestHashAttributesValueSensitive(t *testing.T) {
	a := []telemetry.KeyValue{{Key: "k", Value: telemetry.StringValue("v1")}}
	b := []telemetry.KeyValue{{Key: "k", Value: telemetry.StringValue("v2")}}
	assert.NotEqual(t, HashAttributes(a), HashAttributes(b))
}

func TestHashAttributesTypeTagged(t *testing.T) {
	// "1" as a string and 1 as an int are different identities.
	a := []telemetry.KeyValue{{Key: "k", Value: telemetry.StringValue("1")}}
	b := []telemetry.KeyValue{{Key: "k", Value: telemetry.IntValue(1)}}
	assert.NotEqual(t, HashAttributes(a), HashAttributes(b))
}

func TestHashAttributesArrayOrderMatters(t *testing.T) {
	a := []telemetry.KeyValue{{Key: "k", Value: telemetry.ArrayValue(telemetry.IntValue(1), telemetry.IntValue(2))}}
	b := []telemetry.KeyValue{{Key: "k", Value: telemetry.ArrayValue(telemetry.IntValue(2), telemetry.IntValue(1))}}
	assert.NotEqual(t, HashAttributes(a), HashAttributes(b))
}

func TestHashAttributesKvListOrderIndependent(t *testing.T) {
	a := []telemetry.KeyValue{{Key: "k", Value: telemetry.KvListValue(
		telemetry.KeyValue{Key: "x", Value: telemetry.IntValue(1)},
		telemetry.KeyValue{Key: "y", Value: telemetry.IntValue(2)},
	)}}
	b := []telemetry.KeyValue{{Key: "k", Value: telemetry.KvListValue(
		telemetry.KeyValue{Key: "y", Value: telemetry.IntValue(2)},
		telemetry.KeyValue{Key: "x", Value: telemetry.IntValue(1)},
	)}}
	assert.Equal(t, HashAttributes(a), HashAttributes(b))
}

func TestHashScope(t *testing.T) {
	assert.Equal(t,
		HashScope("lib", "1.0", ""),
		HashScope("lib", "1.0", ""))
	assert.NotEqual(t,
		HashScope("lib", "1.0", ""),
		HashScope("lib", "1.1", ""))
	assert.NotEqual(t,
		HashScope("lib", "", ""),
		HashScope("", "lib", ""))
}

func TestHashMetricIdentity(t *testing.T) {
	a := HashMetric("http.duration", telemetry.MetricTypeHistogram, "ms", 2, false)
	assert.Equal(t, a, HashMetric("http.duration", telemetry.MetricTypeHistogram, "ms", 2, false))
	assert.NotEqual(t, a, HashMetric("http.duration", telemetry.MetricTypeHistogram, "s", 2, false))
	assert.NotEqual(t, a, HashMetric("http.duration", telemetry.MetricTypeHistogram, "ms", 1, false))
	assert.NotEqual(t, a, HashMetric("http.duration", telemetry.MetricTypeSum, "ms", 2, false))
	assert.NotEqual(t, a, HashMetric("http.duration", telemetry.MetricTypeHistogram, "ms", 2, true))
}
