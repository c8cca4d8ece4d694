// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

func newTestRouter(t *testing.T) (*AttrRouter, *fakeAuto) {
	t.Helper()
	auto := newFakeAuto()
	return NewAttrRouter(NewKeyRegistry(auto), testPolicy(t)), auto
}

func TestRouteSplitsPromotedAndOther(t *testing.T) {
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.method", Value: telemetry.StringValue("GET")},
		{Key: "http.status_code", Value: telemetry.IntValue(200)},
		{Key: "custom.tag", Value: telemetry.StringValue("x")},
	})
	require.NoError(t, err)

	require.Len(t, routed.Promoted, 2)
	promoted := map[string]telemetry.AnyValue{}
	for _, p := range routed.Promoted {
		assert.NotZero(t, p.KeyID)
		promoted[p.Key] = p.Value
	}
	assert.Equal(t, "GET", promoted["http.method"].Str)
	assert.Equal(t, int64(200), promoted["http.status_code"].Int)

	assert.Equal(t, map[string]interface{}{"custom.tag": "x"}, routed.Other)
}

func TestRouteValueTypeMismatchGoesToOther(t *testing.T) {
	// http.method is promoted for strings only; an int lands in the
	// catch-all.
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.method", Value: telemetry.IntValue(7)},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Equal(t, map[string]interface{}{"http.method": int64(7)}, routed.Other)
}

func TestRouteDroppedKeyAppearsNowhere(t *testing.T) {
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "secret.token", Value: telemetry.StringValue("hunter2")},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Empty(t, routed.Other)
}

func TestRouteDropIsPerSignal(t *testing.T) {
	// secret.token is dropped for spans only.
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalLogs, []telemetry.KeyValue{
		{Key: "secret.token", Value: telemetry.StringValue("hunter2")},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"secret.token": "hunter2"}, routed.Other)
}

func TestRouteComplexValuesStayInOther(t *testing.T) {
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "tags", Value: telemetry.ArrayValue(telemetry.StringValue("a"), telemetry.StringValue("b"))},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Equal(t, map[string]interface{}{"tags": []interface{}{"a", "b"}}, routed.Other)
}

func TestRouteSkipsEmptyValues(t *testing.T) {
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "nothing", Value: telemetry.AnyValue{}},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Empty(t, routed.Other)
}

func TestRouteDuplicateKeyLastWins(t *testing.T) {
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.method", Value: telemetry.StringValue("GET")},
		{Key: "http.method", Value: telemetry.StringValue("POST")},
	})
	require.NoError(t, err)
	require.Len(t, routed.Promoted, 1)
	assert.Equal(t, "POST", routed.Promoted[0].Value.Str)
}

func TestRouteDuplicateMixedTypesSingleDestination(t *testing.T) {
	// When a key repeats with different value types only the last
	// occurrence counts; the key must never land in both destinations.
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.method", Value: telemetry.StringValue("GET")},
		{Key: "http.method", Value: telemetry.IntValue(7)},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Equal(t, map[string]interface{}{"http.method": int64(7)}, routed.Other)

	routed, err = router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.method", Value: telemetry.IntValue(7)},
		{Key: "http.method", Value: telemetry.StringValue("GET")},
	})
	require.NoError(t, err)
	require.Len(t, routed.Promoted, 1)
	assert.Equal(t, "GET", routed.Promoted[0].Value.Str)
	assert.Empty(t, routed.Other)
}

func TestRouteIntAsStringPromoted(t *testing.T) {
	// http.status_code is promoted for ints; a numeric string coerces.
	router, _ := newTestRouter(t)
	routed, err := router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.status_code", Value: telemetry.StringValue("200")},
	})
	require.NoError(t, err)
	require.Len(t, routed.Promoted, 1)
	assert.Equal(t, telemetry.ValueTypeInt, routed.Promoted[0].Value.Type)
	assert.Equal(t, int64(200), routed.Promoted[0].Value.Int)
	assert.Empty(t, routed.Other)

	// A non-numeric string stays a string and lands in the catch-all.
	routed, err = router.Route(context.Background(), promote.SignalSpans, []telemetry.KeyValue{
		{Key: "http.status_code", Value: telemetry.StringValue("OK")},
	})
	require.NoError(t, err)
	assert.Empty(t, routed.Promoted)
	assert.Equal(t, map[string]interface{}{"http.status_code": "OK"}, routed.Other)
}

func TestInsertPromotedTargetsTypedTables(t *testing.T) {
	router, auto := newTestRouter(t)
	promoted := []PromotedAttr{
		{KeyID: 1, Key: "s", Value: telemetry.StringValue("v")},
		{KeyID: 2, Key: "i", Value: telemetry.IntValue(3)},
		{KeyID: 3, Key: "d", Value: telemetry.DoubleValue(0.5)},
		{KeyID: 4, Key: "b", Value: telemetry.BoolValue(true)},
		{KeyID: 5, Key: "x", Value: telemetry.BytesValue([]byte{0xde})},
	}
	require.NoError(t, router.InsertPromoted(context.Background(), auto, OwnerSpan, 42, promoted))
	assert.Equal(t, 1, auto.execCount("span_attrs_string"))
	assert.Equal(t, 1, auto.execCount("span_attrs_int"))
	assert.Equal(t, 1, auto.execCount("span_attrs_double"))
	assert.Equal(t, 1, auto.execCount("span_attrs_bool"))
	assert.Equal(t, 1, auto.execCount("span_attrs_bytes"))
	for _, c := range auto.execs {
		assert.Equal(t, int64(42), c.args[0])
		assert.Contains(t, c.sql, "ON CONFLICT (owner_id, key_id) DO NOTHING")
	}
}

func TestInsertOther(t *testing.T) {
	router, auto := newTestRouter(t)
	require.NoError(t, router.InsertOther(context.Background(), auto, OwnerResource, 7, map[string]interface{}{"k": "v"}))
	assert.Equal(t, 1, auto.execCount("resource_attrs_other"))

	// An empty catch-all writes nothing.
	require.NoError(t, router.InsertOther(context.Background(), auto, OwnerResource, 7, nil))
	assert.Equal(t, 1, auto.execCount("resource_attrs_other"))
}

func TestMarshalJSONEmptyIsNull(t *testing.T) {
	raw, err := marshalJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = marshalJSON(map[string]interface{}{"a": int64(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}
