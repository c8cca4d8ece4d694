// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// Dimension identity hashing. The serialization is deterministic: pairs
// sorted by key, a type tag on every value, no whitespace. Identical
// semantic content hashes identically regardless of producer ordering.

// HashAttributes returns the 64-char lowercase hex SHA-256 identity of
// an attribute set.
func HashAttributes(attrs []telemetry.KeyValue) string {
	var b strings.Builder
	writeCanonicalPairs(&b, attrs)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashScope returns the identity hash of an instrumentation scope.
// Scope attributes are stored in the typed attribute tables and do not
// participate in the identity.
func HashScope(name, version, schemaURL string) string {
	var b strings.Builder
	b.WriteString("name=")
	b.WriteString(name)
	b.WriteString(";version=")
	b.WriteString(version)
	b.WriteString(";schema_url=")
	b.WriteString(schemaURL)
	b.WriteString(";")
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashMetric returns the identity hash of a metric dimension. The
// description is deliberately excluded: it may vary without forcing a
// new identity.
func HashMetric(name string, mtype telemetry.MetricType, unit string, temporality int16, monotonic bool) string {
	var b strings.Builder
	b.WriteString("name=")
	b.WriteString(name)
	b.WriteString(";type=")
	b.WriteString(mtype.String())
	b.WriteString(";unit=")
	b.WriteString(unit)
	b.WriteString(";temporality=")
	b.WriteString(strconv.Itoa(int(temporality)))
	b.WriteString(";monotonic=")
	b.WriteString(strconv.FormatBool(monotonic))
	b.WriteString(";")
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalPairs(b *strings.Builder, attrs []telemetry.KeyValue) {
	sorted := make([]telemetry.KeyValue, len(attrs))
	copy(sorted, attrs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for _, kv := range sorted {
		b.WriteString(kv.Key)
		b.WriteByte('=')
		writeCanonicalValue(b, kv.Value)
		b.WriteByte(';')
	}
}

func writeCanonicalValue(b *strings.Builder, v telemetry.AnyValue) {
	switch v.Type {
	case telemetry.ValueTypeString:
		b.WriteString("s:")
		b.WriteString(v.Str)
	case telemetry.ValueTypeInt:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case telemetry.ValueTypeDouble:
		b.WriteString("d:")
		b.WriteString(strconv.FormatFloat(v.Double, 'g', -1, 64))
	case telemetry.ValueTypeBool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(v.Bool))
	case telemetry.ValueTypeBytes:
		b.WriteString("x:")
		b.WriteString(hex.EncodeToString(v.Bytes))
	case telemetry.ValueTypeArray:
		// Element order is semantic for arrays and is preserved.
		b.WriteString("a:[")
		for i, e := range v.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, e)
		}
		b.WriteByte(']')
	case telemetry.ValueTypeKvList:
		b.WriteString("k:{")
		writeCanonicalPairs(b, v.KvList)
		b.WriteByte('}')
	default:
		b.WriteString("e:")
	}
}
