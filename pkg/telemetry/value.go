// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry holds the wire-independent representation of OTLP
// batches. The receiver converts protobuf messages into these structures
// and the storage layer never sees wire types.
package telemetry

import (
	"encoding/base64"
	"strconv"
)

// ValueType identifies the variant carried by an AnyValue.
type ValueType int

// The variants of the OTLP AnyValue union. Empty is a value with no
// variant set, which OTLP permits.
const (
	ValueTypeEmpty ValueType = iota
	ValueTypeString
	ValueTypeInt
	ValueTypeDouble
	ValueTypeBool
	ValueTypeBytes
	ValueTypeArray
	ValueTypeKvList
)

// String returns the value-type name used in promotion config documents
// and typed attribute table suffixes.
func (t ValueType) String() string {
	switch t {
	case ValueTypeString:
		return "string"
	case ValueTypeInt:
		return "int"
	case ValueTypeDouble:
		return "double"
	case ValueTypeBool:
		return "bool"
	case ValueTypeBytes:
		return "bytes"
	case ValueTypeArray:
		return "array"
	case ValueTypeKvList:
		return "kvlist"
	}
	return "empty"
}

// Complex reports whether the variant has no typed column form and can
// only be stored in a JSON catch-all.
func (t ValueType) Complex() bool {
	return t == ValueTypeArray || t == ValueTypeKvList
}

// AnyValue is the tagged-variant form of an OTLP AnyValue. Exactly the
// field matching Type is meaningful.
type AnyValue struct {
	Type   ValueType
	Str    string
	Int    int64
	Double float64
	Bool   bool
	Bytes  []byte
	Array  []AnyValue
	KvList []KeyValue
}

// KeyValue is one attribute pair.
type KeyValue struct {
	Key   string
	Value AnyValue
}

// StringValue returns an AnyValue holding s.
func StringValue(s string) AnyValue { return AnyValue{Type: ValueTypeString, Str: s} }

// IntValue returns an AnyValue holding i.
func IntValue(i int64) AnyValue { return AnyValue{Type: ValueTypeInt, Int: i} }

// DoubleValue returns an AnyValue holding d.
func DoubleValue(d float64) AnyValue { return AnyValue{Type: ValueTypeDouble, Double: d} }

// BoolValue returns an AnyValue holding b.
func BoolValue(b bool) AnyValue { return AnyValue{Type: ValueTypeBool, Bool: b} }

// BytesValue returns an AnyValue holding raw bytes.
func BytesValue(b []byte) AnyValue { return AnyValue{Type: ValueTypeBytes, Bytes: b} }

// ArrayValue returns an AnyValue holding the given elements.
func ArrayValue(vs ...AnyValue) AnyValue { return AnyValue{Type: ValueTypeArray, Array: vs} }

// KvListValue returns an AnyValue holding nested pairs.
func KvListValue(kvs ...KeyValue) AnyValue { return AnyValue{Type: ValueTypeKvList, KvList: kvs} }

// AsInt extracts an integer from the value. OTLP permits integer values
// to travel as strings on some encodings, so a string holding a base-10
// integer parses too.
func (v AnyValue) AsInt() (int64, bool) {
	switch v.Type {
	case ValueTypeInt:
		return v.Int, true
	case ValueTypeString:
		i, err := strconv.ParseInt(v.Str, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsString renders the value as a plain string, the same way the trace
// pipeline flattens attribute values into span meta.
func (v AnyValue) AsString() string {
	switch v.Type {
	case ValueTypeString:
		return v.Str
	case ValueTypeInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueTypeDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	case ValueTypeBool:
		return strconv.FormatBool(v.Bool)
	case ValueTypeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case ValueTypeArray:
		s := "["
		for i, e := range v.Array {
			if i > 0 {
				s += ","
			}
			s += e.AsString()
		}
		return s + "]"
	case ValueTypeKvList:
		s := "{"
		for i, kv := range v.KvList {
			if i > 0 {
				s += ","
			}
			s += kv.Key + ":" + kv.Value.AsString()
		}
		return s + "}"
	}
	return ""
}

// Interface converts the value into the json.Marshal-friendly form used
// for JSONB columns. Bytes become base64, kvlists become maps.
func (v AnyValue) Interface() interface{} {
	switch v.Type {
	case ValueTypeString:
		return v.Str
	case ValueTypeInt:
		return v.Int
	case ValueTypeDouble:
		return v.Double
	case ValueTypeBool:
		return v.Bool
	case ValueTypeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case ValueTypeArray:
		arr := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			arr[i] = e.Interface()
		}
		return arr
	case ValueTypeKvList:
		m := make(map[string]interface{}, len(v.KvList))
		for _, kv := range v.KvList {
			m[kv.Key] = kv.Value.Interface()
		}
		return m
	}
	return nil
}

// AttributesMap flattens attribute pairs into the JSON form stored in
// *_attrs_other columns. Later duplicates of a key win, matching
// protobuf map semantics.
func AttributesMap(attrs []KeyValue) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value.Interface()
	}
	return m
}
