// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/otelstore/otelstore/pkg/promote"
	"github.com/otelstore/otelstore/pkg/telemetry"
)

// OwnerKind selects the typed attribute table family an owner row
// writes into.
type OwnerKind string

// The owner kinds with typed attribute tables.
const (
	OwnerResource    OwnerKind = "resource_attrs"
	OwnerScope       OwnerKind = "scope_attrs"
	OwnerLog         OwnerKind = "log_attrs"
	OwnerSpan        OwnerKind = "span_attrs"
	OwnerMetricPoint OwnerKind = "metric_point_attrs"
)

// PromotedAttr is one attribute destined for a typed table.
type PromotedAttr struct {
	KeyID int32
	Key   string
	Value telemetry.AnyValue
}

// RoutedAttrs is the outcome of routing one attribute bag: the typed
// inserts to perform and the JSON catch-all. A key appears in at most
// one of the two, and dropped keys in neither.
type RoutedAttrs struct {
	Promoted []PromotedAttr
	Other    map[string]interface{}
}

// AttrRouter splits attribute bags according to the promotion policy
// and performs the typed-table inserts.
type AttrRouter struct {
	keys   *KeyRegistry
	policy *promote.Policy
}

// NewAttrRouter builds a router over the shared key registry.
func NewAttrRouter(keys *KeyRegistry, policy *promote.Policy) *AttrRouter {
	return &AttrRouter{keys: keys, policy: policy}
}

// Route classifies every pair. Complex values (array, kvlist) can only
// live in the catch-all. Duplicate keys collapse to the last occurrence
// before classification, matching protobuf map semantics, so each key
// resolves to exactly one destination. Integers travelling as strings
// count as ints for keys promoted on the int type. Key ids resolve from
// the registry cache warmed during the batch's dimension phase; a miss
// falls through to the registry's autocommit upsert.
func (r *AttrRouter) Route(ctx context.Context, signal promote.Signal, attrs []telemetry.KeyValue) (RoutedAttrs, error) {
	order := make([]string, 0, len(attrs))
	final := make(map[string]telemetry.AnyValue, len(attrs))
	for _, kv := range attrs {
		if r.policy.Dropped(signal, kv.Key) {
			continue
		}
		if kv.Value.Type == telemetry.ValueTypeEmpty {
			continue
		}
		if _, ok := final[kv.Key]; !ok {
			order = append(order, kv.Key)
		}
		final[kv.Key] = kv.Value
	}

	out := RoutedAttrs{}
	for _, key := range order {
		v := final[key]
		vt := v.Type
		if vt == telemetry.ValueTypeString && r.policy.Classify(signal, key, vt) != promote.Promote {
			if i, ok := v.AsInt(); ok && r.policy.Classify(signal, key, telemetry.ValueTypeInt) == promote.Promote {
				v = telemetry.IntValue(i)
				vt = telemetry.ValueTypeInt
			}
		}
		if !vt.Complex() && r.policy.Classify(signal, key, vt) == promote.Promote {
			keyID, err := r.keys.GetOrCreateKeyID(ctx, key)
			if err != nil {
				return RoutedAttrs{}, err
			}
			out.Promoted = append(out.Promoted, PromotedAttr{KeyID: keyID, Key: key, Value: v})
			continue
		}
		if out.Other == nil {
			out.Other = make(map[string]interface{})
		}
		out.Other[key] = v.Interface()
	}
	return out, nil
}

// InsertPromoted writes the typed rows for one owner. Inserts are
// idempotent under retry (the composite primary key absorbs replays).
func (r *AttrRouter) InsertPromoted(ctx context.Context, x Executor, kind OwnerKind, ownerID int64, promoted []PromotedAttr) error {
	for _, p := range promoted {
		table, value := typedTarget(kind, p.Value)
		if table == "" {
			return fmt.Errorf("attribute %q: no typed table for %s", p.Key, p.Value.Type)
		}
		sql := "INSERT INTO " + table + " (owner_id, key_id, value) VALUES ($1, $2, $3) ON CONFLICT (owner_id, key_id) DO NOTHING"
		if _, err := x.Exec(ctx, sql, ownerID, p.KeyID, value); err != nil {
			return err
		}
	}
	return nil
}

// InsertOther writes the catch-all row for owners that keep it in a
// separate *_attrs_other table (resource and scope dimensions). Fact
// rows carry the JSON on the row itself instead.
func (r *AttrRouter) InsertOther(ctx context.Context, x Executor, kind OwnerKind, ownerID int64, other map[string]interface{}) error {
	if len(other) == 0 {
		return nil
	}
	raw, err := json.Marshal(other)
	if err != nil {
		return err
	}
	sql := "INSERT INTO " + string(kind) + "_other (owner_id, attributes) VALUES ($1, $2) ON CONFLICT (owner_id) DO NOTHING"
	_, err = x.Exec(ctx, sql, ownerID, raw)
	return err
}

// typedTarget maps an owner kind and value to the table name and the
// driver-level value.
func typedTarget(kind OwnerKind, v telemetry.AnyValue) (table string, value interface{}) {
	switch v.Type {
	case telemetry.ValueTypeString:
		return string(kind) + "_string", v.Str
	case telemetry.ValueTypeInt:
		return string(kind) + "_int", v.Int
	case telemetry.ValueTypeDouble:
		return string(kind) + "_double", v.Double
	case telemetry.ValueTypeBool:
		return string(kind) + "_bool", v.Bool
	case telemetry.ValueTypeBytes:
		return string(kind) + "_bytes", v.Bytes
	}
	return "", nil
}

// marshalJSON renders a catch-all map for a fact row column, returning
// nil for an empty map so the column stays NULL.
func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
