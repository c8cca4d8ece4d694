// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package promote decides, per signal and attribute, whether a value is
// stored in a typed column table, dropped, or routed to the JSON
// catch-all. The policy is assembled once at startup from a required
// base document and an optional operator override, and is immutable
// afterwards.
package promote

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// Signal names a promotion domain. Resource and scope attributes have
// their own domains, separate from the three wire signals.
type Signal string

// The five promotion domains.
const (
	SignalResource Signal = "resource"
	SignalScope    Signal = "scope"
	SignalLogs     Signal = "logs"
	SignalSpans    Signal = "spans"
	SignalMetrics  Signal = "metrics"
)

// Decision is the outcome of classifying one attribute.
type Decision int

// Classification outcomes. Other is the zero value so an unconfigured
// key lands in the catch-all.
const (
	Other Decision = iota
	Promote
	Drop
)

// document is the on-disk shape of both the base and override files.
type document struct {
	Promote map[string]map[string][]string `yaml:"promote"`
	Drop    map[string][]string            `yaml:"drop"`
}

type promoteKey struct {
	signal Signal
	vtype  telemetry.ValueType
	key    string
}

type dropKey struct {
	signal Signal
	key    string
}

// Policy is the merged, immutable promotion policy.
type Policy struct {
	promote map[promoteKey]struct{}
	drop    map[dropKey]struct{}
}

// Load reads the base document at basePath and, when overridePath is
// non-empty and the file exists, merges the override on top. Promote
// lists are additive; drop lists come from the override only. A missing
// base file is a startup failure.
func Load(basePath, overridePath string) (*Policy, error) {
	p := &Policy{
		promote: make(map[promoteKey]struct{}),
		drop:    make(map[dropKey]struct{}),
	}

	base, err := readDocument(basePath)
	if err != nil {
		return nil, fmt.Errorf("promotion base config: %w", err)
	}
	if err := p.addPromotions(base); err != nil {
		return nil, fmt.Errorf("promotion base config %s: %w", basePath, err)
	}

	if overridePath == "" {
		return p, nil
	}
	override, err := readDocument(overridePath)
	if os.IsNotExist(err) {
		// Operators without an override simply do not mount one.
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("promotion override config: %w", err)
	}
	if err := p.addPromotions(override); err != nil {
		return nil, fmt.Errorf("promotion override config %s: %w", overridePath, err)
	}
	for signal, keys := range override.Drop {
		sig, err := parseSignal(signal)
		if err != nil {
			return nil, fmt.Errorf("promotion override config %s: %w", overridePath, err)
		}
		for _, key := range keys {
			p.drop[dropKey{signal: sig, key: key}] = struct{}{}
		}
	}
	return p, nil
}

func readDocument(path string) (*document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &doc, nil
}

func (p *Policy) addPromotions(doc *document) error {
	for signal, byType := range doc.Promote {
		sig, err := parseSignal(signal)
		if err != nil {
			return err
		}
		for vtype, keys := range byType {
			vt, err := parseValueType(vtype)
			if err != nil {
				return err
			}
			for _, key := range keys {
				p.promote[promoteKey{signal: sig, vtype: vt, key: key}] = struct{}{}
			}
		}
	}
	return nil
}

// Classify returns the decision for one (signal, key, value type)
// triple. Drop always wins over promote.
func (p *Policy) Classify(signal Signal, key string, vtype telemetry.ValueType) Decision {
	if _, ok := p.drop[dropKey{signal: signal, key: key}]; ok {
		return Drop
	}
	if _, ok := p.promote[promoteKey{signal: signal, vtype: vtype, key: key}]; ok {
		return Promote
	}
	return Other
}

// Dropped reports whether the key is in the drop set for the signal,
// regardless of value type.
func (p *Policy) Dropped(signal Signal, key string) bool {
	_, ok := p.drop[dropKey{signal: signal, key: key}]
	return ok
}

func parseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalResource, SignalScope, SignalLogs, SignalSpans, SignalMetrics:
		return Signal(s), nil
	}
	return "", fmt.Errorf("unknown signal %q", s)
}

func parseValueType(s string) (telemetry.ValueType, error) {
	switch s {
	case "string":
		return telemetry.ValueTypeString, nil
	case "int":
		return telemetry.ValueTypeInt, nil
	case "double":
		return telemetry.ValueTypeDouble, nil
	case "bool":
		return telemetry.ValueTypeBool, nil
	case "bytes":
		return telemetry.ValueTypeBytes, nil
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}
