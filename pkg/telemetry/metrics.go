// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package telemetry

// MetricType matches the metric_types reference table.
type MetricType int16

// Metric type ids. OTLP gauges and sums both produce number data points.
const (
	MetricTypeUnspecified MetricType = iota
	MetricTypeGauge
	MetricTypeSum
	MetricTypeHistogram
	MetricTypeExponentialHistogram
	MetricTypeSummary
)

// String returns the reference-table name for the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeSum:
		return "sum"
	case MetricTypeHistogram:
		return "histogram"
	case MetricTypeExponentialHistogram:
		return "exponential_histogram"
	case MetricTypeSummary:
		return "summary"
	}
	return "unspecified"
}

// Temporality ids match the aggregation_temporalities reference table.
const (
	TemporalityUnspecified int16 = iota
	TemporalityDelta
	TemporalityCumulative
)

// MetricBatch is one Export request worth of metrics.
type MetricBatch struct {
	Resources []ResourceMetrics
}

// ResourceMetrics groups the metrics of one resource.
type ResourceMetrics struct {
	Resource Resource
	Scopes   []ScopeMetrics
}

// ScopeMetrics groups the metrics of one instrumentation scope.
type ScopeMetrics struct {
	Scope   Scope
	Metrics []Metric
}

// Metric is one metric descriptor plus its data points. Name, Type,
// Unit, Temporality and Monotonic form the dimension identity;
// Description may vary without forcing a new identity.
type Metric struct {
	Name        string
	Description string
	Unit        string
	Type        MetricType
	Temporality int16
	Monotonic   bool
	Points      []DataPoint
}

// DataPoint is one data point of any shape; Kind selects which of the
// shape-specific field groups is meaningful.
type DataPoint struct {
	Kind MetricType

	StartTimeUnixNano uint64
	TimeUnixNano      uint64
	Attributes        []KeyValue
	Flags             uint32
	Exemplars         []Exemplar

	// Number (gauge / sum): exactly one of the pair is set.
	HasInt    bool
	ValueInt  int64
	HasDouble bool
	ValueDouble float64

	// Histogram / ExponentialHistogram / Summary share Count and Sum.
	Count  uint64
	Sum    float64
	HasSum bool
	Min    float64
	HasMin bool
	Max    float64
	HasMax bool

	// Histogram.
	BucketCounts   []uint64
	ExplicitBounds []float64

	// ExponentialHistogram.
	Scale          int32
	ZeroCount      uint64
	PositiveOffset int32
	PositiveCounts []uint64
	NegativeOffset int32
	NegativeCounts []uint64

	// Summary.
	Quantiles []QuantileValue
}

// QuantileValue is one summary quantile.
type QuantileValue struct {
	Quantile float64
	Value    float64
}

// Exemplar is stored as opaque JSON alongside the data point.
type Exemplar struct {
	TimeUnixNano uint64
	HasInt       bool
	ValueInt     int64
	HasDouble    bool
	ValueDouble  float64
	TraceID      string
	SpanID       string
	Attributes   []KeyValue
}

// PointCount returns the number of data points across all groups.
func (b *MetricBatch) PointCount() int {
	n := 0
	for _, rm := range b.Resources {
		for _, sm := range rm.Scopes {
			for _, m := range sm.Metrics {
				n += len(m.Points)
			}
		}
	}
	return n
}
