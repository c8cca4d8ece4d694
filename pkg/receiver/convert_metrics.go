// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package receiver

import (
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/otelstore/otelstore/pkg/telemetry"
)

// convertMetrics maps a wire Export request onto the neutral batch.
// Metrics with no recognizable data shape are rejected with their point
// counts.
func convertMetrics(req *colmetricspb.ExportMetricsServiceRequest) (*telemetry.MetricBatch, int) {
	batch := &telemetry.MetricBatch{}
	rejected := 0
	for _, rm := range req.ResourceMetrics {
		if rm == nil {
			continue
		}
		out := telemetry.ResourceMetrics{Resource: convertResource(rm.Resource, rm.SchemaUrl)}
		for _, sm := range rm.ScopeMetrics {
			if sm == nil {
				continue
			}
			scope := telemetry.ScopeMetrics{Scope: convertScope(sm.Scope, sm.SchemaUrl)}
			for _, metric := range sm.Metrics {
				if metric == nil {
					continue
				}
				converted, ok := convertMetric(metric)
				if !ok {
					rejected++
					continue
				}
				scope.Metrics = append(scope.Metrics, converted)
			}
			if len(scope.Metrics) > 0 {
				out.Scopes = append(out.Scopes, scope)
			}
		}
		if len(out.Scopes) > 0 {
			batch.Resources = append(batch.Resources, out)
		}
	}
	return batch, rejected
}

func convertMetric(m *metricspb.Metric) (telemetry.Metric, bool) {
	out := telemetry.Metric{
		Name:        m.Name,
		Description: m.Description,
		Unit:        m.Unit,
	}
	switch data := m.Data.(type) {
	case *metricspb.Metric_Gauge:
		out.Type = telemetry.MetricTypeGauge
		for _, p := range data.Gauge.GetDataPoints() {
			out.Points = append(out.Points, convertNumberPoint(p, telemetry.MetricTypeGauge))
		}
	case *metricspb.Metric_Sum:
		out.Type = telemetry.MetricTypeSum
		out.Temporality = temporalityID(data.Sum.GetAggregationTemporality())
		out.Monotonic = data.Sum.GetIsMonotonic()
		for _, p := range data.Sum.GetDataPoints() {
			out.Points = append(out.Points, convertNumberPoint(p, telemetry.MetricTypeSum))
		}
	case *metricspb.Metric_Histogram:
		out.Type = telemetry.MetricTypeHistogram
		out.Temporality = temporalityID(data.Histogram.GetAggregationTemporality())
		for _, p := range data.Histogram.GetDataPoints() {
			out.Points = append(out.Points, convertHistogramPoint(p))
		}
	case *metricspb.Metric_ExponentialHistogram:
		out.Type = telemetry.MetricTypeExponentialHistogram
		out.Temporality = temporalityID(data.ExponentialHistogram.GetAggregationTemporality())
		for _, p := range data.ExponentialHistogram.GetDataPoints() {
			out.Points = append(out.Points, convertExpHistogramPoint(p))
		}
	case *metricspb.Metric_Summary:
		out.Type = telemetry.MetricTypeSummary
		for _, p := range data.Summary.GetDataPoints() {
			out.Points = append(out.Points, convertSummaryPoint(p))
		}
	default:
		return telemetry.Metric{}, false
	}
	return out, true
}

// temporalityID maps the wire temporality onto the reference-table id;
// unknown values land on UNSPECIFIED.
func temporalityID(t metricspb.AggregationTemporality) int16 {
	switch t {
	case metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_DELTA:
		return telemetry.TemporalityDelta
	case metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE:
		return telemetry.TemporalityCumulative
	}
	return telemetry.TemporalityUnspecified
}

func convertNumberPoint(p *metricspb.NumberDataPoint, kind telemetry.MetricType) telemetry.DataPoint {
	out := telemetry.DataPoint{
		Kind:              kind,
		StartTimeUnixNano: p.StartTimeUnixNano,
		TimeUnixNano:      p.TimeUnixNano,
		Attributes:        convertKeyValues(p.Attributes),
		Flags:             p.Flags,
		Exemplars:         convertExemplars(p.Exemplars),
	}
	switch v := p.Value.(type) {
	case *metricspb.NumberDataPoint_AsInt:
		out.HasInt = true
		out.ValueInt = v.AsInt
	case *metricspb.NumberDataPoint_AsDouble:
		out.HasDouble = true
		out.ValueDouble = v.AsDouble
	}
	return out
}

func convertHistogramPoint(p *metricspb.HistogramDataPoint) telemetry.DataPoint {
	out := telemetry.DataPoint{
		Kind:              telemetry.MetricTypeHistogram,
		StartTimeUnixNano: p.StartTimeUnixNano,
		TimeUnixNano:      p.TimeUnixNano,
		Attributes:        convertKeyValues(p.Attributes),
		Flags:             p.Flags,
		Exemplars:         convertExemplars(p.Exemplars),
		Count:             p.Count,
		BucketCounts:      p.BucketCounts,
		ExplicitBounds:    p.ExplicitBounds,
	}
	if p.Sum != nil {
		out.HasSum, out.Sum = true, *p.Sum
	}
	if p.Min != nil {
		out.HasMin, out.Min = true, *p.Min
	}
	if p.Max != nil {
		out.HasMax, out.Max = true, *p.Max
	}
	return out
}

func convertExpHistogramPoint(p *metricspb.ExponentialHistogramDataPoint) telemetry.DataPoint {
	out := telemetry.DataPoint{
		Kind:              telemetry.MetricTypeExponentialHistogram,
		StartTimeUnixNano: p.StartTimeUnixNano,
		TimeUnixNano:      p.TimeUnixNano,
		Attributes:        convertKeyValues(p.Attributes),
		Flags:             p.Flags,
		Exemplars:         convertExemplars(p.Exemplars),
		Count:             p.Count,
		Scale:             p.Scale,
		ZeroCount:         p.ZeroCount,
	}
	if p.Sum != nil {
		out.HasSum, out.Sum = true, *p.Sum
	}
	if p.Min != nil {
		out.HasMin, out.Min = true, *p.Min
	}
	if p.Max != nil {
		out.HasMax, out.Max = true, *p.Max
	}
	if pos := p.Positive; pos != nil {
		out.PositiveOffset = pos.Offset
		out.PositiveCounts = pos.BucketCounts
	}
	if neg := p.Negative; neg != nil {
		out.NegativeOffset = neg.Offset
		out.NegativeCounts = neg.BucketCounts
	}
	return out
}

func convertSummaryPoint(p *metricspb.SummaryDataPoint) telemetry.DataPoint {
	out := telemetry.DataPoint{
		Kind:              telemetry.MetricTypeSummary,
		StartTimeUnixNano: p.StartTimeUnixNano,
		TimeUnixNano:      p.TimeUnixNano,
		Attributes:        convertKeyValues(p.Attributes),
		Flags:             p.Flags,
		Count:             p.Count,
		HasSum:            true,
		Sum:               p.Sum,
	}
	for _, q := range p.QuantileValues {
		if q == nil {
			continue
		}
		out.Quantiles = append(out.Quantiles, telemetry.QuantileValue{Quantile: q.Quantile, Value: q.Value})
	}
	return out
}

func convertExemplars(in []*metricspb.Exemplar) []telemetry.Exemplar {
	if len(in) == 0 {
		return nil
	}
	out := make([]telemetry.Exemplar, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		ex := telemetry.Exemplar{
			TimeUnixNano: e.TimeUnixNano,
			TraceID:      traceIDHex(e.TraceId),
			SpanID:       spanIDHex(e.SpanId),
			Attributes:   convertKeyValues(e.FilteredAttributes),
		}
		switch v := e.Value.(type) {
		case *metricspb.Exemplar_AsInt:
			ex.HasInt, ex.ValueInt = true, v.AsInt
		case *metricspb.Exemplar_AsDouble:
			ex.HasDouble, ex.ValueDouble = true, v.AsDouble
		}
		out = append(out, ex)
	}
	return out
}
