// Package observetest provides [observe.Metrics] backed by a manual reader so
// tests in other packages can assert on recorded instruments.
package observetest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hermes/internal/observe"
)

// Reader wraps a ManualReader with lookup helpers.
type Reader struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
}

// NewMetrics returns fresh metrics and the reader observing them. The meter
// provider is shut down when the test ends.
func NewMetrics(t testing.TB) (*observe.Metrics, *Reader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("observe.NewMetrics: %v", err)
	}
	return m, &Reader{t: t, reader: reader}
}

// Collect gathers all metric data.
func (r *Reader) Collect() metricdata.ResourceMetrics {
	r.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		r.t.Fatalf("Collect: %v", err)
	}
	return rm
}

// Sum returns the int64 counter value of metric name for the data point
// whose attribute key equals value. Missing metrics or points count as zero.
func (r *Reader) Sum(name, key, value string) int64 {
	r.t.Helper()
	rm := r.Collect()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				r.t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

// Total returns the int64 counter or up-down counter value of metric name
// summed over all attribute sets.
func (r *Reader) Total(name string) int64 {
	r.t.Helper()
	rm := r.Collect()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				r.t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

// HistogramCount returns the number of observations recorded by the float64
// histogram name across all attribute sets.
func (r *Reader) HistogramCount(name string) uint64 {
	r.t.Helper()
	rm := r.Collect()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				r.t.Fatalf("metric %q is not a float64 histogram", name)
			}
			var n uint64
			for _, dp := range h.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}
