package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNoopProviderRecordsWithoutPanicking(t *testing.T) {
	p := NoopProvider()

	counter := p.NewCounter(CounterOpts{CommonOpts{Name: "ack.exec.count"}})
	gauge := p.NewGauge(GaugeOpts{CommonOpts{Name: "termbridge.queue_depth"}})
	hist := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "policy.evaluate.latency"}})
	timerFn := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Name: "ack.exec.latency"}})

	counter.Inc(1, "persona=nova")
	gauge.Set(3)
	gauge.Add(-1)
	hist.Observe(0.002)
	timer := timerFn()
	timer.ObserveDuration()

	if err := p.Shutdown(); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestBuildNameComposesNamespaceSubsystemName(t *testing.T) {
	cases := []struct {
		in   CommonOpts
		want string
	}{
		{CommonOpts{Name: "foo"}, "foo"},
		{CommonOpts{Namespace: "agentd", Name: "foo"}, "agentd.foo"},
		{CommonOpts{Subsystem: "ack", Name: "foo"}, "ack.foo"},
		{CommonOpts{Namespace: "agentd", Subsystem: "ack", Name: "foo"}, "agentd.ack.foo"},
	}
	for _, c := range cases {
		if got := buildName(c.in); got != c.want {
			t.Errorf("buildName(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}

// failingExporter always returns an error, to exercise retryingExporter's
// bounded-retry-then-drop path without a real collector.
type failingExporter struct {
	calls atomic.Int32
}

func (f *failingExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}
func (f *failingExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.AggregationDefault{}
}
func (f *failingExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	f.calls.Add(1)
	return errors.New("collector unreachable")
}
func (f *failingExporter) ForceFlush(ctx context.Context) error { return nil }
func (f *failingExporter) Shutdown(ctx context.Context) error   { return nil }

func TestRetryingExporterDropsBatchAfterExhaustingRetries(t *testing.T) {
	inner := &failingExporter{}
	var dropped atomic.Int32
	e := &retryingExporter{inner: inner, maxRetries: 2, onDrop: func() { dropped.Add(1) }}

	err := e.Export(context.Background(), &metricdata.ResourceMetrics{})
	if err == nil {
		t.Fatal("expected the last export error to propagate")
	}
	if inner.calls.Load() != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 calls, got %d", inner.calls.Load())
	}
	if dropped.Load() != 1 {
		t.Fatalf("expected exactly one onDrop invocation, got %d", dropped.Load())
	}
}

// flakyExporter fails a fixed number of times before succeeding, to verify
// a transient failure within the retry budget does not drop the batch.
type flakyExporter struct {
	failFor int
	calls   atomic.Int32
}

func (f *flakyExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}
func (f *flakyExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.AggregationDefault{}
}
func (f *flakyExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	n := f.calls.Add(1)
	if int(n) <= f.failFor {
		return errors.New("transient")
	}
	return nil
}
func (f *flakyExporter) ForceFlush(ctx context.Context) error { return nil }
func (f *flakyExporter) Shutdown(ctx context.Context) error   { return nil }

func TestRetryingExporterSucceedsWithinRetryBudget(t *testing.T) {
	inner := &flakyExporter{failFor: 2}
	var dropped atomic.Int32
	e := &retryingExporter{inner: inner, maxRetries: 3, onDrop: func() { dropped.Add(1) }}

	if err := e.Export(context.Background(), &metricdata.ResourceMetrics{}); err != nil {
		t.Fatalf("expected eventual success within retry budget, got %v", err)
	}
	if dropped.Load() != 0 {
		t.Fatal("a batch that eventually succeeds should not count as dropped")
	}
}
