package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// DefaultFlushInterval is how often the PeriodicReader pushes a batch.
const DefaultFlushInterval = 30 * time.Second

// DefaultMaxRetries bounds how many times a failed export is retried
// before the batch is discarded.
const DefaultMaxRetries = 3

// OTelOptions configures the collector endpoint and push cadence.
type OTelOptions struct {
	Endpoint      string // host:port; empty disables OTel (use NoopProvider instead)
	Insecure      bool
	FlushInterval time.Duration
	MaxRetries    int
}

// OTelProvider wraps an otel/sdk/metric MeterProvider with a PeriodicReader
// driving an OTLP HTTP exporter. Export failures are retried a bounded
// number of times; on exhaustion the batch is discarded and
// telemetry.dropped_batches is incremented.
type OTelProvider struct {
	mp             *sdkmetric.MeterProvider
	meter          metric.Meter
	droppedBatches atomic.Int64
}

// NewOTelProvider dials the configured OTLP/HTTP collector and starts the
// periodic push loop. Use NoopProvider instead when opts.Endpoint is empty.
func NewOTelProvider(ctx context.Context, opts OTelOptions) (*OTelProvider, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	httpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, httpOpts...)
	if err != nil {
		return nil, err
	}

	p := &OTelProvider{}
	wrapped := &retryingExporter{inner: exp, maxRetries: opts.MaxRetries, onDrop: func() {
		p.droppedBatches.Add(1)
	}}

	reader := sdkmetric.NewPeriodicReader(wrapped, sdkmetric.WithInterval(opts.FlushInterval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p.mp = mp
	p.meter = mp.Meter("agentd")
	return p, nil
}

// DroppedBatches reports how many export batches were discarded after
// exhausting the retry budget.
func (p *OTelProvider) DroppedBatches() int64 { return p.droppedBatches.Load() }

func (p *OTelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(buildName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst}
}

func (p *OTelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(buildName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst}
}

func (p *OTelProvider) NewHistogram(opts HistogramOpts) Histogram {
	histOpts := []metric.Float64HistogramOption{metric.WithDescription(opts.Help)}
	if len(opts.Buckets) > 0 {
		histOpts = append(histOpts, metric.WithExplicitBucketBoundaries(opts.Buckets...))
	}
	inst, err := p.meter.Float64Histogram(buildName(opts.CommonOpts), histOpts...)
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst}
}

func (p *OTelProvider) NewTimer(opts HistogramOpts) func() Timer {
	hist := p.NewHistogram(opts)
	return func() Timer { return &otelTimer{h: hist, start: time.Now()} }
}

// Shutdown flushes any buffered data and releases the exporter's resources.
func (p *OTelProvider) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.mp.Shutdown(ctx)
}

// --- instrument wrappers ---------------------------------------------------

type otelCounter struct{ c metric.Float64Counter }

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta > 0 {
		c.c.Add(context.Background(), delta)
	}
}

type otelGauge struct {
	g     metric.Float64UpDownCounter
	mu    sync.Mutex
	value float64
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	diff := v - g.value
	g.value = v
	g.mu.Unlock()
	if diff != 0 {
		g.g.Add(context.Background(), diff)
	}
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
	g.g.Add(context.Background(), delta)
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h *otelHistogram) Observe(value float64, labels ...string) {
	h.h.Record(context.Background(), value)
}

type otelTimer struct {
	h     Histogram
	start time.Time
}

func (t *otelTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}

// --- bounded-retry export wrapper ------------------------------------------

// retryingExporter wraps an sdkmetric.Exporter, retrying Export up to
// maxRetries times with a short linear backoff before giving up and
// invoking onDrop, implementing the spec's "discard after bounded retry,
// increment telemetry.dropped_batches" contract.
type retryingExporter struct {
	inner      sdkmetric.Exporter
	maxRetries int
	onDrop     func()
}

func (e *retryingExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return e.inner.Temporality(k)
}

func (e *retryingExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return e.inner.Aggregation(k)
}

func (e *retryingExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		if err := e.inner.Export(ctx, rm); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if e.onDrop != nil {
		e.onDrop()
	}
	return lastErr
}

func (e *retryingExporter) ForceFlush(ctx context.Context) error { return e.inner.ForceFlush(ctx) }
func (e *retryingExporter) Shutdown(ctx context.Context) error   { return e.inner.Shutdown(ctx) }
