package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName scopes every tracer and meter this package creates.
const instrumentationName = "github.com/sentinelx-labs/audittrail"

// Metric attribute keys.
var (
	AttrEventKind     = attribute.Key("audittrail.event.kind")
	AttrBatchSize     = attribute.Key("audittrail.batch.size")
	AttrAnchorOutcome = attribute.Key("audittrail.anchor.outcome")
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool          // telemetry is opt-in
	Insecure       bool          // plaintext OTLP connection (dev only)
}

// DefaultConfig returns local-development defaults with telemetry off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "audittrail",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       false,
	}
}

// Provider manages the OpenTelemetry trace and metric providers plus the
// instruments for the ingestion, sealing, and anchoring paths.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	eventsEnqueued metric.Int64Counter
	batchesSealed  metric.Int64Counter
	anchorAttempts metric.Int64Counter
	anchorLatency  metric.Float64Histogram
}

// New creates an observability provider. A disabled config yields a provider
// whose record methods are no-ops, so callers never branch on telemetry.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)

	return p, nil
}

// initTraceProvider initializes the OpenTelemetry trace provider.
func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if p.config.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

// initMetricProvider initializes the OpenTelemetry metric provider.
func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)

	return nil
}

// initInstruments creates the counters and histograms for the three hot
// paths: event ingestion, batch sealing, and ledger anchoring.
func (p *Provider) initInstruments() error {
	var err error

	p.eventsEnqueued, err = p.meter.Int64Counter("audittrail.events.enqueued",
		metric.WithDescription("Event fingerprints accepted into the pending queue"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	p.batchesSealed, err = p.meter.Int64Counter("audittrail.batches.sealed",
		metric.WithDescription("Batches sealed into Merkle trees"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return err
	}

	p.anchorAttempts, err = p.meter.Int64Counter("audittrail.anchor.attempts",
		metric.WithDescription("Ledger submission attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	p.anchorLatency, err = p.meter.Float64Histogram("audittrail.anchor.duration",
		metric.WithDescription("Ledger submission attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordEventEnqueued counts one accepted fingerprint, labeled by kind.
func (p *Provider) RecordEventEnqueued(ctx context.Context, kind string) {
	if p.eventsEnqueued != nil {
		p.eventsEnqueued.Add(ctx, 1, metric.WithAttributes(AttrEventKind.String(kind)))
	}
}

// RecordBatchSealed counts one sealed batch, labeled by its event count.
func (p *Provider) RecordBatchSealed(ctx context.Context, eventCount int) {
	if p.batchesSealed != nil {
		p.batchesSealed.Add(ctx, 1, metric.WithAttributes(AttrBatchSize.Int(eventCount)))
	}
}

// RecordAnchorAttempt counts one ledger submission attempt and feeds the
// latency histogram. Outcome is one of confirmed, duplicate_root, retryable,
// or rejected.
func (p *Provider) RecordAnchorAttempt(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrAnchorOutcome.String(outcome))
	if p.anchorAttempts != nil {
		p.anchorAttempts.Add(ctx, 1, attrs)
	}
	if p.anchorLatency != nil {
		p.anchorLatency.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// GaugeFunc reports a point-in-time count for an observable gauge.
type GaugeFunc func(ctx context.Context) (int64, error)

// ObservePendingEvents registers a gauge fed from the ingestion queue depth.
// Call once at startup; a disabled provider registers nothing.
func (p *Provider) ObservePendingEvents(fn GaugeFunc) error {
	return p.registerGauge("audittrail.events.pending",
		"Event fingerprints waiting for the next batch", "{event}", fn)
}

// ObserveUnanchoredBatches registers a gauge counting sealed batches that
// have not reached a terminal anchor state.
func (p *Provider) ObserveUnanchoredBatches(fn GaugeFunc) error {
	return p.registerGauge("audittrail.batches.unanchored",
		"Sealed batches still pending or submitting on the ledger", "{batch}", fn)
}

func (p *Provider) registerGauge(name, desc, unit string, fn GaugeFunc) error {
	if p.meter == nil {
		return nil
	}

	_, err := p.meter.Int64ObservableGauge(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := fn(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}
