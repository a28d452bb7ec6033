package azfunc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	api "go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Metrics holds the OpenTelemetry instruments recorded for every invocation.
type Metrics struct {
	RequestCounter   api.Int64Counter
	RequestHistogram api.Float64Histogram
	ExceptionCounter api.Int64Counter
}

// provider is the flush/shutdown side shared by the SDK tracer and meter
// providers.
type provider interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Telemetry is the OpenTelemetry backed Client.
//
// Each invocation becomes a server span started by StartOperation and ended
// by TrackRequest. Traces are span events, exceptions are recorded errors, and
// request completions also feed the request counter and duration histogram.
type Telemetry struct {
	name       string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    Metrics
	logger     *slog.Logger

	providers []provider
	conn      *grpc.ClientConn

	shutdownOnce sync.Once
}

var _ Client = (*Telemetry)(nil)

// Option customises New.
type Option func(*Telemetry) error

// WithTracerProvider routes spans through tp. Providers that support
// ForceFlush and Shutdown (the SDK ones) are flushed and shut down with the
// client.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Telemetry) error {
		t.tracer = tp.Tracer(t.name)
		if p, ok := tp.(provider); ok {
			t.providers = append(t.providers, p)
		}
		return nil
	}
}

// WithMeterProvider creates the invocation instruments on mp.
func WithMeterProvider(mp api.MeterProvider) Option {
	return func(t *Telemetry) error {
		m, err := newMetrics(mp.Meter(t.name))
		if err != nil {
			return err
		}
		t.metrics = m
		if p, ok := mp.(provider); ok {
			t.providers = append(t.providers, p)
		}
		return nil
	}
}

// WithPropagator replaces the W3C TraceContext + Baggage propagator used to
// read the caller's operation from request headers.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(t *Telemetry) error {
		t.propagator = p
		return nil
	}
}

// WithLogger sets the structured logger that mirrors every record.
func WithLogger(l *slog.Logger) Option {
	return func(t *Telemetry) error {
		t.logger = l
		return nil
	}
}

// New builds a Telemetry client named after the service. Without provider
// options it is a no-op client that still derives correlation ids and logs.
func New(name string, opts ...Option) (*Telemetry, error) {
	t := &Telemetry{
		name:   name,
		tracer: noop.NewTracerProvider().Tracer(name),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.Baggage{},
			propagation.TraceContext{},
		),
		logger: slog.Default(),
	}
	m, err := newMetrics(metricnoop.NewMeterProvider().Meter(name))
	if err != nil {
		return nil, err
	}
	t.metrics = m

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("configure telemetry: %w", err)
		}
	}
	return t, nil
}

func newMetrics(meter api.Meter) (Metrics, error) {
	counter, err := meter.Int64Counter(
		"http_requests_total",
		api.WithDescription("Total number of function invocations"),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("create request counter: %w", err)
	}

	histogram, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		api.WithDescription("Function invocation duration in seconds"),
		api.WithExplicitBucketBoundaries(
			0.1, 0.2, 0.3, 0.4, 0.5,
			0.6, 0.7, 0.8, 0.9, 1.0,
			2.0, 5.0,
		),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("create request histogram: %w", err)
	}

	exceptions, err := meter.Int64Counter(
		"function_exceptions_total",
		api.WithDescription("Total number of exceptions reported by functions"),
	)
	if err != nil {
		return Metrics{}, fmt.Errorf("create exception counter: %w", err)
	}

	return Metrics{
		RequestCounter:   counter,
		RequestHistogram: histogram,
		ExceptionCounter: exceptions,
	}, nil
}

// initCollector dials the OpenTelemetry Collector. The connection is shared
// by the trace and metric exporters and closed on Shutdown.
func initCollector(cfg Config) (*grpc.ClientConn, error) {
	if !cfg.IsEnabled() {
		if cfg.Enabled {
			return nil, errors.New("OTEL_COLLECTOR_ENDPOINT not set")
		}
		return nil, errors.New("telemetry disabled via OTEL_ENABLE")
	}

	conn, err := grpc.NewClient(cfg.CollectorEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}

// newResource describes the function app:
//
//   - service.name / service.version / deployment.environment from Config
//   - cloud.provider and cloud.platform fixed to Azure Functions
//   - faas.name from $WEBSITE_SITE_NAME when running in Azure
//   - app.name, the tag that identifies a configured client
//   - host.* automatically via resource.WithHost()
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		semconv.CloudProviderAzure,
		semconv.CloudPlatformAzureFunctions,
		attribute.String("app.name", cfg.ServiceName),
	}
	if cfg.SiteName != "" {
		attrs = append(attrs, semconv.FaaSName(cfg.SiteName))
	}

	return resource.New(
		ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
	)
}

// Setup configures OpenTelemetry for the function app and returns the client.
//
// It:
//
//  1. Connects to the OTEL Collector via gRPC
//  2. Creates OTLP trace and metric exporters on that connection
//  3. Builds a Resource describing the function app
//  4. Registers the providers and the W3C TraceContext + Baggage propagator
//     globally, so otelhttp instrumented clients share them
//
// If telemetry is disabled or any step fails, the failure is logged and a
// no-op client is returned: the functions keep serving without telemetry.
// Setup only returns an error when even the no-op client cannot be built.
//
// Call Shutdown on the returned client during graceful termination.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := func(reason string, err error) (*Telemetry, error) {
		logger.Warn("telemetry running in no-op mode", "reason", reason, "error", err)
		return New(cfg.ServiceName, WithLogger(logger))
	}

	conn, err := initCollector(cfg)
	if err != nil {
		return fallback("collector", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return fallback("trace exporter", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return fallback("metric exporter", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		_ = conn.Close()
		return fallback("resource", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.Baggage{},
			propagation.TraceContext{},
		),
	)

	t, err := New(cfg.ServiceName,
		WithTracerProvider(tp),
		WithMeterProvider(mp),
		WithPropagator(otel.GetTextMapPropagator()),
		WithLogger(logger),
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = conn.Close()
		return fallback("instruments", err)
	}
	t.conn = conn

	logger.Info("telemetry exporting to collector", "endpoint", cfg.CollectorEndpoint, "service", cfg.ServiceName)
	return t, nil
}

// StartOperation starts the server span of an invocation. The caller's
// operation is read from the request headers; without one a new operation is
// started. When the tracer does not record (no-op mode) random ids are used.
func (t *Telemetry) StartOperation(ctx context.Context, r *http.Request) (context.Context, CorrelationContext) {
	ctx = t.propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))

	ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)

	sc := span.SpanContext()
	if !span.IsRecording() || !sc.IsValid() {
		corr := randomCorrelation(r)
		if parent := trace.SpanContextFromContext(ctx); parent.IsValid() {
			corr.OperationID = parent.TraceID().String()
		}
		return ctx, corr
	}

	corr := CorrelationContext{
		OperationID:  sc.TraceID().String(),
		ParentID:     sc.SpanID().String(),
		InvocationID: invocationID(r),
	}
	span.SetAttributes(attribute.String("faas.invocation_id", corr.InvocationID))
	return ctx, corr
}

// TrackTrace adds the trace as an event on the invocation span.
func (t *Telemetry) TrackTrace(ctx context.Context, tr Trace) {
	attrs := append(propertyAttrs(tr.Properties), attribute.String("severity", tr.Severity.String()))
	trace.SpanFromContext(ctx).AddEvent(tr.Message, trace.WithAttributes(attrs...))

	t.logger.Log(ctx, slogLevel(tr.Severity), tr.Message, logAttrs(ctx, tr.Properties)...)
}

// TrackException records the error on the invocation span and marks it failed.
func (t *Telemetry) TrackException(ctx context.Context, e Exception) {
	if e.Err == nil {
		return
	}
	attrs := append(propertyAttrs(e.Properties), attribute.String("severity", e.Severity.String()))

	span := trace.SpanFromContext(ctx)
	span.RecordError(e.Err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, e.Err.Error())

	t.metrics.ExceptionCounter.Add(ctx, 1, api.WithAttributes(
		attribute.String("severity", e.Severity.String()),
		attribute.String("source", e.Properties["source"]),
	))

	args := append(logAttrs(ctx, e.Properties), "error", e.Err)
	t.logger.Log(ctx, slogLevel(e.Severity), "exception", args...)
}

// TrackRequest completes the invocation span and records the request metrics.
func (t *Telemetry) TrackRequest(ctx context.Context, req Request) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("request.name", req.Name),
		attribute.String("request.id", req.ID),
		attribute.String("url.full", req.URL),
		attribute.String("http.response.status_code", req.ResultCode),
		attribute.Bool("request.success", req.Success),
		attribute.Int64("request.duration_ms", req.Duration.Milliseconds()),
	)
	if !req.Success {
		span.SetStatus(codes.Error, "request failed")
	}
	span.End()

	metricAttrs := api.WithAttributes(
		attribute.String("name", req.Name),
		attribute.String("status_code", req.ResultCode),
		attribute.Bool("success", req.Success),
	)
	t.metrics.RequestCounter.Add(ctx, 1, metricAttrs)
	t.metrics.RequestHistogram.Record(ctx, req.Duration.Seconds(), metricAttrs)

	t.logger.Log(ctx, slog.LevelInfo, "request completed", append(logAttrs(ctx, req.Properties),
		"name", req.Name,
		"status_code", req.ResultCode,
		"success", req.Success,
		"duration_ms", req.Duration.Milliseconds(),
	)...)
}

// Flush exports everything buffered by the tracer and meter providers.
func (t *Telemetry) Flush(ctx context.Context) error {
	var errs []error
	for _, p := range t.providers {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers and closes the collector
// connection. It is safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		var errs []error
		for _, p := range t.providers {
			if e := p.Shutdown(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		if t.conn != nil {
			if e := t.conn.Close(); e != nil {
				errs = append(errs, e)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

func propertyAttrs(props map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(props)+1)
	for k, v := range props {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func logAttrs(ctx context.Context, props map[string]string) []any {
	args := make([]any, 0, 2*len(props)+6)
	if c, ok := CorrelationFromContext(ctx); ok {
		args = append(args,
			"operation_id", c.OperationID,
			"parent_id", c.ParentID,
			"invocation_id", c.InvocationID,
		)
	}
	for k, v := range props {
		args = append(args, k, v)
	}
	return args
}

func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityVerbose:
		return slog.LevelDebug
	case SeverityInformation:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
