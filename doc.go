// Package azfunc instruments Azure Function custom handlers written in Go with
// request telemetry built on OpenTelemetry.
//
// Every function in the app is wrapped the same way, so each invocation is
// reported consistently: one correlated operation and one completion record.
// An exception record is added when the invocation fails. A telemetry failure
// never turns into a failed invocation.
//
// # Overview
//
// azfunc provides:
//
//   - Client, the telemetry contract consumed by the functions (traces,
//     exceptions, request completions, correlation and flushing)
//   - Telemetry, the OpenTelemetry implementation of Client exporting to an
//     OTLP collector over gRPC
//   - PrometheusRecorder, a Recorder served on /metrics, combined with a
//     Client through Tee
//   - Wrap, the instrumented handler that drives the telemetry of a single
//     invocation
//   - Initializer, which configures the process client exactly once
//   - NewHTTPClient, an otelhttp instrumented client for outgoing calls
//
// # Environment Variables
//
//	OTEL_ENABLE=true|false
//	    Enables exporting. When disabled, Telemetry runs in no-op mode.
//
//	OTEL_COLLECTOR_ENDPOINT=host:port
//	    The OTLP gRPC endpoint of the OpenTelemetry Collector.
//
//	OTEL_FLUSH_TIMEOUT=duration
//	    Deadline of the flush performed after each invocation.
//
//	SERVICE_NAME, SERVICE_VERSION, ENV, WEBSITE_SITE_NAME
//	    Resource attributes describing the function app.
//
// # Setup
//
// Build the process client once, at startup:
//
//	initializer := azfunc.NewInitializer(cfg, logger)
//	tel, err := initializer.Telemetry(ctx)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Asking the Initializer again returns the same client; OpenTelemetry is never
// configured twice in a warm process.
//
// # Wrapping a function
//
// A function is a HandlerFunc: it writes its response to the ResponseWriter and
// may return an error.
//
//	mux.Handle("GET /api/simplemath", azfunc.Wrap(tel, "simplemath", fn))
//
// For each invocation Wrap:
//
//  1. Starts the correlation context (CorrelationContext) from the request
//     headers and attaches it to the request context
//  2. Times the handler
//  3. Records one exception if the handler returned an error or panicked
//  4. Records one request completion: name "METHOD URL", status, success
//     (2xx and 3xx only), duration and the correlation ParentID
//  5. Flushes the client under a deadline
//
// # Nested telemetry
//
// Handlers receive the correlated context through r.Context() and pass it to
// every telemetry call:
//
//	client.TrackTrace(r.Context(), azfunc.Trace{
//		Message:  "HTTP request received",
//		Severity: azfunc.SeverityVerbose,
//	})
//
// Correlation is never kept in global state, so concurrent invocations in the
// same process cannot mix their records.
//
// # No-op Mode
//
// If OTEL_ENABLE != "true" or the collector cannot be reached, Setup logs the
// reason and returns a no-op Telemetry. It still derives correlation ids, logs
// every record through slog and satisfies Wrap, so the functions keep serving.
package azfunc
