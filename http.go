package azfunc

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultHTTPTimeout is the timeout of clients built by NewHTTPClient when
// none is given.
const DefaultHTTPTimeout = 20 * time.Second

// NewHTTPClient returns an *http.Client for outgoing calls made while handling
// an invocation, such as App Configuration lookups.
//
// The transport is wrapped with otelhttp.NewTransport: every outgoing request
// gets a client span under the invocation span found in the request context,
// and the trace context is injected into the request headers with the global
// propagator registered by Setup.
//
// Example:
//
//	client := azfunc.NewHTTPClient(0)
//	req, _ := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
//	resp, err := client.Do(req)
//
// A zero or negative timeout selects DefaultHTTPTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
