package azfunc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultFlushTimeout bounds the flush performed at the end of every
// invocation when no WithFlushTimeout option is given.
const DefaultFlushTimeout = 5 * time.Second

// HandlerFunc is an Azure Function handler. The ResponseWriter is the output
// slot for the status code and body; returning ends the invocation. A returned
// error is reported as an exception and never reaches the Functions host.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// responseWriter is a thin wrapper around http.ResponseWriter that captures
// the status code written by the handler.
//
// Unlike a plain middleware writer it starts with no status at all, so the
// wrapper can tell a handler that never responded apart from one that
// responded 200.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// newResponseWriter wraps w. The status stays unset until WriteHeader or Write
// is called.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

// WriteHeader records the first status written and forwards the call.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write implies a 200 status when none was written, as net/http does.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.statusCode = http.StatusOK
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Status returns the status code written for the request and whether one was
// written at all.
func (rw *responseWriter) Status() (int, bool) {
	return rw.statusCode, rw.wroteHeader
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type wrapOptions struct {
	now          func() time.Time
	flushTimeout time.Duration
	logger       *slog.Logger
}

// WrapOption customises Wrap.
type WrapOption func(*wrapOptions)

// WithClock replaces time.Now as the source of invocation timestamps.
func WithClock(now func() time.Time) WrapOption {
	return func(o *wrapOptions) { o.now = now }
}

// WithFlushTimeout bounds the telemetry flush at the end of each invocation.
// Zero or negative disables the deadline.
func WithFlushTimeout(d time.Duration) WrapOption {
	return func(o *wrapOptions) { o.flushTimeout = d }
}

// WithWrapLogger sets the logger used for swallowed telemetry failures.
func WithWrapLogger(l *slog.Logger) WrapOption {
	return func(o *wrapOptions) { o.logger = l }
}

// Wrap instruments an Azure Function handler with request telemetry.
//
// For every invocation the returned handler:
//
//  1. Starts a correlation context from the inbound request via
//     client.StartOperation and attaches it to the request context
//  2. Runs h with that context, so nested TrackTrace/TrackException calls
//     made with r.Context() are attributed to this invocation
//  3. Records exactly one exception (severity Error, property source) when h
//     returns an error or panics
//  4. Records exactly one request completion with the method and URL as
//     name, the written status, success, duration and the correlation
//     ParentID as id, whatever h did
//  5. Flushes the client under the flush deadline
//
// Errors, panics and telemetry failures are absorbed. When h wrote no
// response the wrapper answers 500 so the Functions host always sees a
// completed response cycle. The one exception is a panic with
// http.ErrAbortHandler: the request is still recorded, without an exception,
// and the panic is re-raised so net/http aborts the response.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /api/simplemath",
//	    azfunc.Wrap(client, "simplemath", simplemath.New(client).ServeFunction),
//	)
func Wrap(client Client, source string, h HandlerFunc, opts ...WrapOption) http.HandlerFunc {
	o := wrapOptions{
		now:          time.Now,
		flushTimeout: DefaultFlushTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx, corr := startOperation(client, r, o.logger)
		ctx = ContextWithCorrelation(ctx, corr)
		r = r.WithContext(ctx)

		rw := newResponseWriter(w)
		start := o.now()

		var err error
		defer func() {
			aborted := errors.Is(err, http.ErrAbortHandler)
			if aborted {
				err = nil
			}

			status, ok := rw.Status()
			outcome := NewOutcome(status, ok, o.now().Sub(start), err)
			complete(ctx, client, source, r, corr, outcome, o)

			if aborted {
				panic(http.ErrAbortHandler)
			}
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		err = invoke(h, rw, r)
	}

	return http.HandlerFunc(fn)
}

// invoke runs h, converting a panic into an error.
func invoke(h HandlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				err = fmt.Errorf("panic: %w", e)
			} else {
				err = fmt.Errorf("panic: %v", p)
			}
		}
	}()
	return h(w, r)
}

func startOperation(client Client, r *http.Request, logger *slog.Logger) (ctx context.Context, corr CorrelationContext) {
	defer func() {
		if p := recover(); p != nil {
			logger.Debug("telemetry start operation failed", "error", p)
			ctx, corr = r.Context(), randomCorrelation(r)
		}
	}()
	return client.StartOperation(r.Context(), r)
}

// complete emits the exception and request records of one invocation and
// flushes the client. Telemetry failures are logged and dropped.
func complete(ctx context.Context, client Client, source string, r *http.Request, corr CorrelationContext, out Outcome, o wrapOptions) {
	if out.Err != nil {
		safely(o.logger, "track exception", func() {
			client.TrackException(ctx, Exception{
				Err:        fmt.Errorf("error in function execution: %w", out.Err),
				Severity:   SeverityError,
				Properties: map[string]string{"source": source},
			})
		})
	}

	safely(o.logger, "track request", func() {
		client.TrackRequest(ctx, Request{
			Name:       r.Method + " " + r.URL.String(),
			ResultCode: out.ResultCode(),
			Success:    out.Success(),
			URL:        r.URL.String(),
			Duration:   out.Duration,
			ID:         corr.ParentID,
			Properties: map[string]string{"source": source},
		})
	})

	// The flush must outlive a request context cancelled by a disconnecting
	// caller.
	flushCtx := context.WithoutCancel(ctx)
	if o.flushTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(flushCtx, o.flushTimeout)
		defer cancel()
	}
	safely(o.logger, "flush", func() {
		if err := client.Flush(flushCtx); err != nil {
			o.logger.Debug("telemetry flush failed", "error", err, "operation_id", corr.OperationID)
		}
	})
}

func safely(logger *slog.Logger, what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logger.Debug("telemetry call panicked", "call", what, "error", p)
		}
	}()
	fn()
}
