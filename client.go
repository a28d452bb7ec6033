package azfunc

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Severity mirrors the Application Insights severity levels used by the
// function handlers when tracing and reporting exceptions.
type Severity int

const (
	SeverityVerbose Severity = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "Verbose"
	case SeverityInformation:
		return "Information"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	default:
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
}

// Trace is a diagnostic message emitted while handling an invocation.
type Trace struct {
	Message    string
	Severity   Severity
	Properties map[string]string
}

// Exception reports a failure observed during an invocation.
type Exception struct {
	Err        error
	Severity   Severity
	Properties map[string]string
}

// Request is the completion record of one invocation. ResultCode is empty when
// the handler never wrote a status.
type Request struct {
	Name       string
	ResultCode string
	Success    bool
	URL        string
	Duration   time.Duration
	ID         string
	Properties map[string]string
}

// Recorder is the write side of the telemetry client: the three record kinds
// a function can emit. The context carries the correlation of the invocation
// the record belongs to.
type Recorder interface {
	TrackTrace(ctx context.Context, t Trace)
	TrackException(ctx context.Context, e Exception)
	TrackRequest(ctx context.Context, r Request)
}

// Client is the telemetry collaborator consumed by Wrap and the handlers.
//
// StartOperation derives the correlation of an inbound request and returns a
// context that nested telemetry calls must use. Flush pushes buffered records
// to the backend and must honour the context deadline.
type Client interface {
	Recorder
	StartOperation(ctx context.Context, r *http.Request) (context.Context, CorrelationContext)
	Flush(ctx context.Context) error
}

// Tee returns a Client that delegates correlation and flushing to client and
// fans every record out to client and each of the extra recorders.
func Tee(client Client, recorders ...Recorder) Client {
	if len(recorders) == 0 {
		return client
	}
	return &tee{Client: client, recorders: recorders}
}

type tee struct {
	Client
	recorders []Recorder
}

func (t *tee) TrackTrace(ctx context.Context, tr Trace) {
	t.Client.TrackTrace(ctx, tr)
	for _, r := range t.recorders {
		r.TrackTrace(ctx, tr)
	}
}

func (t *tee) TrackException(ctx context.Context, e Exception) {
	t.Client.TrackException(ctx, e)
	for _, r := range t.recorders {
		r.TrackException(ctx, e)
	}
}

func (t *tee) TrackRequest(ctx context.Context, req Request) {
	t.Client.TrackRequest(ctx, req)
	for _, r := range t.recorders {
		r.TrackRequest(ctx, req)
	}
}
