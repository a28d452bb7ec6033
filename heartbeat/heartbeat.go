// Package heartbeat implements the heartbeat function, which reports the
// version and commit of the deployed build.
package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
	"github.com/Voitanos/azfunctions-cicd-iac/appconfig"
)

// EventSource names the function in every record it emits.
const EventSource = "heartbeat"

// DefaultLookupTimeout bounds the App Configuration lookups of one invocation.
const DefaultLookupTimeout = 10 * time.Second

// FailurePolicy decides how a failed settings lookup is answered.
type FailurePolicy int

const (
	// Propagate returns the lookup error to the wrapper, which reports it as
	// an exception and answers 500 without a body.
	Propagate FailurePolicy = iota
	// Respond answers 500 with the error in the body and ends the invocation
	// normally.
	Respond
)

func (p FailurePolicy) String() string {
	switch p {
	case Propagate:
		return "propagate"
	case Respond:
		return "respond"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "propagate" or "respond". The empty string is
// Propagate.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "propagate":
		return Propagate, nil
	case "respond":
		return Respond, nil
	default:
		return Propagate, fmt.Errorf("unknown heartbeat failure policy %q", s)
	}
}

// Option customises New.
type Option func(*Function)

// WithFailurePolicy sets how lookup failures are answered.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(f *Function) { f.policy = p }
}

// WithLookupTimeout bounds the settings lookups. Zero or negative disables
// the deadline.
func WithLookupTimeout(d time.Duration) Option {
	return func(f *Function) { f.timeout = d }
}

// Function is the heartbeat HTTP trigger.
type Function struct {
	telemetry azfunc.Recorder
	store     appconfig.Store
	label     string
	policy    FailurePolicy
	timeout   time.Duration
}

// New returns the function reading settings labelled label from store.
func New(r azfunc.Recorder, store appconfig.Store, label string, opts ...Option) *Function {
	f := &Function{
		telemetry: r,
		store:     store,
		label:     label,
		policy:    Propagate,
		timeout:   DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ServeFunction answers with the deployed APP_VERSION and COMMIT_HASH.
func (f *Function) ServeFunction(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	f.telemetry.TrackTrace(ctx, azfunc.Trace{
		Message:    "HTTP trigger function processed a request.",
		Severity:   azfunc.SeverityInformation,
		Properties: map[string]string{"source": EventSource},
	})

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	details, err := appconfig.ReadAppDetails(ctx, f.store, f.label)
	if err != nil {
		if f.policy == Respond {
			return respond(w, http.StatusInternalServerError, "Unable to read application settings: "+err.Error())
		}
		return fmt.Errorf("read application settings: %w", err)
	}

	return respond(w, http.StatusOK, fmt.Sprintf(
		"The HTTP trigger executed successfully. APP_VERSION=%s && COMMIT_HASH=%s.",
		details.Version, details.CommitHash,
	))
}

func respond(w http.ResponseWriter, status int, body string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, err := io.WriteString(w, body)
	return err
}
