package azfunc

import (
	"strconv"
	"time"
)

// Outcome is the result of one wrapped invocation, computed once the handler
// has returned (or panicked).
type Outcome struct {
	StatusCode int
	HasStatus  bool
	Duration   time.Duration
	Err        error
}

// NewOutcome builds an Outcome, clamping negative durations to zero.
func NewOutcome(status int, hasStatus bool, d time.Duration, err error) Outcome {
	if d < 0 {
		d = 0
	}
	return Outcome{StatusCode: status, HasStatus: hasStatus, Duration: d, Err: err}
}

// Success reports whether the handler wrote a 2xx or 3xx status. An absent
// status is a failure.
func (o Outcome) Success() bool {
	return o.HasStatus && o.StatusCode >= 200 && o.StatusCode < 400
}

// ResultCode is the status as reported in the request record, empty if absent.
func (o Outcome) ResultCode() string {
	if !o.HasStatus {
		return ""
	}
	return strconv.Itoa(o.StatusCode)
}
