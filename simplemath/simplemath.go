// Package simplemath implements the simplemath function: it adds the two
// integers given on the query string.
package simplemath

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
)

// EventSource names the function in every record it emits.
const EventSource = "simplemath"

const (
	msgMissingArguments = "Missing arguments 'operandA' & 'operandB' on querystring."
)

// ErrNotANumber is returned when an operand has no leading integer.
var ErrNotANumber = errors.New("Both operandA & operandB must be numbers.")

// Add returns a + b. Operands are arbitrary precision, so the sum never wraps.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Function is the simplemath HTTP trigger.
type Function struct {
	telemetry azfunc.Recorder
}

// New returns the function reporting to r.
func New(r azfunc.Recorder) *Function {
	return &Function{telemetry: r}
}

// ServeFunction answers GET ?operandA=&operandB= with their sum.
//
// Invalid input is answered with 400 and never returned as an error: it is a
// client mistake, not a failed invocation.
func (f *Function) ServeFunction(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	props := map[string]string{
		"source":       EventSource,
		"requestQuery": r.URL.RawQuery,
	}

	f.telemetry.TrackTrace(ctx, azfunc.Trace{
		Message:    "HTTP request received",
		Severity:   azfunc.SeverityVerbose,
		Properties: props,
	})

	query := r.URL.Query()
	rawA, rawB := query.Get("operandA"), query.Get("operandB")
	if rawA == "" || rawB == "" {
		f.telemetry.TrackTrace(ctx, azfunc.Trace{
			Message:    "Invalid request: missing expected query parameters",
			Severity:   azfunc.SeverityVerbose,
			Properties: props,
		})
		return respond(w, http.StatusBadRequest, msgMissingArguments)
	}

	a, errA := parseInt(rawA)
	b, errB := parseInt(rawB)
	if err := errors.Join(errA, errB); err != nil {
		f.telemetry.TrackException(ctx, azfunc.Exception{
			Err:        ErrNotANumber,
			Severity:   azfunc.SeverityCritical,
			Properties: props,
		})
		return respond(w, http.StatusBadRequest, ErrNotANumber.Error())
	}

	return respond(w, http.StatusOK, fmt.Sprintf("The result of %s + %s = %s", a, b, Add(a, b)))
}

// parseInt reads the integer at the start of s, after optional whitespace and
// sign, ignoring anything that follows it: "12abc" is 12. There is no upper
// bound on the number of digits.
func parseInt(s string) (*big.Int, error) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return nil, ErrNotANumber
	}

	n, ok := new(big.Int).SetString(s[:end], 10)
	if !ok {
		return nil, ErrNotANumber
	}
	return n, nil
}

func respond(w http.ResponseWriter, status int, body string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, err := io.WriteString(w, body)
	return err
}
