package simplemath_test

import (
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
	"github.com/Voitanos/azfunctions-cicd-iac/azfunctest"
	"github.com/Voitanos/azfunctions-cicd-iac/simplemath"
)

func invoke(t *testing.T, client *azfunctest.Client, query string) *httptest.ResponseRecorder {
	t.Helper()

	h := azfunc.Wrap(client, simplemath.EventSource, simplemath.New(client).ServeFunction)
	req := httptest.NewRequest(http.MethodGet, "/api/simplemath?"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdd(t *testing.T) {
	assert.Equal(t, "5", simplemath.Add(big.NewInt(2), big.NewInt(3)).String())
	assert.Equal(t, "-1", simplemath.Add(big.NewInt(2), big.NewInt(-3)).String())

	a, b := big.NewInt(1), big.NewInt(2)
	simplemath.Add(a, b)
	assert.Equal(t, "1", a.String())
	assert.Equal(t, "2", b.String())
}

func TestFunction(t *testing.T) {
	testcases := map[string]struct {
		Query  string
		Status int
		Body   string
		Traces int
	}{
		"sum": {
			Query:  "operandA=2&operandB=3",
			Status: http.StatusOK,
			Body:   "The result of 2 + 3 = 5",
			Traces: 1,
		},
		"negative": {
			Query:  "operandA=-7&operandB=3",
			Status: http.StatusOK,
			Body:   "The result of -7 + 3 = -4",
			Traces: 1,
		},
		"leading integer": {
			Query:  "operandA=12abc&operandB=%2B1",
			Status: http.StatusOK,
			Body:   "The result of 12 + 1 = 13",
			Traces: 1,
		},
		"beyond int64": {
			Query:  "operandA=9223372036854775807&operandB=1",
			Status: http.StatusOK,
			Body:   "The result of 9223372036854775807 + 1 = 9223372036854775808",
			Traces: 1,
		},
		"below int64": {
			Query:  "operandA=-9223372036854775808&operandB=-1",
			Status: http.StatusOK,
			Body:   "The result of -9223372036854775808 + -1 = -9223372036854775809",
			Traces: 1,
		},
		"twenty digits": {
			Query:  "operandA=99999999999999999999&operandB=1",
			Status: http.StatusOK,
			Body:   "The result of 99999999999999999999 + 1 = 100000000000000000000",
			Traces: 1,
		},
		"missing operandB": {
			Query:  "operandA=2",
			Status: http.StatusBadRequest,
			Body:   "Missing arguments 'operandA' & 'operandB' on querystring.",
			Traces: 2,
		},
		"missing operandA": {
			Query:  "operandB=2",
			Status: http.StatusBadRequest,
			Body:   "Missing arguments 'operandA' & 'operandB' on querystring.",
			Traces: 2,
		},
		"empty operand": {
			Query:  "operandA=&operandB=2",
			Status: http.StatusBadRequest,
			Body:   "Missing arguments 'operandA' & 'operandB' on querystring.",
			Traces: 2,
		},
		"not a number": {
			Query:  "operandA=x&operandB=3",
			Status: http.StatusBadRequest,
			Body:   "Both operandA & operandB must be numbers.",
			Traces: 1,
		},
		"sign only": {
			Query:  "operandA=1&operandB=-",
			Status: http.StatusBadRequest,
			Body:   "Both operandA & operandB must be numbers.",
			Traces: 1,
		},
	}

	for name, testcase := range testcases {
		t.Run(name, func(t *testing.T) {
			client := azfunctest.NewClient()

			rec := invoke(t, client, testcase.Query)

			assert.Equal(t, testcase.Status, rec.Code)
			assert.Equal(t, testcase.Body, rec.Body.String())

			traces := client.Traces()
			require.Len(t, traces, testcase.Traces)
			for _, tr := range traces {
				assert.Equal(t, simplemath.EventSource, tr.Properties["source"])
				assert.Equal(t, testcase.Query, tr.Properties["requestQuery"])
			}
			assert.Equal(t, "HTTP request received", traces[0].Message)

			requests := client.Requests()
			require.Len(t, requests, 1)
			assert.Equal(t, testcase.Status == http.StatusOK, requests[0].Success)
		})
	}
}

func TestFunction_NotANumberIsReported(t *testing.T) {
	client := azfunctest.NewClient()

	invoke(t, client, "operandA=x&operandB=3")

	exceptions := client.Exceptions()
	require.Len(t, exceptions, 1)
	assert.ErrorIs(t, exceptions[0].Err, simplemath.ErrNotANumber)
	assert.Equal(t, azfunc.SeverityCritical, exceptions[0].Severity)
}

func TestFunction_AnySum(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(-1_000_000, 1_000_000).Draw(rt, "a")
		b := rapid.IntRange(-1_000_000, 1_000_000).Draw(rt, "b")

		client := azfunctest.NewClient()
		query := url.Values{"operandA": {fmt.Sprint(a)}, "operandB": {fmt.Sprint(b)}}.Encode()
		rec := invoke(t, client, query)

		if rec.Code != http.StatusOK {
			rt.Fatalf("status %d for %d + %d", rec.Code, a, b)
		}
		want := fmt.Sprintf("The result of %d + %d = %d", a, b, a+b)
		if rec.Body.String() != want {
			rt.Fatalf("body %q, want %q", rec.Body.String(), want)
		}
	})
}

func TestFunction_LargeOperandsAreExact(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.StringMatching(`-?[1-9][0-9]{18,39}`).Draw(rt, "a")
		b := rapid.StringMatching(`-?[1-9][0-9]{0,39}`).Draw(rt, "b")

		x, _ := new(big.Int).SetString(a, 10)
		y, _ := new(big.Int).SetString(b, 10)
		sum := new(big.Int).Add(x, y)

		client := azfunctest.NewClient()
		query := url.Values{"operandA": {a}, "operandB": {b}}.Encode()
		rec := invoke(t, client, query)

		if rec.Code != http.StatusOK {
			rt.Fatalf("status %d for %s + %s", rec.Code, a, b)
		}
		want := fmt.Sprintf("The result of %s + %s = %s", a, b, sum)
		if rec.Body.String() != want {
			rt.Fatalf("body %q, want %q", rec.Body.String(), want)
		}
	})
}
