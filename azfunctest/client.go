// Package azfunctest provides an in-memory azfunc.Client for tests.
package azfunctest

import (
	"context"
	"net/http"
	"sync"

	azfunc "github.com/Voitanos/azfunctions-cicd-iac"
)

// Client records every call made to it. It is safe for concurrent use.
type Client struct {
	// Correlation is returned by StartOperation.
	Correlation azfunc.CorrelationContext
	// FlushErr is returned by Flush.
	FlushErr error

	mu         sync.Mutex
	operations int
	traces     []azfunc.Trace
	exceptions []azfunc.Exception
	requests   []azfunc.Request
	flushes    []context.Context
}

var _ azfunc.Client = (*Client)(nil)

// NewClient returns a Client with a fixed correlation.
func NewClient() *Client {
	return &Client{
		Correlation: azfunc.CorrelationContext{
			OperationID:  "4bf92f3577b34da6a3ce929d0e0e4736",
			ParentID:     "00f067aa0ba902b7",
			InvocationID: "invocation-1",
		},
	}
}

func (c *Client) StartOperation(ctx context.Context, _ *http.Request) (context.Context, azfunc.CorrelationContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations++
	return ctx, c.Correlation
}

func (c *Client) TrackTrace(_ context.Context, t azfunc.Trace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, t)
}

func (c *Client) TrackException(_ context.Context, e azfunc.Exception) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptions = append(c.exceptions, e)
}

func (c *Client) TrackRequest(_ context.Context, r azfunc.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, r)
}

func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes = append(c.flushes, ctx)
	return c.FlushErr
}

// Operations returns the number of StartOperation calls.
func (c *Client) Operations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operations
}

// Traces returns the recorded traces.
func (c *Client) Traces() []azfunc.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]azfunc.Trace(nil), c.traces...)
}

// Exceptions returns the recorded exceptions.
func (c *Client) Exceptions() []azfunc.Exception {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]azfunc.Exception(nil), c.exceptions...)
}

// Requests returns the recorded request completions.
func (c *Client) Requests() []azfunc.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]azfunc.Request(nil), c.requests...)
}

// Flushes returns the contexts Flush was called with.
func (c *Client) Flushes() []context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]context.Context(nil), c.flushes...)
}
