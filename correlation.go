package azfunc

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
)

// HeaderInvocationID is set by the Azure Functions host on every request it
// forwards to a custom handler.
const HeaderInvocationID = "X-Azure-Functions-InvocationId"

// CorrelationContext binds every record emitted during an invocation to that
// invocation's identity.
//
// OperationID identifies the distributed operation (the W3C trace id) and is
// shared with the caller when a traceparent header was received. ParentID
// identifies this invocation inside the operation and is used as the id of the
// emitted request record.
type CorrelationContext struct {
	OperationID  string
	ParentID     string
	InvocationID string
}

type correlationKey struct{}

// ContextWithCorrelation returns a copy of ctx carrying c.
func ContextWithCorrelation(ctx context.Context, c CorrelationContext) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// CorrelationFromContext returns the correlation attached by Wrap, if any.
func CorrelationFromContext(ctx context.Context) (CorrelationContext, bool) {
	c, ok := ctx.Value(correlationKey{}).(CorrelationContext)
	return c, ok
}

// invocationID reads the host supplied invocation id, generating one when the
// request did not come through the Functions host.
func invocationID(r *http.Request) string {
	if id := r.Header.Get(HeaderInvocationID); id != "" {
		return id
	}
	return uuid.NewString()
}

// randomCorrelation is used when no tracer is recording, so records are still
// attributable to a single invocation.
func randomCorrelation(r *http.Request) CorrelationContext {
	op := uuid.New()
	parent := uuid.New()
	return CorrelationContext{
		OperationID:  hex.EncodeToString(op[:]),
		ParentID:     hex.EncodeToString(parent[:8]),
		InvocationID: invocationID(r),
	}
}
