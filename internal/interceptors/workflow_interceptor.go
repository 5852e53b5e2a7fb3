// Package interceptors adds correlation headers to outgoing HTTP calls made
// by the embedding and reranker clients, so requests can be traced back to
// the actor/workflow that issued them.
package interceptors

import (
	"context"
	"net/http"
)

type correlationKey struct{}

// Correlation carries the workflow/run ids used to tag outgoing requests.
// Nothing in this module calls WithCorrelation; requests carry the headers
// only when a caller has stored a Correlation on the request context.
type Correlation struct {
	WorkflowID string
	RunID      string
}

// WithCorrelation returns a context carrying the given correlation ids.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// CorrelationFromContext retrieves the correlation ids set by WithCorrelation,
// if any.
func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	c, ok := ctx.Value(correlationKey{}).(Correlation)
	return c, ok
}

// WorkflowHTTPRoundTripper adds workflow/actor correlation headers to
// outgoing HTTP requests.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper creates a new HTTP interceptor that adds
// correlation metadata to requests.
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper and injects correlation headers.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if c, ok := CorrelationFromContext(req.Context()); ok && c.WorkflowID != "" {
		req.Header.Set("X-Workflow-ID", c.WorkflowID)
		req.Header.Set("X-Run-ID", c.RunID)
	}
	return w.base.RoundTrip(req)
}
