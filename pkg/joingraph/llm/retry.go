package llm

import (
	"context"

	"github.com/randalmurphal/joingraph/pkg/joingraph/retry"
)

type retryClient struct {
	next Client
	cfg  retry.Config
}

// WithRetry wraps a client so transient failures are retried per cfg.
// Nodes never retry on their own; this is the opt-in layer.
func WithRetry(c Client, cfg retry.Config) Client {
	return &retryClient{next: c, cfg: cfg}
}

// Complete implements Client.
func (r *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	res := retry.Do(ctx, r.cfg, "complete", func(ctx context.Context) (*CompletionResponse, error) {
		return r.next.Complete(ctx, req)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}
