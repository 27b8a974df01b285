package llm

import (
	"context"
	"time"

	"github.com/ragline/ragline/types"
)

// DefaultTimeout bounds every model call. On expiry the call is abandoned
// and the fallback value is used; retries belong to the provider, not here.
const DefaultTimeout = 15 * time.Second

// FallbackAnswer is what the engine says when the model is unreachable.
const FallbackAnswer = "I'm sorry — I ran into a problem answering that. Please try again."

type fallbackClient struct {
	inner   Client
	timeout time.Duration
}

// WithFallback wraps a client so that timeouts and backend failures degrade
// to safe defaults instead of propagating. Call returns FallbackAnswer,
// RewriteQuery returns the query unchanged, and AnalyzeComplexity reports
// a simple query.
func WithFallback(inner Client, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &fallbackClient{inner: inner, timeout: timeout}
}

func (c *fallbackClient) Call(ctx context.Context, messages []types.Message, opts CallOptions) (string, error) {
	if c.inner == nil {
		return FallbackAnswer, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.inner.Call(callCtx, messages, opts)
	if err != nil || out == "" {
		return FallbackAnswer, nil
	}
	return out, nil
}

func (c *fallbackClient) RewriteQuery(ctx context.Context, query string, history []types.Message) (string, error) {
	if c.inner == nil {
		return query, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.inner.RewriteQuery(callCtx, query, history)
	if err != nil || out == "" {
		return query, nil
	}
	return out, nil
}

func (c *fallbackClient) AnalyzeComplexity(ctx context.Context, query string) (Complexity, error) {
	if c.inner == nil {
		return Complexity{}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.inner.AnalyzeComplexity(callCtx, query)
	if err != nil {
		return Complexity{}, nil
	}
	return out, nil
}
