package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const maxBackoff = 30 * time.Second

// retryClient retries transient failures of the wrapped client.
type retryClient struct {
	inner      Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

func wrapWithRetry(client Client, maxRetries int) Client {
	if maxRetries <= 1 {
		return client
	}
	return &retryClient{
		inner:      client,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		logger:     slog.Default(),
	}
}

func (r *retryClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == r.maxRetries-1 {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("llm request failed, retrying",
			"provider", r.inner.Provider(),
			"attempt", attempt+1,
			"max_retries", r.maxRetries,
			"delay", delay,
			"error", err,
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if !isRetryable(lastErr) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

func (r *retryClient) GenerateJSON(ctx context.Context, req *Request, out any) error {
	req.JSONMode = true
	resp, err := r.Generate(ctx, req)
	if err != nil {
		return err
	}
	return decodeJSON(resp.Content, out)
}

func (r *retryClient) Provider() Provider { return r.inner.Provider() }
func (r *retryClient) Close() error       { return r.inner.Close() }

func (r *retryClient) backoff(attempt int) time.Duration {
	d := r.baseDelay << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
