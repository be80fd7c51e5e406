package embeddings

import (
	"context"

	"sage/internal/retry"
)

// RetryingProvider decorates a Provider with the bounded exponential-backoff
// schedule. This is the only suspension-point layer besides the brainstorm
// engine that retries at all.
type RetryingProvider struct {
	inner Provider
	cfg   *retry.Config
}

// NewRetryingProvider wraps the given provider. A nil config uses the default
// 1s/2s/4s schedule with three attempts.
func NewRetryingProvider(inner Provider, cfg *retry.Config) *RetryingProvider {
	if cfg == nil {
		cfg = retry.Default()
	}
	return &RetryingProvider{inner: inner, cfg: cfg}
}

// Embed retries transient failures and returns the final error otherwise.
func (r *RetryingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retry.Do(ctx, r.cfg, func(ctx context.Context) error {
		var opErr error
		out, opErr = r.inner.Embed(ctx, texts)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions delegates to the wrapped provider.
func (r *RetryingProvider) Dimensions() int { return r.inner.Dimensions() }

// HealthCheck delegates without retry so outages surface quickly.
func (r *RetryingProvider) HealthCheck(ctx context.Context) error {
	return r.inner.HealthCheck(ctx)
}
