package embeddings

import (
	"context"
	"crypto/sha256"
	"sync/atomic"

	"sage/pkg/types"
)

// MockProvider is a deterministic in-process provider for tests. Vectors are
// derived from a content hash so identical texts embed identically and
// similar behavior is stable across runs.
type MockProvider struct {
	calls int64
	fail  error
}

// NewMockProvider creates a mock provider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// FailWith makes every subsequent call return err. Pass nil to heal.
func (m *MockProvider) FailWith(err error) { m.fail = err }

// Calls reports how many Embed calls were made.
func (m *MockProvider) Calls() int64 { return atomic.LoadInt64(&m.calls) }

// Embed produces hash-derived unit vectors.
func (m *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&m.calls, 1)
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text)
	}
	return out, nil
}

// Dimensions returns the standard dimensionality.
func (m *MockProvider) Dimensions() int { return types.EmbeddingDim }

// HealthCheck reports the configured failure, if any.
func (m *MockProvider) HealthCheck(context.Context) error { return m.fail }

func deterministicVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, types.EmbeddingDim)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = float32(b)/255.0 - 0.5
	}
	return vec
}
