package embeddings

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"sage/internal/apperrors"
	"sage/internal/config"
	"sage/pkg/types"
)

// OpenAIProvider generates embeddings through the OpenAI API.
type OpenAIProvider struct {
	client       openai.Client
	model        string
	maxBatchSize int
}

// NewOpenAIProvider creates a provider for the configured embedding model.
func NewOpenAIProvider(cfg *config.EmbeddingConfig) *OpenAIProvider {
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 64
	}
	return &OpenAIProvider{
		client:       openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        cfg.Model,
		maxBatchSize: batch,
	}
}

// Embed generates embeddings for the given texts, batching requests to stay
// under the provider's per-request limit. Input order is preserved.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatchSize {
		end := start + p.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.Wrap(apperrors.KindTimeout, err, "embedding request cancelled")
			}
			return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, err, "embedding request failed")
		}
		if len(resp.Data) != end-start {
			return nil, apperrors.New(apperrors.KindInternal,
				"embedding count mismatch: sent %d, got %d", end-start, len(resp.Data))
		}

		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				vec[i] = float32(f)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality.
func (p *OpenAIProvider) Dimensions() int { return types.EmbeddingDim }

// HealthCheck embeds a trivial probe text.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Embed(ctx, []string{"ping"})
	return err
}
