package ai

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"sage/internal/apperrors"
)

// OpenAIClient is the Client adapter over the OpenAI Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a chat client for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(defaultMaxTokens),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Wrap(apperrors.KindTimeout, err, "chat completion cancelled")
		}
		return "", apperrors.Wrap(apperrors.KindProviderUnavailable, err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New(apperrors.KindProviderUnavailable, "openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model reports the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// HealthCheck issues a one-token probe completion.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	_, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
		MaxCompletionTokens: openai.Int(1),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, err, "openai health check")
	}
	return nil
}
