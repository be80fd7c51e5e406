package ai

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sage/internal/apperrors"
)

// AnthropicClient is the Client adapter over the Claude Messages API.
type AnthropicClient struct {
	client sdk.Client
	model  string
}

// NewAnthropicClient creates a messages client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends one system+user exchange and returns the concatenated text
// blocks of the response.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Wrap(apperrors.KindTimeout, err, "message request cancelled")
		}
		return "", apperrors.Wrap(apperrors.KindProviderUnavailable, err, "anthropic message")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Model reports the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// HealthCheck issues a one-token probe message.
func (c *AnthropicClient) HealthCheck(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, err, "anthropic health check")
	}
	return nil
}
