// Package ai provides the provider-neutral LLM client used by brainstorm
// generation, intent parsing, graph extraction and focus summarization, with
// OpenAI and Anthropic adapters.
package ai

import (
	"context"
)

// Client is the minimal completion contract the rest of sage depends on.
type Client interface {
	// Complete sends a system prompt plus one user message and returns the
	// assistant text.
	Complete(ctx context.Context, system, user string) (string, error)

	// Model reports the configured model identifier.
	Model() string

	// HealthCheck verifies the provider is reachable with a trivial request.
	HealthCheck(ctx context.Context) error
}

// defaultMaxTokens caps completion length for all adapters. Brainstorm
// reports are the longest output and fit comfortably.
const defaultMaxTokens = 4096
