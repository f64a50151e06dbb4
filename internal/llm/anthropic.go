package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic completes prompts against the Anthropic API.
type Anthropic struct {
	client  anthropic.Client
	modelID string
}

// NewAnthropic builds a provider for one model. An empty key falls back to
// the SDK's ANTHROPIC_API_KEY handling.
func NewAnthropic(apiKey, modelID string) *Anthropic {
	var client anthropic.Client
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	} else {
		client = anthropic.NewClient()
	}
	return &Anthropic{client: client, modelID: modelID}
}

// Complete sends one closed user message and returns the concatenated text
// blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.modelID),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var parts []string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			parts = append(parts, resp.Content[i].Text)
		}
	}
	return strings.Join(parts, ""), nil
}
