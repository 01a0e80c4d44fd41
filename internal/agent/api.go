package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const turnMaxTokens = 8192

// APIRunner executes turns through the Anthropic Messages API.
type APIRunner struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAPIRunner creates a runner with the given API key and model. An empty
// key falls back to the SDK's environment lookup.
func NewAPIRunner(apiKey, model string) *APIRunner {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &APIRunner{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// ExecuteTurn sends the turn prompt and returns the response text.
func (r *APIRunner) ExecuteTurn(ctx context.Context, req TurnRequest) (string, error) {
	msg, err := r.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: turnMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}
