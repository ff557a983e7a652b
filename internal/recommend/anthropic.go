// Package recommend calls the AI collaborator for remediation-recommendation
// text on failed checks. The pipeline treats it as best-effort: every call is
// timeout-bounded by the caller and a failure means "no recommendation",
// never a failed change.
package recommend

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"changegate/internal/domain"
)

const systemPrompt = `You are an IT change compliance assistant. Given a failed
compliance check and a short summary of the change, reply with one short
paragraph recommending how the team should remediate the finding. Reply with
the recommendation text only.`

// AnthropicRecommender produces remediation recommendations via the Anthropic
// Messages API.
type AnthropicRecommender struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(apiKey, model string) (*AnthropicRecommender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	return &AnthropicRecommender{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

func (r *AnthropicRecommender) Recommend(ctx context.Context, reason domain.ReasonCode, summary string) (string, error) {
	prompt := fmt.Sprintf("Failed check reason code: %s\nChange summary: %s", reason, summary)

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	content := message.Content[0]
	if content.Type != "text" {
		return "", fmt.Errorf("unexpected response block type %q", content.Type)
	}
	return content.Text, nil
}
