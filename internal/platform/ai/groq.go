package ai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const (
	titleSystemPrompt = "You are a helpful medical assistant."
	titleUserPrompt   = "Generate a concise medical note title for the following clinical note. Reply with the title only.\n\n%q\n\nTitle:"
)

// GroqTitler generates note titles with a Groq-hosted chat model.
type GroqTitler struct {
	client *openai.Client
	model  string
}

type GroqOption func(*openai.ClientConfig)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) GroqOption {
	return func(c *openai.ClientConfig) { c.BaseURL = url }
}

func NewGroqTitler(apiKey, model string, opts ...GroqOption) *GroqTitler {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GroqBaseURL
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GroqTitler{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *GroqTitler) GenerateTitle(ctx context.Context, content string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(titleUserPrompt, content)},
		},
		MaxTokens:   20,
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("groq chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("groq chat completion: no choices returned")
	}
	return CleanTitle(resp.Choices[0].Message.Content), nil
}
