// Package openai adapts OpenAI-compatible chat completion APIs to the language model
// port.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/ports"
	goopenai "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

type Client struct {
	client *goopenai.Client
	model  string
}

var _ ports.Completer = (*Client)(nil)

// NewClient builds a client. baseURL may point at any OpenAI-compatible server and is
// optional.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{client: goopenai.NewClientWithConfig(cfg), model: model}
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("openai: empty response")
	}
	return out, nil
}
