// Package gemini adapts Google's Gemini models to the language model port.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/ports"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini: no text in response")

type Client struct {
	client    *genai.Client
	modelName string
}

var _ ports.Completer = (*Client)(nil)

// NewClient connects with an API key. The model defaults to gemini-1.5-flash.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: client, modelName: modelName}, nil
}

// Complete generates a single response for prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.modelName)
	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return responseText(res)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// responseText joins the text parts of the first candidate.
func responseText(res *genai.GenerateContentResponse) (string, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
