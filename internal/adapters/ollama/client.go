// Package ollama provides a language model adapter for a local Ollama instance.
// Prompts are sent to the chat endpoint and the assistant message is returned as-is.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/ports"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1:8b"
	defaultTimeout = 30 * time.Second
)

const systemPrompt = "You are the language model behind a voice assistant that answers questions and controls music playback. Follow the output format the user message asks for exactly. When JSON is requested, return only JSON."

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ ports.Completer = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// NewClient builds a client. Empty values fall back to a local instance, a default model
// and a 30s timeout.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete sends a single-turn chat and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:  c.model,
		Stream: false,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama: unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: %s", parsed.Error)
	}

	content := stripThinking(parsed.Message.Content)
	if content == "" {
		return "", fmt.Errorf("ollama: empty response")
	}
	return content, nil
}

// stripThinking drops the <think> block reasoning models prepend to their answer.
func stripThinking(s string) string {
	if i := strings.Index(s, "</think>"); i >= 0 && strings.HasPrefix(strings.TrimSpace(s), "<think>") {
		s = s[i+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
