// Package analyzer sends the schedule-extraction prompt to a language model.
// Both adapters make exactly one attempt per call.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoChoices is returned when the model answers without any message.
var ErrNoChoices = errors.New("no choices in response")

// StatusError is returned for a non-200 reply from the chat endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat API error: status %d: %s", e.StatusCode, e.Body)
}

// ChatClient talks to an OpenAI-compatible /v1/chat/completions endpoint.
type ChatClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// ChatOption configures a ChatClient.
type ChatOption func(*ChatClient)

// WithTimeout bounds each request. By default there is no limit and only
// the caller's context can end a slow completion.
func WithTimeout(d time.Duration) ChatOption {
	return func(c *ChatClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ChatOption {
	return func(c *ChatClient) {
		c.httpClient = client
	}
}

// WithTemperature sets the sampling temperature. The default is 0.
func WithTemperature(t float64) ChatOption {
	return func(c *ChatClient) {
		c.temperature = t
	}
}

// NewChatClient creates a client. A baseURL without a path gets
// /v1/chat/completions appended; apiKey may be empty for local servers.
func NewChatClient(baseURL, apiKey, model string, opts ...ChatOption) (*ChatClient, error) {
	endpoint, err := chatEndpoint(baseURL)
	if err != nil {
		return nil, err
	}

	c := &ChatClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze sends prompt as a single user message and returns the content of
// the first choice.
func (c *ChatClient) Analyze(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrNoChoices
	}
	return parsed.Choices[0].Message.Content, nil
}

func chatEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse analysis URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("analysis URL %q must be absolute", baseURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/chat/completions"
	}
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
