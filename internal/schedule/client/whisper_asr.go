// Package client talks to the speech-to-text service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// TranscriptionClient sends audio and receives text.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscriptionResult, error)
}

// TranscribeOptions configures the transcription request.
type TranscribeOptions struct {
	// Language is an ISO code; empty or "auto" lets the service detect it.
	Language string
	// InitialPrompt biases the decoder, e.g. with names that come up often.
	InitialPrompt string
}

// TranscriptionResult contains the API response.
type TranscriptionResult struct {
	Text     string
	Language string
}

// OutputFormat specifies the response format from the transcription API.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Minute

// APIError is returned when the service answers with a non-200 status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// WhisperASRClient implements TranscriptionClient for onerahmet/openai-whisper-asr-webservice.
// Audio is uploaded as the 16 kHz mono WAV the transcoder produces, so the
// service is told not to re-encode it.
type WhisperASRClient struct {
	baseURL    string
	httpClient *http.Client
	output     OutputFormat
}

// WhisperASROption configures the WhisperASRClient.
type WhisperASROption func(*WhisperASRClient)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.httpClient.Timeout = d
	}
}

// WithOutputFormat sets the response format (text or json).
func WithOutputFormat(format OutputFormat) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.output = format
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WhisperASROption {
	return func(c *WhisperASRClient) {
		c.httpClient = client
	}
}

// NewWhisperASRClient creates a new client for the whisper-asr-webservice.
func NewWhisperASRClient(baseURL string, opts ...WhisperASROption) *WhisperASRClient {
	c := &WhisperASRClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		output: OutputFormatJSON,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Transcribe uploads a WAV file and returns the transcription.
func (c *WhisperASRClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscriptionResult, error) {
	body, contentType, err := multipartBody(audioPath)
	if err != nil {
		return nil, err
	}

	reqURL, err := c.buildURL(opts)
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return c.parseResponse(resp.Body)
}

func multipartBody(audioPath string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (c *WhisperASRClient) buildURL(opts TranscribeOptions) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/asr"
	}

	q := u.Query()
	q.Set("output", string(c.output))
	q.Set("task", "transcribe")
	q.Set("encode", "false")

	if opts.Language != "" && opts.Language != "auto" {
		q.Set("language", opts.Language)
	}
	if opts.InitialPrompt != "" {
		q.Set("initial_prompt", opts.InitialPrompt)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WhisperASRClient) parseResponse(body io.Reader) (*TranscriptionResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if c.output == OutputFormatText {
		return &TranscriptionResult{
			Text: string(data),
		}, nil
	}

	var resp whisperASRResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON response: %w", err)
	}

	return &TranscriptionResult{
		Text:     resp.Text,
		Language: resp.Language,
	}, nil
}

// whisperASRResponse represents the JSON response from the whisper-asr-webservice.
type whisperASRResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}
