package client

import (
	"context"
	"strings"
)

// Engine adapts a TranscriptionClient to the single-method transcriber the
// pipeline expects.
type Engine struct {
	client TranscriptionClient
	opts   TranscribeOptions
}

// NewEngine returns an Engine that sends every file with the same options.
func NewEngine(client TranscriptionClient, opts TranscribeOptions) *Engine {
	return &Engine{client: client, opts: opts}
}

// Transcribe returns the trimmed transcript of a WAV file.
func (e *Engine) Transcribe(ctx context.Context, pcmPath string) (string, error) {
	result, err := e.client.Transcribe(ctx, pcmPath, e.opts)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return strings.TrimSpace(result.Text), nil
}
