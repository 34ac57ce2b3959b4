package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
)

// DefaultRetryCount is the default number of retry attempts.
const DefaultRetryCount = 3

// DefaultBaseDelay is the initial delay for exponential backoff.
const DefaultBaseDelay = 1 * time.Second

// RetryClient wraps a TranscriptionClient with retry logic and exponential backoff.
// Only transport failures are retried: connection errors and 5xx responses.
type RetryClient struct {
	client    TranscriptionClient
	maxRetry  int
	baseDelay time.Duration
	logger    logging.Logger
}

// RetryOption configures the RetryClient.
type RetryOption func(*RetryClient)

// WithRetryCount sets the maximum number of retry attempts.
func WithRetryCount(n int) RetryOption {
	return func(c *RetryClient) {
		c.maxRetry = n
	}
}

// WithBaseDelay sets the initial delay for exponential backoff.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryClient) {
		c.baseDelay = d
	}
}

// WithLogger sets a logger for retry attempts.
func WithLogger(l logging.Logger) RetryOption {
	return func(c *RetryClient) {
		c.logger = l
	}
}

// NewRetryClient creates a new RetryClient wrapping the given TranscriptionClient.
func NewRetryClient(client TranscriptionClient, opts ...RetryOption) *RetryClient {
	c := &RetryClient{
		client:    client,
		maxRetry:  DefaultRetryCount,
		baseDelay: DefaultBaseDelay,
		logger:    logging.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Transcribe sends an audio file for transcription, retrying transient failures.
func (c *RetryClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*TranscriptionResult, error) {
	attempt := 0
	op := func() (*TranscriptionResult, error) {
		attempt++
		result, err := c.client.Transcribe(ctx, audioPath, opts)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("transcription retry",
			logging.Int("attempt", attempt),
			logging.Int("max_retries", c.maxRetry),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}

	result, err := backoff.RetryNotifyWithData(op, c.backOff(ctx), notify)
	if err != nil {
		if attempt > 1 && isRetryable(err) {
			return nil, fmt.Errorf("transcription failed after %d retries: %w", attempt-1, err)
		}
		return nil, err
	}
	return result, nil
}

// backOff doubles the delay after each attempt without jitter: 1s, 2s, 4s...
func (c *RetryClient) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.baseDelay << 10
	b.MaxElapsedTime = 0
	b.Reset()

	maxRetry := c.maxRetry
	if maxRetry < 0 {
		maxRetry = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetry)), ctx)
}

// isRetryable reports whether an error should trigger a retry: connection
// errors and 5xx responses are, 4xx responses and cancellation are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
