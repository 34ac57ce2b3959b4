package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

var _ pipeline.Notifier = (*Webhook)(nil)

// Webhook defaults.
const (
	DefaultWebhookTimeout = 10 * time.Second
	DefaultWebhookRetries = 3
	DefaultWebhookDelay   = 500 * time.Millisecond
)

// WebhookError is returned for a non-2xx webhook response.
type WebhookError struct {
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook: status %d: %s", e.StatusCode, e.Body)
}

// Webhook POSTs each outcome as JSON. The run ID is sent as the
// Idempotency-Key header so a receiver can drop retried deliveries.
type Webhook struct {
	url        string
	httpClient *http.Client
	maxRetry   int
	baseDelay  time.Duration
	logger     logging.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookHTTPClient sets a custom HTTP client.
func WithWebhookHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = c
	}
}

// WithWebhookRetry sets the retry count and the initial backoff delay.
func WithWebhookRetry(maxRetry int, baseDelay time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.maxRetry = maxRetry
		w.baseDelay = baseDelay
	}
}

// WithWebhookLogger sets the logger for retry attempts.
func WithWebhookLogger(l logging.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = l
	}
}

// NewWebhook creates a notifier posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultWebhookTimeout},
		maxRetry:   DefaultWebhookRetries,
		baseDelay:  DefaultWebhookDelay,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Notify delivers outcome. 5xx, 429 and connection errors are retried with
// exponential backoff; other 4xx responses fail at once.
func (w *Webhook) Notify(ctx context.Context, outcome pipeline.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	op := func() error {
		return w.post(ctx, outcome.RunID, payload)
	}
	notify := func(err error, delay time.Duration) {
		w.logger.Warn("webhook retry",
			logging.String("run_id", outcome.RunID),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.baseDelay
	b.MaxElapsedTime = 0
	retries := w.maxRetry
	if retries < 0 {
		retries = 0
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify)
}

func (w *Webhook) post(ctx context.Context, runID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", runID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	werr := &WebhookError{StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return werr
	}
	return backoff.Permanent(werr)
}
