package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBackoff = 200 * time.Millisecond
	maxErrorBody          = 4 << 10
)

// StatusError is returned when a webhook answers with a non-2xx status.
type StatusError struct {
	Sink   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d %s: %s", e.Sink, e.Status, http.StatusText(e.Status), e.Body)
}

// Retryable reports whether the status is worth another attempt (throttling or server side).
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	// Sink names the destination in errors, e.g. "slack".
	Sink       string
	URL        string
	Timeout    time.Duration
	RetryLimit int
	// Backoff is the linear step between attempts; attempt n waits n*Backoff.
	Backoff time.Duration
	Client  *http.Client
}

// Webhook posts JSON documents with bounded linear-backoff retries.
type Webhook struct {
	sink       string
	url        string
	retryLimit int
	backoff    time.Duration
	client     *http.Client
}

// NewWebhook validates opts and fills defaults.
func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, fmt.Errorf("%s url is required", opts.Sink)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultWebhookBackoff
	}
	return &Webhook{
		sink:       opts.Sink,
		url:        url,
		retryLimit: max(opts.RetryLimit, 0),
		backoff:    backoff,
		client:     client,
	}, nil
}

// PostJSON encodes v and delivers it. 4xx responses other than 429 fail immediately.
func (w *Webhook) PostJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", w.sink, err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retryLimit; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * w.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = w.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

func (w *Webhook) post(ctx context.Context, body []byte) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", w.sink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", w.sink, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close %s response body: %w", w.sink, closeErr))
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return fmt.Errorf("drain %s response body: %w", w.sink, drainErr)
		}
		return nil
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return errors.Join(&StatusError{Sink: w.sink, Status: resp.StatusCode}, readErr)
	}
	return &StatusError{Sink: w.sink, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
