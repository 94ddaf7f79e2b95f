package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookOptions{Sink: "slack", URL: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack url is required")
}

func TestWebhook_PostJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook, err := NewWebhook(WebhookOptions{Sink: "test", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, hook.PostJSON(context.Background(), map[string]string{"hello": "world"}))
	assert.Equal(t, "world", got["hello"])
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook, err := NewWebhook(WebhookOptions{Sink: "test", URL: srv.URL, RetryLimit: 2, Backoff: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, hook.PostJSON(context.Background(), struct{}{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	hook, err := NewWebhook(WebhookOptions{Sink: "test", URL: srv.URL, RetryLimit: 3, Backoff: time.Millisecond})
	require.NoError(t, err)

	err = hook.PostJSON(context.Background(), struct{}{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Equal(t, "invalid_payload", statusErr.Body)
	assert.False(t, statusErr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	hook, err := NewWebhook(WebhookOptions{Sink: "test", URL: srv.URL, RetryLimit: 5, Backoff: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = hook.PostJSON(ctx, struct{}{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Retryable())
}
