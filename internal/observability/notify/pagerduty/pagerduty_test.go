package pagerduty

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
	"github.com/target/chart-analysis-worker/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err, "routing key is required")
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:      "job-123",
		ActionType: "analysis",
		Asset:      "BTCUSDT",
		Stage:      "replay",
		Error:      "boom",
		ErrorClass: "err_class",
		Metadata:   map[string]string{"agent": "consensus", "job_id": "ignored"},
	})

	assert.Equal(t, "trigger", event.EventAction)
	assert.Equal(t, notify.SeverityCritical, event.Payload.Severity)
	assert.Equal(t, "analysis-worker", event.Payload.Source)
	assert.Equal(t, "queue_consumer", event.Payload.Component)
	assert.Equal(t, "Analysis job job-123 failed during replay (BTCUSDT)", event.Payload.Summary)

	custom := event.Payload.CustomDetails
	for _, key := range []string{"job_id", "action_type", "asset", "message_id", "stage", "error", "error_class", "agent"} {
		assert.Contains(t, custom, key)
	}
	assert.Equal(t, "job-123", custom["job_id"], "metadata must not override canonical fields")
	assert.Equal(t, "analysis:job-123", event.DedupKey)
}

func TestBuildEventWithoutJobID(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	require.NoError(t, err)

	event := client.buildEvent(notify.JobFailurePayload{Severity: "WARNING"})
	assert.Empty(t, event.DedupKey, "PagerDuty assigns a key when none is sent")
	assert.Equal(t, notify.SeverityWarning, event.Payload.Severity)
	assert.Equal(t, "Analysis job unknown failed during processing", event.Payload.Summary)
}

func TestSendJobFailureRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["routing_key"])
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL, RetryLimit: 1})
	require.NoError(t, err)

	require.NoError(t, client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-1"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendJobFailureReturnsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "key", Endpoint: srv.URL})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-1"})
	var statusErr *notify.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "bad key", statusErr.Body)
}
