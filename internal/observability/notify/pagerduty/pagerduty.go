// Package pagerduty raises job failures as PagerDuty Events API v2 trigger events.
package pagerduty

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/target/chart-analysis-worker/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	// Endpoint overrides APIEndpoint (used by tests and regional ingest URLs).
	Endpoint   string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	hook       *notify.Webhook
	routingKey string
	source     string
	component  string
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string         `json:"summary"`
	Severity      string         `json:"severity"`
	Source        string         `json:"source"`
	Component     string         `json:"component"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details"`
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = APIEndpoint
	}
	hook, err := notify.NewWebhook(notify.WebhookOptions{
		Sink:       "pagerduty",
		URL:        endpoint,
		Timeout:    cfg.Timeout,
		RetryLimit: cfg.RetryLimit,
		Client:     cfg.Client,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		hook:       hook,
		routingKey: key,
		source:     orDefault(cfg.Source, "analysis-worker"),
		component:  orDefault(cfg.Component, "queue_consumer"),
	}, nil
}

// SendJobFailure submits a trigger event to PagerDuty.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.hook.PostJSON(ctx, c.buildEvent(payload))
}

// buildEvent maps a failure to a trigger event. Events share a dedup key per job, so a job that
// fails again on replay updates its open incident instead of opening another.
func (c *Client) buildEvent(payload notify.JobFailurePayload) event {
	occurred := payload.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	custom := make(map[string]any, len(payload.Metadata)+7)
	for k, v := range payload.Metadata {
		custom[k] = v
	}
	custom["job_id"] = payload.JobID
	custom["action_type"] = payload.ActionType
	custom["asset"] = payload.Asset
	custom["message_id"] = payload.MessageID
	custom["stage"] = payload.Stage
	custom["error"] = payload.Error
	custom["error_class"] = payload.ErrorClass

	summary := "Analysis job " + orDefault(payload.JobID, "unknown") +
		" failed during " + orDefault(payload.Stage, "processing")
	if payload.Asset != "" {
		summary += " (" + payload.Asset + ")"
	}

	var dedupKey string
	if payload.JobID != "" {
		dedupKey = "analysis:" + payload.JobID
	}

	return event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload: eventPayload{
			Summary:       summary,
			Severity:      orDefault(strings.ToLower(payload.Severity), notify.SeverityCritical),
			Source:        c.source,
			Component:     c.component,
			Timestamp:     occurred.UTC().Format(time.RFC3339),
			CustomDetails: custom,
		},
	}
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
