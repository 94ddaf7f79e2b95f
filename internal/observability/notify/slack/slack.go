// Package slack posts job failure notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/target/chart-analysis-worker/internal/observability/notify"
)

const defaultUsername = "analysis-worker"

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL   string
	Channel      string
	Username     string
	Timeout      time.Duration
	RetryLimit   int
	Client       *http.Client
	JobURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	hook      *notify.Webhook
	channel   string
	username  string
	jobPrefix *url.URL
}

type message struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	Channel  string `json:"channel,omitempty"`
}

// NewClient builds a Slack webhook client. A JobURLPrefix that is not an absolute URL is
// ignored and job ids are rendered without links.
func NewClient(cfg Config) (*Client, error) {
	hook, err := notify.NewWebhook(notify.WebhookOptions{
		Sink:       "slack",
		URL:        cfg.WebhookURL,
		Timeout:    cfg.Timeout,
		RetryLimit: cfg.RetryLimit,
		Client:     cfg.Client,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		hook:     hook,
		channel:  strings.TrimSpace(cfg.Channel),
		username: strings.TrimSpace(cfg.Username),
	}
	if c.username == "" {
		c.username = defaultUsername
	}
	if u, parseErr := url.Parse(strings.TrimSpace(cfg.JobURLPrefix)); parseErr == nil && u.Scheme != "" && u.Host != "" {
		c.jobPrefix = u
	}
	return c, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.hook.PostJSON(ctx, c.formatMessage(payload))
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) message {
	occurred := payload.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	severity := payload.Severity
	if severity == "" {
		severity = notify.SeverityCritical
	}

	header := "*Analysis job failed*"
	if payload.Asset != "" {
		header += " `" + textEscaper.Replace(payload.Asset) + "`"
	}
	if payload.ActionType != "" {
		header += " (" + payload.ActionType + ")"
	}

	lines := []string{header}
	for _, f := range [][2]string{
		{"Severity", severity},
		{"Job", c.formatJobValue(payload.JobID)},
		{"Message", payload.MessageID},
		{"Stage", payload.Stage},
		{"Error class", payload.ErrorClass},
		{"Error", textEscaper.Replace(payload.Error)},
	} {
		if strings.TrimSpace(f[1]) != "" {
			lines = append(lines, "• "+f[0]+": "+f[1])
		}
	}
	if len(payload.Metadata) > 0 {
		lines = append(lines, "• Metadata:")
		for _, k := range slices.Sorted(maps.Keys(payload.Metadata)) {
			lines = append(lines, "    • "+k+": "+payload.Metadata[k])
		}
	}
	lines = append(lines, "• Timestamp: "+occurred.UTC().Format(time.RFC3339))

	return message{
		Text:     strings.Join(lines, "\n"),
		Username: c.username,
		Channel:  c.channel,
	}
}

// formatJobValue renders the job id, as a Slack link when a prefix is configured.
func (c *Client) formatJobValue(jobID string) string {
	raw := strings.TrimSpace(jobID)
	if raw == "" {
		return ""
	}
	id := textEscaper.Replace(raw)
	if c.jobPrefix == nil {
		return id
	}
	return fmt.Sprintf("<%s|%s>", c.jobPrefix.JoinPath(raw).String(), id)
}
