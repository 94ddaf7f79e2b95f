package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"github.com/target/chart-analysis-worker/internal/observability/metrics"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

// Channel labels used in logs and routes.
const (
	ChannelInput  = "input"
	ChannelOutput = "output"
)

// ErrNilJob is returned when PublishTask is called without a job.
var ErrNilJob = errors.New("job is required")

// QueuePublisherConfig holds the destination queues.
type QueuePublisherConfig struct {
	InputQueueURL  string
	OutputQueueURL string
	// GenerateDeduplicationIDs attaches a random deduplication id to every message, for FIFO
	// queues without content-based deduplication.
	GenerateDeduplicationIDs bool
}

// QueuePublisherOptions groups dependencies for QueuePublisher.
type QueuePublisherOptions struct {
	Transport core.QueueTransport // Required
	Config    QueuePublisherConfig
	Logger    *slog.Logger // Optional
	Metrics   statsd.Sink  // Optional
}

// QueuePublisher routes job status updates and results to the input or output queue.
type QueuePublisher struct {
	transport core.QueueTransport
	cfg       QueuePublisherConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

var _ core.TaskPublisher = (*QueuePublisher)(nil)

// NewQueuePublisher constructs a QueuePublisher. It panics when the transport is missing.
func NewQueuePublisher(opts QueuePublisherOptions) *QueuePublisher {
	if opts.Transport == nil {
		panic("QueueTransport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuePublisher{
		transport: opts.Transport,
		cfg:       opts.Config,
		logger:    logger.With("component", "queue_publisher"),
		metrics:   opts.Metrics,
	}
}

// Route is where a job is published.
type Route struct {
	Channel  string
	QueueURL string
	GroupID  string
}

// Route picks the destination for job. Completed analysis jobs loop back onto the input queue;
// everything else goes to the output queue. The group id is "<action_type>_tasks".
func (p *QueuePublisher) Route(job *model.Job) Route {
	group := string(job.ActionType)
	if group == "" {
		group = "default"
	}
	r := Route{Channel: ChannelOutput, QueueURL: p.cfg.OutputQueueURL, GroupID: group + "_tasks"}
	if job.Status == model.JobStatusCompleted && job.ActionType == model.ActionTypeAnalysis {
		r.Channel = ChannelInput
		r.QueueURL = p.cfg.InputQueueURL
	}
	return r
}

// PublishTask sends the full job as the message body. Transport failures are logged and returned.
func (p *QueuePublisher) PublishTask(ctx context.Context, job *model.Job) error {
	if job == nil {
		return ErrNilJob
	}

	return p.send(ctx, job, p.Route(job))
}

// Enqueue submits job to the input queue for processing, whatever its status. The group and
// deduplication id rules match PublishTask.
func (p *QueuePublisher) Enqueue(ctx context.Context, job *model.Job) error {
	if job == nil {
		return ErrNilJob
	}
	route := p.Route(job)
	route.Channel = ChannelInput
	route.QueueURL = p.cfg.InputQueueURL
	return p.send(ctx, job, route)
}

func (p *QueuePublisher) send(ctx context.Context, job *model.Job, route Route) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.JobID, err)
	}

	msg := core.OutboundMessage{
		QueueURL: route.QueueURL,
		Body:     string(body),
		GroupID:  route.GroupID,
	}
	if p.cfg.GenerateDeduplicationIDs {
		msg.DeduplicationID = uuid.NewString()
	}

	if err := p.transport.Send(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish job update",
			"job_id", job.JobID,
			"status", job.Status,
			"channel", route.Channel,
			"group_id", route.GroupID,
			"error", err,
		)
		p.count(route, metrics.ResultError)
		return fmt.Errorf("publish job %s to %s queue: %w", job.JobID, route.Channel, err)
	}

	p.count(route, metrics.ResultSuccess)
	p.logger.DebugContext(ctx, "published job update",
		"job_id", job.JobID,
		"status", job.Status,
		"channel", route.Channel,
		"group_id", route.GroupID,
	)
	return nil
}

func (p *QueuePublisher) count(route Route, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Count("queue.publish", 1, map[string]string{
		"destination": route.Channel,
		"group_id":    route.GroupID,
		"result":      result,
	})
}
