// Package analysis implements the chart analysis job handler: it runs the reasoning loop against
// the configured backend, extracts a structured trade signal, charges credits and publishes the
// completed job.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"github.com/target/chart-analysis-worker/internal/observability/metrics"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

const (
	jobType = "analysis"

	// DefaultSignalPath selects the whole extraction document.
	DefaultSignalPath = "@"
	// DefaultCreditCost is charged per completed analysis.
	DefaultCreditCost = 1

	// backendErrorText replaces a failed reasoning turn so the loop can continue.
	backendErrorText = "Error"
)

// ErrNilJob is returned when Handle is called without a job.
var ErrNilJob = errors.New("job is required")

// Config tunes the reasoning loop.
type Config struct {
	// ReasoningModel answers the reasoning questions and chat turns. Empty uses the backend default.
	ReasoningModel string
	// ConsensusModels produce the final answer. The signal strategy uses the first entry; the
	// consensus strategy asks all of them.
	ConsensusModels []string
	// FollowupQuestions are asked after the opening query, in order.
	FollowupQuestions []string
	// SignalPath is a JMESPath expression selecting the signal object from the extraction output.
	SignalPath string
	// CreditCost is deducted from the job owner on completion. Zero disables charging.
	CreditCost int
}

// HandlerOptions groups dependencies for Handler.
type HandlerOptions struct {
	Backend       core.ReasoningBackend       // Required
	Images        core.ImageLoader            // Required
	Conversations core.ConversationRepository // Required
	Publisher     core.TaskPublisher          // Required
	Credits       core.CreditRepository       // Optional; nil disables charging
	Config        Config
	Logger        *slog.Logger
	Metrics       statsd.Sink
	// NewMessageID generates conversation message ids; defaults to uuid.NewString.
	NewMessageID func() string
}

// Handler implements core.JobHandler for chart analysis jobs.
type Handler struct {
	backend       core.ReasoningBackend
	images        core.ImageLoader
	conversations core.ConversationRepository
	publisher     core.TaskPublisher
	credits       core.CreditRepository
	cfg           Config
	logger        *slog.Logger
	metrics       statsd.Sink
	newID         func() string
}

var _ core.JobHandler = (*Handler)(nil)

// NewHandler validates options and constructs a Handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	var missing []string
	if opts.Backend == nil {
		missing = append(missing, "backend")
	}
	if opts.Images == nil {
		missing = append(missing, "image loader")
	}
	if opts.Conversations == nil {
		missing = append(missing, "conversation repository")
	}
	if opts.Publisher == nil {
		missing = append(missing, "publisher")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("analysis handler: missing %s", strings.Join(missing, ", "))
	}

	cfg := opts.Config
	cfg.SignalPath = strings.TrimSpace(cfg.SignalPath)
	if cfg.SignalPath == "" {
		cfg.SignalPath = DefaultSignalPath
	}
	if _, err := jmespath.Compile(cfg.SignalPath); err != nil {
		return nil, fmt.Errorf("compile signal path %q: %w", cfg.SignalPath, err)
	}
	if cfg.CreditCost < 0 {
		cfg.CreditCost = 0
	}
	if len(cfg.ConsensusModels) == 0 {
		cfg.ConsensusModels = []string{cfg.ReasoningModel}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := opts.NewMessageID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Handler{
		backend:       opts.Backend,
		images:        opts.Images,
		conversations: opts.Conversations,
		publisher:     opts.Publisher,
		credits:       opts.Credits,
		cfg:           cfg,
		logger:        logger.With("component", "analysis_handler"),
		metrics:       opts.Metrics,
		newID:         newID,
	}, nil
}

// StrategyFor reports which strategy Handle will use for job.
func StrategyFor(job *model.Job) model.StrategyName {
	switch {
	case job.IsChat:
		return model.StrategyChat
	case job.Agent == AgentConsensus:
		return model.StrategyConsensus
	default:
		return model.StrategySignal
	}
}

// Handle runs the job to completion and publishes the result. The returned job is the input job,
// mutated to its COMPLETED state.
func (h *Handler) Handle(ctx context.Context, job *model.Job) (out *model.Job, err error) {
	if job == nil {
		return nil, ErrNilJob
	}

	strategy := StrategyFor(job)
	start := time.Now()
	logger := h.logger.With("job_id", job.JobID, "strategy", strategy)
	defer func() {
		metrics.EmitJobLifecycle(h.metrics, metrics.JobMetric{
			Scope:      "analysis",
			JobType:    jobType,
			Transition: string(strategy),
			Duration:   time.Since(start),
			Err:        err,
		})
	}()

	images, err := h.images.Load(ctx, job.S3URLs)
	if err != nil {
		return nil, fmt.Errorf("load images for job %s: %w", job.JobID, err)
	}
	logger.InfoContext(ctx, "analysis started", "images", len(images))

	var res *model.AnalysisResult
	switch strategy {
	case model.StrategyChat:
		res, err = h.runChat(ctx, job, images)
	case model.StrategyConsensus:
		res, err = h.runConsensus(ctx, job, images)
	default:
		res, err = h.runSignal(ctx, job, images)
	}
	if err != nil {
		return nil, err
	}

	if err := h.complete(ctx, job, res); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "analysis completed", "duration", time.Since(start))
	return job, nil
}

func (h *Handler) complete(ctx context.Context, job *model.Job, res *model.AnalysisResult) error {
	job.Status = model.JobStatusCompleted
	job.ActionType = model.ActionTypeProcessed
	job.Response = res.Response
	if err := job.SetResult(res); err != nil {
		return err
	}

	if err := h.charge(ctx, job); err != nil {
		return err
	}

	if err := h.publisher.PublishTask(ctx, job); err != nil {
		return fmt.Errorf("publish result for job %s: %w", job.JobID, err)
	}
	return nil
}

func (h *Handler) charge(ctx context.Context, job *model.Job) error {
	if h.credits == nil || h.cfg.CreditCost == 0 {
		return nil
	}
	email := strings.TrimSpace(job.UserEmail)
	if email == "" {
		h.logger.DebugContext(ctx, "no user email on job, skipping credit deduction", "job_id", job.JobID)
		return nil
	}
	balance, err := h.credits.DeductCredits(ctx, email, h.cfg.CreditCost)
	if err != nil {
		return fmt.Errorf("deduct credits for job %s: %w", job.JobID, err)
	}
	h.logger.InfoContext(ctx, "credits deducted",
		"job_id", job.JobID,
		"amount", h.cfg.CreditCost,
		"extra_credits", balance.ExtraCredits,
		"monthly_credits", balance.MonthlyCredits,
	)
	return nil
}

// progress publishes a RUNNING update for one answered question. Failures are logged only; the
// final publish is the one that must succeed.
func (h *Handler) progress(ctx context.Context, job *model.Job, question, response string) {
	job.Status = model.JobStatusRunning
	job.Question = question
	job.Response = response
	job.Result = json.RawMessage("[]")
	if err := h.publisher.PublishTask(ctx, job); err != nil {
		h.logger.WarnContext(ctx, "progress update not published", "job_id", job.JobID, "error", err)
	}
}
