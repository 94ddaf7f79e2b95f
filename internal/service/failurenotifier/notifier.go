// Package failurenotifier fans job failures out to the configured alert sinks.
package failurenotifier

import (
	"cmp"
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/target/chart-analysis-worker/internal/observability/notify"
)

const defaultDeliveryTimeout = 30 * time.Second

// SinkRegistration names a sink for logs.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures a Service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration

	// RepeatWindow suppresses further notifications for a job id that already notified within
	// the window, so replays of a persistently failing job page once.
	RepeatWindow time.Duration
	// DeliveryTimeout bounds one fan-out. Deliveries are detached from the caller's cancellation
	// so a failure seen during shutdown still goes out. Defaults to 30s.
	DeliveryTimeout time.Duration
	Now             func() time.Time
}

// Service delivers failure events to every registered sink concurrently. Delivery errors are
// logged and never returned; alerting must not change how a job is handled.
type Service struct {
	logger          *slog.Logger
	sinks           []SinkRegistration
	repeatWindow    time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewService drops nil sinks and names anonymous ones by position.
func NewService(opts Options) *Service {
	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for i, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		sinks = append(sinks, SinkRegistration{
			Name: cmp.Or(reg.Name, "sink-"+strconv.Itoa(i)),
			Sink: reg.Sink,
		})
	}
	s := &Service{
		logger:          cmp.Or(opts.Logger, slog.Default().With("component", "failure_notifier")),
		sinks:           sinks,
		repeatWindow:    opts.RepeatWindow,
		deliveryTimeout: cmp.Or(opts.DeliveryTimeout, defaultDeliveryTimeout),
		now:             opts.Now,
		lastSent:        make(map[string]time.Time),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// NotifyJobFailure blocks until every sink has answered or the delivery timeout passes.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if !s.Enabled() {
		return
	}
	if !s.claim(payload.JobID) {
		s.logger.DebugContext(ctx, "repeat failure notification suppressed",
			"job_id", payload.JobID, "stage", payload.Stage)
		return
	}
	payload.Severity = cmp.Or(payload.Severity, notify.SeverityCritical)

	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(s.sinks))
	for _, reg := range s.sinks {
		go func() {
			defer wg.Done()
			s.deliver(deliverCtx, reg, payload)
		}()
	}
	wg.Wait()
}

func (s *Service) deliver(ctx context.Context, reg SinkRegistration, payload notify.JobFailurePayload) {
	start := s.now()
	if err := reg.Sink.SendJobFailure(ctx, payload); err != nil {
		s.logger.ErrorContext(ctx, "failure notification not delivered",
			"sink", reg.Name,
			"job_id", payload.JobID,
			"stage", payload.Stage,
			"error", err,
		)
		return
	}
	s.logger.DebugContext(ctx, "failure notification delivered",
		"sink", reg.Name, "job_id", payload.JobID, "duration", s.now().Sub(start))
}

// claim records a notification for jobID and reports whether it may be sent. Expired entries
// are pruned on each call so the map stays bounded by the failure rate over one window.
func (s *Service) claim(jobID string) bool {
	if s.repeatWindow <= 0 || jobID == "" {
		return true
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSent[jobID]; ok && now.Sub(last) < s.repeatWindow {
		return false
	}
	for id, at := range s.lastSent {
		if now.Sub(at) >= s.repeatWindow {
			delete(s.lastSent, id)
		}
	}
	s.lastSent[jobID] = now
	return true
}
