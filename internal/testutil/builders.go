// Package testutil provides test fixtures and infrastructure helpers for the analysis worker.
package testutil

import (
	"encoding/json"
	"maps"

	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// JobBuilder provides a fluent interface for building jobs for tests.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a JobBuilder with a pending analysis job for a single chart.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: &model.Job{
			JobID:      "job-1",
			Status:     model.JobStatusPending,
			ActionType: model.ActionTypeAnalysis,
			Asset:      "BTCUSDT",
			Symbol:     "BTCUSDT",
			S3URLs:     []string{"s3://charts/job-1/1h.png"},
			UserEmail:  "trader@example.com",
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.JobID = id
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithActionType sets the action type.
func (b *JobBuilder) WithActionType(action model.ActionType) *JobBuilder {
	b.job.ActionType = action
	return b
}

// WithAsset sets the asset and symbol.
func (b *JobBuilder) WithAsset(asset string) *JobBuilder {
	b.job.Asset = asset
	b.job.Symbol = asset
	return b
}

// WithAgent sets the agent selector.
func (b *JobBuilder) WithAgent(agent string) *JobBuilder {
	b.job.Agent = agent
	return b
}

// WithImages replaces the image references.
func (b *JobBuilder) WithImages(refs ...string) *JobBuilder {
	b.job.S3URLs = refs
	return b
}

// WithChat marks the job as a chat follow-up carrying query.
func (b *JobBuilder) WithChat(query string) *JobBuilder {
	b.job.IsChat = true
	b.job.AgentQuery = query
	return b
}

// WithUserEmail sets the account charged for the analysis.
func (b *JobBuilder) WithUserEmail(email string) *JobBuilder {
	b.job.UserEmail = email
	return b
}

// Build returns the constructed job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}

// MessageFor wraps job in a queue message with a receipt handle derived from id.
func MessageFor(job *model.Job, id string) model.Message {
	body, err := json.Marshal(job)
	if err != nil {
		panic(err)
	}
	return model.Message{
		ID:         id,
		AckToken:   "receipt-" + id,
		Body:       string(body),
		ReceivedAt: TestTime(),
	}
}

// CloneJob deep-copies job so a captured snapshot is unaffected by later mutation.
func CloneJob(job *model.Job) *model.Job {
	if job == nil {
		return nil
	}
	cp := *job
	cp.S3URLs = append([]string(nil), job.S3URLs...)
	if job.Result != nil {
		cp.Result = append(json.RawMessage(nil), job.Result...)
	}
	cp.Extra = maps.Clone(job.Extra)
	return &cp
}
