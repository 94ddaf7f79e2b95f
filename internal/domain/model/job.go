// Package model defines the core data types shared by the chart analysis worker.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// JobStatus represents where a job is in its lifecycle.
type JobStatus string

// ActionType decides which output channel a job is routed to.
type ActionType string

const (
	// JobStatusPending indicates the job has been produced but not picked up.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning marks incremental progress updates.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates the handler finished the job.
	JobStatusCompleted JobStatus = "COMPLETED"

	// ActionTypeAnalysis is a job that still needs (or just received) analysis.
	ActionTypeAnalysis ActionType = "analysis"
	// ActionTypeProcessed is a job whose result is ready for downstream consumers.
	ActionTypeProcessed ActionType = "processed"
)

// ErrInvalidJob is returned when a message body cannot be decoded into a Job.
var ErrInvalidJob = errors.New("invalid job payload")

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted
}

// Valid returns true if the ActionType is known.
func (a ActionType) Valid() bool {
	return a == ActionTypeAnalysis || a == ActionTypeProcessed
}

// Job is the unit of work carried in queue message bodies. It is mutated in place by the
// handler as it progresses and is republished in full on every status update.
type Job struct {
	JobID            string          `json:"job_id"`
	Status           JobStatus       `json:"status"`
	ActionType       ActionType      `json:"action_type"`
	Asset            string          `json:"asset,omitempty"`
	S3URLs           []string        `json:"s3_urls,omitempty"`
	Agent            string          `json:"agent,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	AgentQuery       string          `json:"agent_query,omitempty"`
	UserInstructions string          `json:"user_instructions,omitempty"`
	IsChat           bool            `json:"is_chat,omitempty"`
	MessageID        string          `json:"message_id,omitempty"`
	Symbol           string          `json:"symbol,omitempty"`
	UserEmail        string          `json:"user_email,omitempty"`
	Question         string          `json:"question,omitempty"`
	Response         string          `json:"response,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`

	// Extra keeps producer fields this worker does not interpret so they survive republishing.
	Extra map[string]json.RawMessage `json:"-"`
}

// jobFields is the set of JSON keys owned by Job; everything else lands in Extra.
var jobFields = []string{
	"job_id", "status", "action_type", "asset", "s3_urls", "agent", "prompt", "agent_query",
	"user_instructions", "is_chat", "message_id", "symbol", "user_email", "question", "response", "result",
}

type jobAlias Job

// UnmarshalJSON decodes known fields and stashes the rest in Extra.
func (j *Job) UnmarshalJSON(data []byte) error {
	var a jobAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range jobFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = raw
	} else {
		a.Extra = nil
	}
	*j = Job(a)
	return nil
}

// MarshalJSON encodes the job including any preserved extra fields. Known fields win on collision.
func (j Job) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(jobAlias(j))
	if err != nil {
		return nil, err
	}
	if len(j.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(j.Extra)+len(jobFields))
	for k, v := range j.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ParseJob decodes a message body into a Job and normalises the enum fields.
func ParseJob(body string) (*Job, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidJob)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidJob)
	}
	var job Job
	if err := json.Unmarshal([]byte(trimmed), &job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	job.Status = JobStatus(strings.ToUpper(strings.TrimSpace(string(job.Status))))
	job.ActionType = ActionType(strings.ToLower(strings.TrimSpace(string(job.ActionType))))
	return &job, nil
}

// SetResult marshals v into the job's result field.
func (j *Job) SetResult(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	j.Result = b
	return nil
}
