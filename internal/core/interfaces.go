// Package core declares the ports between the queue-processing core and its adapters.
package core

import (
	"context"
	"time"

	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// This file contains the port definitions (hexagonal architecture).
// Adapters under internal/adapters and internal/data implement them; the consumer,
// publisher and analysis handler depend only on these interfaces.

// ReceiveParams groups the long-poll parameters for QueueTransport.Receive.
type ReceiveParams struct {
	QueueURL          string
	MaxMessages       int32
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// OutboundMessage is a message to be sent to a queue.
type OutboundMessage struct {
	QueueURL        string
	Body            string
	GroupID         string
	DeduplicationID string
}

// QueueTransport is the at-least-once queue the worker consumes from and publishes to.
type QueueTransport interface {
	Receive(ctx context.Context, params ReceiveParams) ([]model.Message, error)
	Delete(ctx context.Context, queueURL, ackToken string) error
	Send(ctx context.Context, msg OutboundMessage) error
}

// JobHandler processes a single job. Implementations must tolerate being invoked more than once
// for the same job because recovery replay re-runs failed entries.
type JobHandler interface {
	Handle(ctx context.Context, job *model.Job) (*model.Job, error)
}

// JobHandlerFunc adapts a function to the JobHandler interface (useful for tests).
type JobHandlerFunc func(ctx context.Context, job *model.Job) (*model.Job, error)

// Handle implements JobHandler.
func (f JobHandlerFunc) Handle(ctx context.Context, job *model.Job) (*model.Job, error) {
	return f(ctx, job)
}

// TaskPublisher republishes job status updates and results.
type TaskPublisher interface {
	PublishTask(ctx context.Context, job *model.Job) error
}

// RecoveryStore tracks in-flight messages from receipt until successful processing.
type RecoveryStore interface {
	// Put records the raw message under its ID, replacing any existing entry.
	Put(ctx context.Context, msg model.Message) error
	// Remove deletes the entry; removing a missing ID is not an error.
	Remove(ctx context.Context, id string) error
	// Snapshot returns a copy of the current entries; later mutations do not affect it.
	Snapshot(ctx context.Context) ([]model.Message, error)
	// Len returns the number of tracked entries.
	Len(ctx context.Context) (int, error)
}

// ChatTurn is one turn sent to the reasoning backend.
type ChatTurn struct {
	Role    model.ChatRole
	Content string
}

// ChatRequest is a multi-turn completion request. Images are attached after the turns.
type ChatRequest struct {
	Model  string
	System string
	Turns  []ChatTurn
	Images []model.Image
}

// ReasoningBackend is the text+image completion provider.
type ReasoningBackend interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	// ExtractSignal returns a JSON document describing the trade signal found in text.
	ExtractSignal(ctx context.Context, text, asset string) ([]byte, error)
}

// ImageLoader resolves job image references into backend-ready images.
type ImageLoader interface {
	Load(ctx context.Context, refs []string) ([]model.Image, error)
}

// ConversationRepository persists conversation state keyed by job id.
type ConversationRepository interface {
	Exists(ctx context.Context, jobID string) (bool, error)
	Create(ctx context.Context, req model.CreateConversationRequest) error
	Get(ctx context.Context, jobID string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, jobID string, msg model.ConversationMessage) error
	UpdateSignal(ctx context.Context, jobID string, signal model.TradeSignal) error
}

// CreditRepository charges users for completed analyses.
type CreditRepository interface {
	DeductCredits(ctx context.Context, email string, amount int) (*model.CreditBalance, error)
}
