// Package sqstransport implements the queue transport on Amazon SQS (FIFO or standard queues).
package sqstransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// SQS caps a single receive at 10 messages and a long poll at 20 seconds.
const (
	maxReceiveBatch = 10
	maxWaitSeconds  = 20
)

// API is the subset of the SQS client used by the transport.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Options configures the transport.
type Options struct {
	Logger *slog.Logger
	// Client is required; construct it with sqs.NewFromConfig in production.
	Client API
}

// Transport adapts SQS to core.QueueTransport.
type Transport struct {
	client API
	logger *slog.Logger
}

var _ core.QueueTransport = (*Transport)(nil)

// New constructs a Transport.
func New(opts Options) (*Transport, error) {
	if opts.Client == nil {
		return nil, errors.New("sqs client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{client: opts.Client, logger: logger.With("component", "sqs_transport")}, nil
}

// NewFromConfig builds a Transport from an AWS config. endpoint overrides the service endpoint
// (LocalStack, ElasticMQ) when non-empty.
func NewFromConfig(cfg aws.Config, endpoint string, logger *slog.Logger) (*Transport, error) {
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(Options{Client: client, Logger: logger})
}

// Receive long-polls params.QueueURL.
func (t *Transport) Receive(ctx context.Context, params core.ReceiveParams) ([]model.Message, error) {
	out, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(params.QueueURL),
		MaxNumberOfMessages:   clamp(params.MaxMessages, 1, maxReceiveBatch),
		VisibilityTimeout:     seconds(params.VisibilityTimeout),
		WaitTimeSeconds:       clamp(seconds(params.WaitTime), 0, maxWaitSeconds),
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	now := time.Now()
	msgs := make([]model.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := model.Message{
			ID:         aws.ToString(m.MessageId),
			AckToken:   aws.ToString(m.ReceiptHandle),
			Body:       aws.ToString(m.Body),
			GroupID:    m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
			ReceivedAt: now,
		}
		if msg.ID == "" {
			t.logger.WarnContext(ctx, "dropping sqs message without id")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete removes a message using its receipt handle.
func (t *Transport) Delete(ctx context.Context, queueURL, ackToken string) error {
	if _, err := t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(ackToken),
	}); err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Send publishes msg. Group and deduplication ids are only set when present; standard queues
// reject them.
func (t *Transport) Send(ctx context.Context, msg core.OutboundMessage) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(msg.QueueURL),
		MessageBody: aws.String(msg.Body),
	}
	if msg.GroupID != "" {
		in.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DeduplicationID != "" {
		in.MessageDeduplicationId = aws.String(msg.DeduplicationID)
	}
	out, err := t.client.SendMessage(ctx, in)
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	t.logger.DebugContext(ctx, "sqs message sent", "message_id", aws.ToString(out.MessageId), "group_id", msg.GroupID)
	return nil
}

// QueueDepth reports approximate visible and in-flight message counts for queueURL.
type QueueDepth struct {
	Visible  int `json:"visible"`
	InFlight int `json:"in_flight"`
	Delayed  int `json:"delayed"`
}

// Depth fetches approximate queue counters.
func (t *Transport) Depth(ctx context.Context, queueURL string) (QueueDepth, error) {
	out, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return QueueDepth{}, fmt.Errorf("sqs get queue attributes: %w", err)
	}
	attr := func(name types.QueueAttributeName) int {
		n, _ := strconv.Atoi(out.Attributes[string(name)])
		return n
	}
	return QueueDepth{
		Visible:  attr(types.QueueAttributeNameApproximateNumberOfMessages),
		InFlight: attr(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:  attr(types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(d / time.Second)
}

func clamp(v, lo, hi int32) int32 {
	return min(max(v, lo), hi)
}
