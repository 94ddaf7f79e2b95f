package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"github.com/target/chart-analysis-worker/internal/mocks"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
	"github.com/target/chart-analysis-worker/internal/testutil"
	"go.uber.org/mock/gomock"
)

const (
	inputURL  = "https://sqs.example/input.fifo"
	outputURL = "https://sqs.example/output.fifo"
)

func newPublisher(t *testing.T, dedup bool) (*QueuePublisher, *mocks.MockQueueTransport) {
	t.Helper()
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockQueueTransport(ctrl)
	return NewQueuePublisher(QueuePublisherOptions{
		Transport: transport,
		Config: QueuePublisherConfig{
			InputQueueURL:            inputURL,
			OutputQueueURL:           outputURL,
			GenerateDeduplicationIDs: dedup,
		},
	}), transport
}

func TestQueuePublisher_Routing(t *testing.T) {
	tests := []struct {
		name      string
		status    model.JobStatus
		action    model.ActionType
		wantURL   string
		wantGroup string
	}{
		{name: "completed analysis loops back to input", status: model.JobStatusCompleted, action: model.ActionTypeAnalysis, wantURL: inputURL, wantGroup: "analysis_tasks"},
		{name: "completed processed goes to output", status: model.JobStatusCompleted, action: model.ActionTypeProcessed, wantURL: outputURL, wantGroup: "processed_tasks"},
		{name: "running analysis progress goes to output", status: model.JobStatusRunning, action: model.ActionTypeAnalysis, wantURL: outputURL, wantGroup: "analysis_tasks"},
		{name: "pending processed goes to output", status: model.JobStatusPending, action: model.ActionTypeProcessed, wantURL: outputURL, wantGroup: "processed_tasks"},
		{name: "missing action type", status: model.JobStatusRunning, wantURL: outputURL, wantGroup: "default_tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, transport := newPublisher(t, false)
			job := testutil.NewJob().WithStatus(tt.status).WithActionType(tt.action).Build()

			transport.EXPECT().Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, msg core.OutboundMessage) error {
					assert.Equal(t, tt.wantURL, msg.QueueURL)
					assert.Equal(t, tt.wantGroup, msg.GroupID)
					assert.Empty(t, msg.DeduplicationID)
					return nil
				}).Times(1)

			require.NoError(t, pub.PublishTask(context.Background(), job))
		})
	}
}

func TestQueuePublisher_BodyIsFullJob(t *testing.T) {
	pub, transport := newPublisher(t, true)
	job := testutil.NewJob().WithStatus(model.JobStatusRunning).Build()
	job.Question = "What is the trend?"
	job.Extra = map[string]json.RawMessage{"trace_id": json.RawMessage(`"abc"`)}

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg core.OutboundMessage) error {
			parsed, err := model.ParseJob(msg.Body)
			require.NoError(t, err)
			assert.Equal(t, job.JobID, parsed.JobID)
			assert.Equal(t, "What is the trend?", parsed.Question)
			assert.JSONEq(t, `"abc"`, string(parsed.Extra["trace_id"]))

			_, err = uuid.Parse(msg.DeduplicationID)
			assert.NoError(t, err, "dedup id should be a uuid")
			return nil
		})

	require.NoError(t, pub.PublishTask(context.Background(), job))
}

func TestQueuePublisher_PropagatesTransportErrors(t *testing.T) {
	pub, transport := newPublisher(t, false)
	rec := &statsd.Recorder{}
	pub.metrics = rec
	var logs bytes.Buffer
	pub.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	sendErr := errors.New("queue does not exist")
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(sendErr)

	err := pub.PublishTask(context.Background(), testutil.NewJob().Build())
	require.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "output queue")
	assert.Equal(t, int64(1), rec.Sum("queue.publish", map[string]string{"destination": "output", "result": "error"}))
	assert.Contains(t, logs.String(), `"msg":"failed to publish job update"`)
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
}

func TestQueuePublisher_NilJob(t *testing.T) {
	pub, _ := newPublisher(t, false)
	assert.ErrorIs(t, pub.PublishTask(context.Background(), nil), ErrNilJob)
	assert.ErrorIs(t, pub.Enqueue(context.Background(), nil), ErrNilJob)
}

func TestQueuePublisher_EnqueueAlwaysTargetsInput(t *testing.T) {
	pub, transport := newPublisher(t, true)
	job := testutil.NewJob().WithStatus(model.JobStatusPending).WithActionType(model.ActionTypeAnalysis).Build()

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg core.OutboundMessage) error {
			assert.Equal(t, inputURL, msg.QueueURL)
			assert.Equal(t, "analysis_tasks", msg.GroupID)
			assert.NotEmpty(t, msg.DeduplicationID)
			return nil
		})

	require.NoError(t, pub.Enqueue(context.Background(), job))
}

func TestNewQueuePublisher_PanicsWithoutTransport(t *testing.T) {
	assert.Panics(t, func() { NewQueuePublisher(QueuePublisherOptions{}) })
}
