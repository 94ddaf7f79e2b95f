package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"github.com/target/chart-analysis-worker/internal/mocks"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
	"github.com/target/chart-analysis-worker/internal/testutil"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	backend  *mocks.MockReasoningBackend
	images   *mocks.MockImageLoader
	convs    *mocks.MockConversationRepository
	credits  *mocks.MockCreditRepository
	pub      *mocks.MockTaskPublisher
	recorder *statsd.Recorder
	handler  *Handler

	mu        sync.Mutex
	published []*model.Job
	requests  []core.ChatRequest
}

var chart = model.Image{Ref: "s3://charts/job-1/1h.png", MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		backend:  mocks.NewMockReasoningBackend(ctrl),
		images:   mocks.NewMockImageLoader(ctrl),
		convs:    mocks.NewMockConversationRepository(ctrl),
		credits:  mocks.NewMockCreditRepository(ctrl),
		pub:      mocks.NewMockTaskPublisher(ctrl),
		recorder: &statsd.Recorder{},
	}
	seq := 0
	h, err := NewHandler(HandlerOptions{
		Backend:       f.backend,
		Images:        f.images,
		Conversations: f.convs,
		Publisher:     f.pub,
		Credits:       f.credits,
		Config:        cfg,
		Metrics:       f.recorder,
		NewMessageID: func() string {
			seq++
			return fmt.Sprintf("msg-%d", seq)
		},
	})
	require.NoError(t, err)
	f.handler = h

	f.images.EXPECT().Load(gomock.Any(), gomock.Any()).Return([]model.Image{chart}, nil).AnyTimes()
	return f
}

// capturePublishes records a copy of every published job.
func (f *fixture) capturePublishes(err error) {
	f.pub.EXPECT().PublishTask(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, job *model.Job) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, testutil.CloneJob(job))
		return err
	}).AnyTimes()
}

// answer makes Complete reply through fn and records every request.
func (f *fixture) answer(fn func(req core.ChatRequest) (string, error)) {
	f.backend.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req core.ChatRequest) (string, error) {
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		return fn(req)
	}).AnyTimes()
}

func (f *fixture) newConversation() {
	f.convs.EXPECT().Exists(gomock.Any(), "job-1").Return(false, nil)
	f.convs.EXPECT().Create(gomock.Any(), model.CreateConversationRequest{
		JobID: "job-1", UserEmail: "trader@example.com", Symbol: "BTCUSDT",
	}).Return(nil)
	f.convs.EXPECT().AppendMessage(gomock.Any(), "job-1", gomock.Any()).Return(nil).AnyTimes()
}

func decodeResult(t *testing.T, job *model.Job) model.AnalysisResult {
	t.Helper()
	var res model.AnalysisResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	return res
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(HandlerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
	assert.Contains(t, err.Error(), "publisher")

	ctrl := gomock.NewController(t)
	_, err = NewHandler(HandlerOptions{
		Backend:       mocks.NewMockReasoningBackend(ctrl),
		Images:        mocks.NewMockImageLoader(ctrl),
		Conversations: mocks.NewMockConversationRepository(ctrl),
		Publisher:     mocks.NewMockTaskPublisher(ctrl),
		Config:        Config{SignalPath: "signal.["},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile signal path")
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		name string
		job  *model.Job
		want model.StrategyName
	}{
		{name: "default", job: testutil.NewJob().Build(), want: model.StrategySignal},
		{name: "custom agent", job: testutil.NewJob().WithAgent(AgentCustom).Build(), want: model.StrategySignal},
		{name: "consensus agent", job: testutil.NewJob().WithAgent(AgentConsensus).Build(), want: model.StrategyConsensus},
		{name: "chat wins over agent", job: testutil.NewJob().WithAgent(AgentConsensus).WithChat("").Build(), want: model.StrategyChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StrategyFor(tt.job))
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	job := testutil.NewJob().Build()
	job.UserInstructions = "I am already long from 42000."
	prompt, query := systemPrompt(job)
	assert.Equal(t, DefaultSystemPrompt+"\nI am already long from 42000.", prompt)
	assert.Equal(t, DefaultQuery, query)

	custom := testutil.NewJob().WithAgent(AgentCustom).Build()
	custom.Prompt = "You are a scalper."
	custom.AgentQuery = "Scalp or skip?"
	prompt, query = systemPrompt(custom)
	assert.Equal(t, "You are a scalper.", prompt)
	assert.Equal(t, "Scalp or skip?", query)

	chat := testutil.NewJob().WithChat("").Build()
	chat.UserInstructions = "ignored for chat"
	prompt, query = systemPrompt(chat)
	assert.Equal(t, DefaultSystemPrompt, prompt)
	assert.Equal(t, DefaultChatQuery, query)
}

func TestHandle_SignalStrategy(t *testing.T) {
	f := newFixture(t, Config{
		ReasoningModel:    "reasoner",
		ConsensusModels:   []string{"judge"},
		FollowupQuestions: []string{"Where is support?"},
		CreditCost:        2,
	})
	f.newConversation()
	f.capturePublishes(nil)
	f.answer(func(req core.ChatRequest) (string, error) {
		if req.Model == "judge" {
			return "BUY at 100, stop 95, target 120", nil
		}
		return "answer " + req.Turns[len(req.Turns)-1].Content, nil
	})
	f.backend.EXPECT().ExtractSignal(gomock.Any(), "BUY at 100, stop 95, target 120", "BTCUSDT").
		Return([]byte(`{"action":"buy","entry_price":100,"stop_loss":95,"take_profit":120}`), nil)
	f.convs.EXPECT().UpdateSignal(gomock.Any(), "job-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, sig model.TradeSignal) error {
			assert.Equal(t, model.TradeActionBuy, sig.Action)
			assert.Equal(t, "BTCUSDT", sig.Asset, "empty asset falls back to the job asset")
			return nil
		})
	f.credits.EXPECT().DeductCredits(gomock.Any(), "trader@example.com", 2).
		Return(&model.CreditBalance{Email: "trader@example.com", ExtraCredits: 0, MonthlyCredits: 8}, nil)

	job := testutil.NewJob().Build()
	out, err := f.handler.Handle(context.Background(), job)
	require.NoError(t, err)
	require.Same(t, job, out)

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	assert.Equal(t, model.ActionTypeProcessed, out.ActionType)
	res := decodeResult(t, out)
	assert.Equal(t, model.StrategySignal, res.Strategy)
	assert.Equal(t, "BUY at 100, stop 95, target 120", res.Response)
	require.NotNil(t, res.TradeSignal)
	assert.Equal(t, 100.0, *res.TradeSignal.EntryPrice)
	assert.Equal(t, "msg-5", res.MessageID, "two turns per question then the final answer")
	assert.Equal(t, []string{"judge"}, res.Models)

	// Two questions, then consensus.
	require.Len(t, f.requests, 3)
	assert.Equal(t, DefaultQuery, f.requests[0].Turns[0].Content)
	assert.Equal(t, []model.Image{chart}, f.requests[0].Images)
	assert.Len(t, f.requests[1].Turns, 3)
	consensus := f.requests[2]
	assert.Empty(t, consensus.Images)
	require.Len(t, consensus.Turns, 3)
	assert.Equal(t, model.ChatRoleUser, consensus.Turns[2].Role)
	assert.Equal(t, "Where is support?", consensus.Turns[2].Content)

	// One RUNNING update per question, then the completed job.
	require.Len(t, f.published, 3)
	for i, q := range []string{DefaultQuery, "Where is support?"} {
		p := f.published[i]
		assert.Equal(t, model.JobStatusRunning, p.Status)
		assert.Equal(t, q, p.Question)
		assert.Equal(t, "answer "+q, p.Response)
		assert.JSONEq(t, `[]`, string(p.Result))
	}
	assert.Equal(t, model.JobStatusCompleted, f.published[2].Status)

	assert.Equal(t, int64(1), f.recorder.Sum("analysis.transition", map[string]string{"transition": "signal", "result": "success"}))
}

func TestHandle_BackendErrorBecomesErrorText(t *testing.T) {
	f := newFixture(t, Config{ConsensusModels: []string{"judge"}})
	f.newConversation()
	f.capturePublishes(nil)
	f.answer(func(req core.ChatRequest) (string, error) {
		if req.Model == "judge" {
			return "WAIT", nil
		}
		return "", errors.New("upstream 503")
	})
	f.backend.EXPECT().ExtractSignal(gomock.Any(), "WAIT", "BTCUSDT").Return([]byte(`{"action":"WAIT"}`), nil)
	f.convs.EXPECT().UpdateSignal(gomock.Any(), "job-1", gomock.Any()).Return(nil)

	_, err := f.handler.Handle(context.Background(), testutil.NewJob().Build())
	require.NoError(t, err)
	require.NotEmpty(t, f.published)
	assert.Equal(t, "Error", f.published[0].Response)
}

func TestHandle_SignalExtractionFailureStillCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	f.newConversation()
	f.capturePublishes(nil)
	f.answer(func(core.ChatRequest) (string, error) { return "no clear setup", nil })
	f.backend.EXPECT().ExtractSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(`not json`), nil)

	out, err := f.handler.Handle(context.Background(), testutil.NewJob().Build())
	require.NoError(t, err)
	assert.Nil(t, decodeResult(t, out).TradeSignal)
}

func TestHandle_ExistingConversationIsReused(t *testing.T) {
	f := newFixture(t, Config{CreditCost: 1})
	f.convs.EXPECT().Exists(gomock.Any(), "job-1").Return(false, nil)
	f.convs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(fmt.Errorf("insert: %w", model.ErrConversationExists))
	f.convs.EXPECT().AppendMessage(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.capturePublishes(nil)
	f.answer(func(core.ChatRequest) (string, error) { return "SELL", nil })
	f.backend.EXPECT().ExtractSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(`{"action":"SELL"}`), nil)
	f.convs.EXPECT().UpdateSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	job := testutil.NewJob().WithUserEmail("").Build()
	// No email: no credit call is expected on the mock.
	_, err := f.handler.Handle(context.Background(), job)
	require.NoError(t, err)
}

func TestHandle_PublishFailureIsReturned(t *testing.T) {
	f := newFixture(t, Config{CreditCost: 0})
	f.newConversation()
	sendErr := errors.New("sqs unavailable")
	f.capturePublishes(sendErr)
	f.answer(func(core.ChatRequest) (string, error) { return "WAIT", nil })
	f.backend.EXPECT().ExtractSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte(`{"action":"WAIT"}`), nil)
	f.convs.EXPECT().UpdateSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	out, err := f.handler.Handle(context.Background(), testutil.NewJob().Build())
	require.ErrorIs(t, err, sendErr)
	assert.Nil(t, out)
	assert.Equal(t, int64(1), f.recorder.Sum("analysis.transition", map[string]string{"result": "error"}))
}

func TestHandle_ImageLoadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	images := mocks.NewMockImageLoader(ctrl)
	loadErr := errors.New("access denied")
	images.EXPECT().Load(gomock.Any(), []string{"s3://charts/job-1/1h.png"}).Return(nil, loadErr)
	h, err := NewHandler(HandlerOptions{
		Backend:       mocks.NewMockReasoningBackend(ctrl),
		Images:        images,
		Conversations: mocks.NewMockConversationRepository(ctrl),
		Publisher:     mocks.NewMockTaskPublisher(ctrl),
	})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), testutil.NewJob().Build())
	assert.ErrorIs(t, err, loadErr)

	_, err = h.Handle(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilJob)
}

func chatHistory(t *testing.T, msgs ...model.ConversationMessage) *model.Conversation {
	t.Helper()
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	return &model.Conversation{JobID: "job-1", History: raw}
}

func TestHandle_ChatStrategy(t *testing.T) {
	f := newFixture(t, Config{ReasoningModel: "reasoner", CreditCost: DefaultCreditCost})
	f.capturePublishes(nil)
	f.convs.EXPECT().Get(gomock.Any(), "job-1").Return(chatHistory(t,
		model.ConversationMessage{MessageID: "a", Role: model.ChatRoleUser, Content: "Trade or wait?"},
		model.ConversationMessage{MessageID: "b", Role: model.ChatRoleAssistant, Content: "Wait."},
	), nil)
	gomock.InOrder(
		f.convs.EXPECT().AppendMessage(gomock.Any(), "job-1", model.ConversationMessage{
			MessageID: "user-7", Role: model.ChatRoleUser, Content: DefaultChatQuery,
		}).Return(nil),
		f.convs.EXPECT().AppendMessage(gomock.Any(), "job-1", model.ConversationMessage{
			MessageID: "msg-1", Role: model.ChatRoleAssistant, Content: "Now it breaks out.",
		}).Return(nil),
	)
	f.answer(func(core.ChatRequest) (string, error) { return "Now it breaks out.", nil })
	f.credits.EXPECT().DeductCredits(gomock.Any(), "trader@example.com", 1).Return(&model.CreditBalance{}, nil)

	job := testutil.NewJob().WithChat("   ").Build()
	job.MessageID = "user-7"

	out, err := f.handler.Handle(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "reasoner", req.Model)
	require.Len(t, req.Turns, 3)
	assert.Equal(t, DefaultChatQuery, req.Turns[2].Content)
	assert.Equal(t, []model.Image{chart}, req.Images)

	res := decodeResult(t, out)
	assert.Equal(t, model.StrategyChat, res.Strategy)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Nil(t, res.TradeSignal)
	require.Len(t, f.published, 1)
	assert.Equal(t, model.JobStatusCompleted, f.published[0].Status)
}

func TestHandle_ChatReplayDoesNotRepeatUserTurn(t *testing.T) {
	f := newFixture(t, Config{})
	f.capturePublishes(nil)
	f.convs.EXPECT().Get(gomock.Any(), "job-1").Return(chatHistory(t,
		model.ConversationMessage{MessageID: "user-7", Role: model.ChatRoleUser, Content: "and now?"},
	), nil)
	f.convs.EXPECT().AppendMessage(gomock.Any(), "job-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, msg model.ConversationMessage) error {
			assert.Equal(t, model.ChatRoleAssistant, msg.Role)
			return nil
		})
	f.answer(func(req core.ChatRequest) (string, error) {
		assert.Len(t, req.Turns, 1)
		return "still ranging", nil
	})

	job := testutil.NewJob().WithChat("and now?").WithUserEmail("").Build()
	job.MessageID = "user-7"
	_, err := f.handler.Handle(context.Background(), job)
	require.NoError(t, err)
}

func TestHandle_ChatMissingConversation(t *testing.T) {
	f := newFixture(t, Config{})
	f.convs.EXPECT().Get(gomock.Any(), "job-1").Return(nil, model.ErrConversationNotFound)

	_, err := f.handler.Handle(context.Background(), testutil.NewJob().WithChat("hi").Build())
	assert.ErrorIs(t, err, model.ErrConversationNotFound)
}

// consensusAnswers wires three judges with fixed actions.
func consensusAnswers(f *fixture, actions map[string]string) {
	f.answer(func(req core.ChatRequest) (string, error) {
		if a, ok := actions[req.Model]; ok {
			if a == "" {
				return "", errors.New("model offline")
			}
			return req.Model + " says " + a, nil
		}
		return "reasoning", nil
	})
	f.backend.EXPECT().ExtractSignal(gomock.Any(), gomock.Any(), "BTCUSDT").DoAndReturn(
		func(_ context.Context, text, _ string) ([]byte, error) {
			action := text[strings.LastIndex(text, " ")+1:]
			return []byte(`{"signal":{"asset":"BTCUSDT","action":"` + action + `"}}`), nil
		}).AnyTimes()
}

func TestHandle_ConsensusMajorityWins(t *testing.T) {
	f := newFixture(t, Config{
		ConsensusModels: []string{"alpha", "beta", "gamma"},
		SignalPath:      "signal",
		CreditCost:      1,
	})
	f.newConversation()
	f.capturePublishes(nil)
	consensusAnswers(f, map[string]string{"alpha": "SELL", "beta": "BUY", "gamma": "BUY"})
	f.convs.EXPECT().UpdateSignal(gomock.Any(), "job-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, sig model.TradeSignal) error {
			assert.Equal(t, model.TradeActionBuy, sig.Action)
			return nil
		})
	f.credits.EXPECT().DeductCredits(gomock.Any(), gomock.Any(), gomock.Any()).Return(&model.CreditBalance{}, nil)

	out, err := f.handler.Handle(context.Background(), testutil.NewJob().WithAgent(AgentConsensus).Build())
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, model.StrategyConsensus, res.Strategy)
	assert.Equal(t, "beta says BUY", res.Response)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, res.Models)
}

func TestHandle_ConsensusTieGoesToFirstModel(t *testing.T) {
	f := newFixture(t, Config{ConsensusModels: []string{"alpha", "beta", "gamma"}, SignalPath: "signal"})
	f.newConversation()
	f.capturePublishes(nil)
	consensusAnswers(f, map[string]string{"alpha": "WAIT", "beta": "SELL", "gamma": ""})
	f.convs.EXPECT().UpdateSignal(gomock.Any(), "job-1", gomock.Any()).Return(nil)

	out, err := f.handler.Handle(context.Background(), testutil.NewJob().WithAgent(AgentConsensus).Build())
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, "alpha says WAIT", res.Response)
	assert.Equal(t, []string{"alpha", "beta"}, res.Models, "failed models are left out")
}

func TestHandle_ConsensusAllModelsFail(t *testing.T) {
	f := newFixture(t, Config{ConsensusModels: []string{"alpha", "beta"}})
	f.newConversation()
	f.capturePublishes(nil)
	consensusAnswers(f, map[string]string{"alpha": "", "beta": ""})

	_, err := f.handler.Handle(context.Background(), testutil.NewJob().WithAgent(AgentConsensus).Build())
	require.ErrorIs(t, err, ErrNoConsensus)
	assert.Contains(t, err.Error(), "model offline")
}

func TestConsensusTurns(t *testing.T) {
	u := func(s string) core.ChatTurn { return core.ChatTurn{Role: model.ChatRoleUser, Content: s} }
	a := func(s string) core.ChatTurn { return core.ChatTurn{Role: model.ChatRoleAssistant, Content: s} }

	tests := []struct {
		name string
		in   []core.ChatTurn
		want []core.ChatTurn
	}{
		{name: "drops trailing assistant", in: []core.ChatTurn{u("q1"), a("r1"), u("q2"), a("r2")}, want: []core.ChatTurn{u("q1"), a("r1"), u("q2")}},
		{name: "already ends with user", in: []core.ChatTurn{u("q1"), a("r1"), u("q2")}, want: []core.ChatTurn{u("q1"), a("r1"), u("q2")}},
		{name: "appends last user turn", in: []core.ChatTurn{u("q1"), a("r1"), a("r2")}, want: []core.ChatTurn{u("q1"), a("r1"), u("q1")}},
		{name: "empty", in: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := consensusTurns(tt.in)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectSignal(t *testing.T) {
	sig, err := selectSignal([]byte(`{"result":{"signals":[{"action":"exit","R2R":2.5}]}}`), "result.signals[0]")
	require.NoError(t, err)
	assert.Equal(t, model.TradeActionExit, sig.Action)
	assert.Equal(t, 2.5, *sig.R2R)
	assert.Nil(t, sig.EntryPrice)

	_, err = selectSignal([]byte(`{"action":"HOLD"}`), "@")
	assert.Error(t, err)

	_, err = selectSignal([]byte(`{"signals":[]}`), "signals")
	assert.Error(t, err, "arrays are not signals")

	_, err = selectSignal([]byte(`{"asset":"ETH"}`), "@")
	assert.Error(t, err, "missing action")
}
