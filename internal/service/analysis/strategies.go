package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// ErrNoConsensus is returned when no consensus model produced an answer.
var ErrNoConsensus = errors.New("no consensus model answered")

// runChat continues an existing conversation with one more user turn.
func (h *Handler) runChat(ctx context.Context, job *model.Job, images []model.Image) (*model.AnalysisResult, error) {
	conv, err := h.conversations.Get(ctx, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", job.JobID, err)
	}
	history, err := conv.Messages()
	if err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", job.JobID, err)
	}

	prompt, query := systemPrompt(job)
	userMsg := model.ConversationMessage{MessageID: job.MessageID, Role: model.ChatRoleUser, Content: query}
	if userMsg.MessageID == "" {
		userMsg.MessageID = h.newID()
	}
	// A replayed chat job must not repeat the user's turn.
	if !containsMessage(history, userMsg.MessageID) {
		if err := h.conversations.AppendMessage(ctx, job.JobID, userMsg); err != nil {
			return nil, fmt.Errorf("append chat turn: %w", err)
		}
		history = append(history, userMsg)
	}

	response, err := h.backend.Complete(ctx, core.ChatRequest{
		Model:  h.cfg.ReasoningModel,
		System: prompt,
		Turns:  toTurns(history),
		Images: images,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion for job %s: %w", job.JobID, err)
	}

	id, err := h.appendAssistant(ctx, job.JobID, response)
	if err != nil {
		return nil, err
	}
	return &model.AnalysisResult{Response: response, MessageID: id, Strategy: model.StrategyChat}, nil
}

// runSignal reasons over the charts, asks a single consensus model for the final answer and
// extracts the trade signal from it.
func (h *Handler) runSignal(ctx context.Context, job *model.Job, images []model.Image) (*model.AnalysisResult, error) {
	prompt, turns, err := h.reason(ctx, job, images)
	if err != nil {
		return nil, err
	}

	consensusModel := h.cfg.ConsensusModels[0]
	response, err := h.backend.Complete(ctx, core.ChatRequest{
		Model:  consensusModel,
		System: prompt,
		Turns:  consensusTurns(turns),
	})
	if err != nil {
		return nil, fmt.Errorf("consensus completion for job %s: %w", job.JobID, err)
	}

	return h.finish(ctx, job, &model.AnalysisResult{
		Response:    response,
		TradeSignal: h.extractSignal(ctx, job, response),
		Strategy:    model.StrategySignal,
		Models:      []string{consensusModel},
	})
}

type ballot struct {
	model    string
	response string
	signal   *model.TradeSignal
	err      error
}

// runConsensus asks every consensus model concurrently and keeps the answer whose action has the
// most votes.
func (h *Handler) runConsensus(ctx context.Context, job *model.Job, images []model.Image) (*model.AnalysisResult, error) {
	prompt, turns, err := h.reason(ctx, job, images)
	if err != nil {
		return nil, err
	}
	input := consensusTurns(turns)

	ballots := make([]ballot, len(h.cfg.ConsensusModels))
	var g errgroup.Group
	for i, name := range h.cfg.ConsensusModels {
		g.Go(func() error {
			b := ballot{model: name}
			b.response, b.err = h.backend.Complete(ctx, core.ChatRequest{Model: name, System: prompt, Turns: input})
			if b.err == nil {
				b.signal = h.extractSignal(ctx, job, b.response)
			} else {
				h.logger.WarnContext(ctx, "consensus model failed", "job_id", job.JobID, "model", name, "error", b.err)
			}
			ballots[i] = b
			return nil
		})
	}
	_ = g.Wait()

	winner, answered, err := tally(ballots)
	if err != nil {
		return nil, fmt.Errorf("consensus for job %s: %w", job.JobID, err)
	}
	h.logger.InfoContext(ctx, "consensus reached", "job_id", job.JobID, "model", winner.model, "answered", len(answered))

	return h.finish(ctx, job, &model.AnalysisResult{
		Response:    winner.response,
		TradeSignal: winner.signal,
		Strategy:    model.StrategyConsensus,
		Models:      answered,
	})
}

// tally picks the majority action. Ties go to the model listed first; answers without a signal
// do not vote but can still win when nobody produced one.
func tally(ballots []ballot) (ballot, []string, error) {
	var (
		answered []string
		errs     []error
		first    = -1
	)
	votes := map[model.TradeAction]int{}
	leader := map[model.TradeAction]int{}
	for i, b := range ballots {
		if b.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.model, b.err))
			continue
		}
		answered = append(answered, b.model)
		if first < 0 {
			first = i
		}
		if b.signal == nil {
			continue
		}
		if _, ok := leader[b.signal.Action]; !ok {
			leader[b.signal.Action] = i
		}
		votes[b.signal.Action]++
	}
	if first < 0 {
		return ballot{}, nil, errors.Join(append([]error{ErrNoConsensus}, errs...)...)
	}

	best := -1
	for action, n := range votes {
		idx := leader[action]
		if best < 0 || n > votes[ballots[best].signal.Action] ||
			(n == votes[ballots[best].signal.Action] && idx < best) {
			best = idx
		}
	}
	if best < 0 {
		best = first
	}
	return ballots[best], answered, nil
}

// reason creates the conversation record and runs the question loop. It returns the system prompt
// and the accumulated turns.
func (h *Handler) reason(ctx context.Context, job *model.Job, images []model.Image) (string, []core.ChatTurn, error) {
	if err := h.ensureConversation(ctx, job); err != nil {
		return "", nil, err
	}

	prompt, query := systemPrompt(job)
	questions := append([]string{query}, h.cfg.FollowupQuestions...)

	turns := make([]core.ChatTurn, 0, 2*len(questions))
	for _, question := range questions {
		turns = append(turns, core.ChatTurn{Role: model.ChatRoleUser, Content: question})
		response, err := h.backend.Complete(ctx, core.ChatRequest{
			Model:  h.cfg.ReasoningModel,
			System: prompt,
			Turns:  turns,
			Images: images,
		})
		if err != nil {
			h.logger.WarnContext(ctx, "reasoning turn failed", "job_id", job.JobID, "question", question, "error", err)
			response = backendErrorText
		}
		turns = append(turns, core.ChatTurn{Role: model.ChatRoleAssistant, Content: response})

		if err := h.persistTurn(ctx, job.JobID, question, response); err != nil {
			return "", nil, err
		}
		h.progress(ctx, job, question, response)
	}
	return prompt, turns, nil
}

func (h *Handler) ensureConversation(ctx context.Context, job *model.Job) error {
	exists, err := h.conversations.Exists(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("check conversation %s: %w", job.JobID, err)
	}
	if exists {
		return nil
	}
	symbol := job.Symbol
	if symbol == "" {
		symbol = job.Asset
	}
	err = h.conversations.Create(ctx, model.CreateConversationRequest{
		JobID:     job.JobID,
		UserEmail: job.UserEmail,
		Symbol:    symbol,
	})
	if err != nil && !errors.Is(err, model.ErrConversationExists) {
		return fmt.Errorf("create conversation %s: %w", job.JobID, err)
	}
	return nil
}

func (h *Handler) persistTurn(ctx context.Context, jobID, question, response string) error {
	user := model.ConversationMessage{MessageID: h.newID(), Role: model.ChatRoleUser, Content: question}
	if err := h.conversations.AppendMessage(ctx, jobID, user); err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	if _, err := h.appendAssistant(ctx, jobID, response); err != nil {
		return err
	}
	return nil
}

func (h *Handler) appendAssistant(ctx context.Context, jobID, content string) (string, error) {
	msg := model.ConversationMessage{MessageID: h.newID(), Role: model.ChatRoleAssistant, Content: content}
	if err := h.conversations.AppendMessage(ctx, jobID, msg); err != nil {
		return "", fmt.Errorf("append response: %w", err)
	}
	return msg.MessageID, nil
}

// finish records the final answer and signal on the conversation.
func (h *Handler) finish(ctx context.Context, job *model.Job, res *model.AnalysisResult) (*model.AnalysisResult, error) {
	id, err := h.appendAssistant(ctx, job.JobID, res.Response)
	if err != nil {
		return nil, err
	}
	res.MessageID = id
	if res.TradeSignal != nil {
		if err := h.conversations.UpdateSignal(ctx, job.JobID, *res.TradeSignal); err != nil {
			return nil, fmt.Errorf("store trade signal for job %s: %w", job.JobID, err)
		}
	}
	return res, nil
}

// extractSignal returns nil when no usable signal could be extracted.
func (h *Handler) extractSignal(ctx context.Context, job *model.Job, text string) *model.TradeSignal {
	raw, err := h.backend.ExtractSignal(ctx, text, job.Asset)
	if err != nil {
		h.logger.WarnContext(ctx, "signal extraction failed", "job_id", job.JobID, "error", err)
		return nil
	}
	sig, err := selectSignal(raw, h.cfg.SignalPath)
	if err != nil {
		h.logger.WarnContext(ctx, "signal not usable", "job_id", job.JobID, "path", h.cfg.SignalPath, "error", err)
		return nil
	}
	if sig.Asset == "" {
		sig.Asset = job.Asset
	}
	return sig
}

func selectSignal(raw []byte, path string) (*model.TradeSignal, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode extraction output: %w", err)
	}
	selected, err := jmespath.Search(path, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate signal path: %w", err)
	}
	if _, ok := selected.(map[string]any); !ok {
		return nil, fmt.Errorf("signal path selected %T, want object", selected)
	}
	b, err := json.Marshal(selected)
	if err != nil {
		return nil, err
	}
	var sig model.TradeSignal
	if err := json.Unmarshal(b, &sig); err != nil {
		return nil, fmt.Errorf("decode trade signal: %w", err)
	}
	if !sig.Action.Valid() {
		return nil, errors.New("trade signal has no action")
	}
	return &sig, nil
}

// consensusTurns drops a trailing assistant turn and makes sure the input ends with a user turn.
func consensusTurns(turns []core.ChatTurn) []core.ChatTurn {
	out := slices.Clone(turns)
	if n := len(out); n > 0 && out[n-1].Role == model.ChatRoleAssistant {
		out = out[:n-1]
	}
	if n := len(out); n > 0 && out[n-1].Role == model.ChatRoleUser {
		return out
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == model.ChatRoleUser {
			return append(out, turns[i])
		}
	}
	return out
}

func toTurns(history []model.ConversationMessage) []core.ChatTurn {
	turns := make([]core.ChatTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, core.ChatTurn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func containsMessage(history []model.ConversationMessage, id string) bool {
	return slices.ContainsFunc(history, func(m model.ConversationMessage) bool { return m.MessageID == id })
}
