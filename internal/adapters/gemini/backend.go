// Package gemini implements core.ReasoningBackend on Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"google.golang.org/genai"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = 2 * time.Second

	roleUser  = "user"
	roleModel = "model"

	extractionInstruction = "Extract the trade signal from this message. The response must include the asset name."
)

var (
	// ErrInvalidResponse is returned when the API answers without usable content.
	ErrInvalidResponse = errors.New("invalid response from Gemini API")
	// ErrContentBlocked is returned when the safety filters stop generation.
	ErrContentBlocked = errors.New("content blocked by safety filters")
	// ErrTransientFailure is returned once retries are exhausted.
	ErrTransientFailure = errors.New("transient Gemini API failure")
)

// contentGenerator is the subset of *genai.Models the backend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures a Backend.
type Options struct {
	APIKey string
	// Model is used when a request does not name one.
	Model string
	// SignalModel runs signal extraction; defaults to Model.
	SignalModel    string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Logger         *slog.Logger
}

// Backend talks to Gemini through the genai SDK.
type Backend struct {
	models      contentGenerator
	model       string
	signalModel string
	maxRetries  int
	baseDelay   time.Duration
	logger      *slog.Logger
}

var _ core.ReasoningBackend = (*Backend)(nil)

// New creates a Gemini API client and wraps it in a Backend.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return newBackend(client.Models, opts), nil
}

func newBackend(models contentGenerator, opts Options) *Backend {
	b := &Backend{
		models:      models,
		model:       opts.Model,
		signalModel: opts.SignalModel,
		maxRetries:  opts.MaxRetries,
		baseDelay:   opts.RetryBaseDelay,
		logger:      opts.Logger,
	}
	if b.model == "" {
		b.model = defaultModel
	}
	if b.signalModel == "" {
		b.signalModel = b.model
	}
	if b.maxRetries < 0 {
		b.maxRetries = defaultMaxRetries
	}
	if b.baseDelay <= 0 {
		b.baseDelay = defaultRetryBaseDelay
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "gemini_backend")
	return b
}

// Complete runs a multi-turn completion. Images are sent as a trailing user turn.
func (b *Backend) Complete(ctx context.Context, req core.ChatRequest) (string, error) {
	name := req.Model
	if name == "" {
		name = b.model
	}
	var cfg *genai.GenerateContentConfig
	if strings.TrimSpace(req.System) != "" {
		cfg = &genai.GenerateContentConfig{SystemInstruction: textContent(roleUser, req.System)}
	}
	return b.generate(ctx, name, buildContents(req), cfg)
}

// ExtractSignal asks for a JSON trade signal matching the TradeSignal schema.
func (b *Backend) ExtractSignal(ctx context.Context, text, asset string) ([]byte, error) {
	instruction := extractionInstruction
	if asset != "" {
		instruction += " The asset being analysed is " + asset + "."
	}
	var temperature float32
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: textContent(roleUser, instruction),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    tradeSignalSchema(),
		Temperature:       &temperature,
	}
	out, err := b.generate(ctx, b.signalModel, []*genai.Content{textContent(roleUser, text)}, cfg)
	if err != nil {
		return nil, err
	}
	raw := []byte(strings.TrimSpace(out))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: signal is not valid JSON", ErrInvalidResponse)
	}
	return raw, nil
}

// generate calls the API with exponential backoff and jitter. Invalid or blocked responses are
// returned immediately; anything else is treated as transient.
func (b *Backend) generate(ctx context.Context, name string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		resp, err := b.models.GenerateContent(ctx, name, contents, cfg)
		if err == nil {
			var text string
			text, err = responseText(resp)
			if err == nil {
				return text, nil
			}
		}
		if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrContentBlocked) {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, ctxErr)
		}
		lastErr = err
		if attempt == b.maxRetries {
			break
		}

		delay := b.backoff(attempt)
		b.logger.WarnContext(ctx, "Gemini API call failed, retrying",
			"model", name, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, ctx.Err())
		}
	}
	return "", fmt.Errorf("%w: exceeded %d retries: %w", ErrTransientFailure, b.maxRetries, lastErr)
}

// backoff returns base * 2^attempt scaled by a jitter factor in [0.5, 1).
func (b *Backend) backoff(attempt int) time.Duration {
	d := float64(b.baseDelay) * math.Pow(2, float64(attempt))
	return time.Duration(d * (0.5 + rand.Float64()*0.5))
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text parts", ErrInvalidResponse)
	}
	return sb.String(), nil
}

func buildContents(req core.ChatRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Turns)+1)
	for _, t := range req.Turns {
		role := roleUser
		if t.Role == model.ChatRoleAssistant {
			role = roleModel
		}
		contents = append(contents, textContent(role, t.Content))
	}
	if parts := imageParts(req.Images); len(parts) > 0 {
		contents = append(contents, &genai.Content{Role: roleUser, Parts: parts})
	}
	return contents
}

func imageParts(images []model.Image) []*genai.Part {
	parts := make([]*genai.Part, 0, len(images))
	for _, img := range images {
		switch {
		case len(img.Data) > 0:
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
		case img.URI != "":
			parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: img.URI, MIMEType: img.MIMEType}})
		}
	}
	return parts
}

func textContent(role, text string) *genai.Content {
	return &genai.Content{Role: role, Parts: []*genai.Part{{Text: text}}}
}

func tradeSignalSchema() *genai.Schema {
	number := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeNumber, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"asset": {Type: genai.TypeString, Description: "The asset or stock symbol, ex: XYZ"},
			"action": {
				Type:        genai.TypeString,
				Description: "The trade action",
				Enum:        []string{"BUY", "SELL", "WAIT", "EXIT"},
			},
			"entry_price": number("The entry price if applicable"),
			"stop_loss":   number("Stop loss price if applicable"),
			"take_profit": number("Take profit price if applicable"),
			"confidence":  number("Confidence level from 0 to 10"),
			"R2R":         number("Risk to reward value"),
		},
		Required: []string{"asset", "action"},
	}
}
