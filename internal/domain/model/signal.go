package model

import (
	"fmt"
	"strings"
)

// TradeAction is the recommended action extracted from an analysis.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "BUY"
	TradeActionSell TradeAction = "SELL"
	TradeActionWait TradeAction = "WAIT"
	TradeActionExit TradeAction = "EXIT"
)

// Valid returns true if the action is one of the recognised values.
func (a TradeAction) Valid() bool {
	return a == TradeActionBuy || a == TradeActionSell || a == TradeActionWait || a == TradeActionExit
}

// UnmarshalText accepts any casing so model output like "buy" decodes cleanly.
func (a *TradeAction) UnmarshalText(text []byte) error {
	v := TradeAction(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TradeAction: %q", string(text))
	}
	*a = v
	return nil
}

// TradeSignal is the structured summary of a chart analysis.
type TradeSignal struct {
	Asset      string      `json:"asset"`
	Action     TradeAction `json:"action"`
	EntryPrice *float64    `json:"entry_price"`
	StopLoss   *float64    `json:"stop_loss"`
	TakeProfit *float64    `json:"take_profit"`
	Confidence *float64    `json:"confidence"`
	R2R        *float64    `json:"R2R"`
}

// StrategyName identifies which handler strategy produced a result.
type StrategyName string

const (
	StrategySignal    StrategyName = "signal"
	StrategyChat      StrategyName = "chat"
	StrategyConsensus StrategyName = "consensus"
)

// AnalysisResult is stored in Job.Result when a job completes.
type AnalysisResult struct {
	Response    string       `json:"response"`
	TradeSignal *TradeSignal `json:"trade_signal,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	Strategy    StrategyName `json:"strategy"`
	Models      []string     `json:"models,omitempty"`
}
