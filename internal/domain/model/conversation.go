package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Persistence sentinels shared by the data layer and its callers.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrUserNotFound         = errors.New("user not found")
)

// ChatRole is the author of a conversation turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ConversationMessage is a single persisted conversation turn.
type ConversationMessage struct {
	MessageID string   `json:"message_id,omitempty"`
	Role      ChatRole `json:"role"`
	Content   string   `json:"content"`
}

// Conversation is the persisted multi-turn history for a job.
type Conversation struct {
	JobID       string          `json:"job_id"               db:"job_id"`
	UserEmail   string          `json:"user_email"           db:"user_email"`
	Symbol      string          `json:"symbol"               db:"symbol"`
	History     json.RawMessage `json:"conversation_history" db:"conversation_history"`
	TradeSignal json.RawMessage `json:"trade_signal"         db:"trade_signal"`
	CreatedAt   time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"           db:"updated_at"`
}

// Messages decodes the stored history.
func (c *Conversation) Messages() ([]ConversationMessage, error) {
	if c == nil || len(c.History) == 0 {
		return nil, nil
	}
	var out []ConversationMessage
	if err := json.Unmarshal(c.History, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversationRequest carries the fields needed to start a conversation record.
type CreateConversationRequest struct {
	JobID     string
	UserEmail string
	Symbol    string
	History   []ConversationMessage
}

// CreditBalance is a user's balance after a deduction.
type CreditBalance struct {
	Email          string `json:"email"           db:"email"`
	ExtraCredits   int    `json:"extra_credits"   db:"extra_credits"`
	MonthlyCredits int    `json:"monthly_credits" db:"monthly_credits"`
}

// Deduct applies a charge: extra credits are consumed first, the remainder comes from monthly
// credits which may go negative.
func (b CreditBalance) Deduct(amount int) CreditBalance {
	if amount <= 0 {
		return b
	}
	fromExtra := min(amount, max(b.ExtraCredits, 0))
	b.ExtraCredits -= fromExtra
	b.MonthlyCredits -= amount - fromExtra
	return b
}
