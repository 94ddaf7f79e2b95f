package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditBalance_Deduct(t *testing.T) {
	tests := []struct {
		name        string
		start       CreditBalance
		amount      int
		wantExtra   int
		wantMonthly int
	}{
		{name: "all from extra", start: CreditBalance{ExtraCredits: 50, MonthlyCredits: 10}, amount: 20, wantExtra: 30, wantMonthly: 10},
		{name: "exactly extra", start: CreditBalance{ExtraCredits: 5, MonthlyCredits: 10}, amount: 5, wantExtra: 0, wantMonthly: 10},
		{name: "split", start: CreditBalance{ExtraCredits: 10, MonthlyCredits: 100}, amount: 30, wantExtra: 0, wantMonthly: 80},
		{name: "monthly goes negative", start: CreditBalance{ExtraCredits: 0, MonthlyCredits: 1}, amount: 3, wantExtra: 0, wantMonthly: -2},
		{name: "zero is a no-op", start: CreditBalance{ExtraCredits: 1, MonthlyCredits: 1}, amount: 0, wantExtra: 1, wantMonthly: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start.Deduct(tt.amount)
			assert.Equal(t, tt.wantExtra, got.ExtraCredits)
			assert.Equal(t, tt.wantMonthly, got.MonthlyCredits)
		})
	}
}

func TestConversation_Messages(t *testing.T) {
	var nilConv *Conversation
	msgs, err := nilConv.Messages()
	require.NoError(t, err)
	assert.Nil(t, msgs)

	conv := &Conversation{History: json.RawMessage(`[{"message_id":"m1","role":"user","content":"hi"}]`)}
	msgs, err = conv.Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ChatRoleUser, msgs[0].Role)

	_, err = (&Conversation{History: json.RawMessage(`{}`)}).Messages()
	assert.Error(t, err)
}
