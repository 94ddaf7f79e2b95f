package data

import (
	"errors"

	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// Conversation repository sentinels.
	ErrConversationNotFound = model.ErrConversationNotFound
	ErrConversationExists   = model.ErrConversationExists
	ErrJobIDRequired        = errors.New("job_id is required")

	// User repository sentinels.
	ErrUserNotFound   = model.ErrUserNotFound
	ErrEmailRequired  = errors.New("email is required")
	ErrInvalidCredits = errors.New("credit amount must be positive")
)
