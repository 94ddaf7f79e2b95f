package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/data/pgxutil"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// ConversationRepo implements core.ConversationRepository using PostgreSQL.
type ConversationRepo struct {
	DB *sql.DB
}

// NewConversationRepo creates a new ConversationRepo instance.
func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{DB: db}
}

const conversationColumns = "job_id, user_email, symbol, conversation_history, trade_signal, created_at, updated_at"

// Exists reports whether a conversation is stored for jobID.
func (r *ConversationRepo) Exists(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, ErrJobIDRequired
	}
	var exists bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

// Create inserts a new conversation. An existing record for the job yields ErrConversationExists.
func (r *ConversationRepo) Create(ctx context.Context, req model.CreateConversationRequest) error {
	if req.JobID == "" {
		return ErrJobIDRequired
	}
	history := req.History
	if history == nil {
		history = []model.ConversationMessage{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode conversation history: %w", err)
	}

	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx, `
			INSERT INTO conversations (job_id, user_email, symbol, conversation_history)
			VALUES ($1, $2, $3, $4::jsonb)`,
			req.JobID, req.UserEmail, req.Symbol, string(raw))
		return execErr
	})
	if err != nil {
		return r.mapWriteErr(err)
	}
	return nil
}

// Get loads the conversation for jobID.
func (r *ConversationRepo) Get(ctx context.Context, jobID string) (*model.Conversation, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	var conv model.Conversation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE job_id = $1`, jobID)
		if err != nil {
			return err
		}
		defer rows.Close()
		conv, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Conversation])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage appends msg to the stored history in a single statement.
func (r *ConversationRepo) AppendMessage(ctx context.Context, jobID string, msg model.ConversationMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode conversation message: %w", err)
	}
	return r.update(ctx, `
		UPDATE conversations
		SET conversation_history = conversation_history || jsonb_build_array($2::jsonb),
		    updated_at = now()
		WHERE job_id = $1`, jobID, string(raw))
}

// UpdateSignal stores the latest extracted trade signal.
func (r *ConversationRepo) UpdateSignal(ctx context.Context, jobID string, signal model.TradeSignal) error {
	raw, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("encode trade signal: %w", err)
	}
	return r.update(ctx, `
		UPDATE conversations
		SET trade_signal = $2::jsonb, updated_at = now()
		WHERE job_id = $1`, jobID, string(raw))
}

func (r *ConversationRepo) update(ctx context.Context, query, jobID, payload string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, query, jobID, payload)
		if execErr != nil {
			return execErr
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// mapWriteErr maps database errors to domain-specific errors.
func (r *ConversationRepo) mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrConversationExists
	}
	return fmt.Errorf("create conversation: %w", err)
}

// Ensure ConversationRepo implements the ConversationRepository interface.
var _ core.ConversationRepository = (*ConversationRepo)(nil)
