package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/data/pgxutil"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// UserRepo implements core.CreditRepository using PostgreSQL.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo instance.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

// GetBalance returns the current credit balance for email.
func (r *UserRepo) GetBalance(ctx context.Context, email string) (*model.CreditBalance, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	b := model.CreditBalance{Email: email}
	err := r.DB.QueryRowContext(ctx,
		`SELECT extra_credits, monthly_credits FROM users WHERE email_id = $1`, email,
	).Scan(&b.ExtraCredits, &b.MonthlyCredits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit balance: %w", err)
	}
	return &b, nil
}

// DeductCredits charges amount to the user. The row is locked for the read-modify-write so
// concurrent completions for the same user cannot lose updates.
func (r *UserRepo) DeductCredits(ctx context.Context, email string, amount int) (*model.CreditBalance, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if amount <= 0 {
		return nil, ErrInvalidCredits
	}

	var out model.CreditBalance
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		current := model.CreditBalance{Email: email}
		err := tx.QueryRow(ctx,
			`SELECT extra_credits, monthly_credits FROM users WHERE email_id = $1 FOR UPDATE`, email,
		).Scan(&current.ExtraCredits, &current.MonthlyCredits)
		if err != nil {
			return err
		}

		out = current.Deduct(amount)
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET extra_credits = $2, monthly_credits = $3, updated_at = now()
			WHERE email_id = $1`, email, out.ExtraCredits, out.MonthlyCredits)
		return err
	}})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}
	return &out, nil
}

// Ensure UserRepo implements the CreditRepository interface.
var _ core.CreditRepository = (*UserRepo)(nil)
