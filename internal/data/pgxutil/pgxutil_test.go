package pgxutil_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/chart-analysis-worker/internal/data/pgxutil"
	"github.com/target/chart-analysis-worker/internal/testutil"
)

func TestWithPgxTx_Integration(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		insert := func(email string) func(pgx.Tx) error {
			return func(tx pgx.Tx) error {
				_, err := tx.Exec(ctx, `INSERT INTO users (email_id, extra_credits, monthly_credits) VALUES ($1, 0, 0)`, email)
				return err
			}
		}

		require.NoError(t, pgxutil.WithPgxTx(ctx, db, pgxutil.TxConfig{Fn: insert("kept@example.com")}))

		boom := errors.New("boom")
		err := pgxutil.WithPgxTx(ctx, db, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
			if insertErr := insert("rolled-back@example.com")(tx); insertErr != nil {
				return insertErr
			}
			return boom
		}})
		require.ErrorIs(t, err, boom)

		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n))
		assert.Equal(t, 1, n)

		err = pgxutil.WithPgxTx(ctx, db, pgxutil.TxConfig{
			Opts: pgx.TxOptions{AccessMode: pgx.ReadOnly},
			Fn:   insert("read-only@example.com"),
		})
		assert.Error(t, err, "writes must fail inside a read-only transaction")
	})
}

func TestWithPgxConn_Integration(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		var one int
		err := pgxutil.WithPgxConn(context.Background(), db, func(conn *pgx.Conn) error {
			return conn.QueryRow(context.Background(), `SELECT 1`).Scan(&one)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, one)
	})
}
