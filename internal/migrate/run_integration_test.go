package migrate_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/chart-analysis-worker/internal/migrate"
	"github.com/target/chart-analysis-worker/internal/testutil"
)

func TestRun_Integration_ConcurrentAndIdempotent(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = migrate.Run(ctx, db)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		status, err := migrate.Status(ctx, db)
		require.NoError(t, err)
		require.NotEmpty(t, status)
		for _, m := range status {
			assert.True(t, m.Applied(), m.Version)
		}

		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
		assert.Equal(t, len(status), n)
	})
}
