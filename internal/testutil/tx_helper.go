package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// WithTransaction executes a test function within a transaction that is
// always rolled back, so repository tests sharing one TestDB stay isolated.
func WithTransaction(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "failed to begin transaction")

	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			t.Errorf("failed to rollback transaction: %v", rbErr)
		}
	}()

	fn(tx)
}
