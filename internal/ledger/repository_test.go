package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/shared"
)

func TestStoreErrClassifiesTransientFailures(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"deadline exceeded", fmt.Errorf("exec: %w", context.DeadlineExceeded), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := storeErr(tc.err)
			require.Error(t, got)
			if tc.retryable {
				require.ErrorIs(t, got, shared.ErrStoreUnavailable)
			} else {
				require.NotErrorIs(t, got, shared.ErrStoreUnavailable)
			}
		})
	}
	require.NoError(t, storeErr(nil))
}
