package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid movement", shared.ErrInvalidMovement, http.StatusUnprocessableEntity},
		{"invalid type", shared.ErrInvalidMovementType, http.StatusBadRequest},
		{"insufficient stock", shared.ErrInsufficientStock, http.StatusConflict},
		{"approval required", shared.ErrApprovalRequired, http.StatusForbidden},
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"idempotency replay", fmt.Errorf("movement: %w", shared.ErrIdempotencyConflict), http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestRespondErrorRetryableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("pool: %w", shared.ErrStoreUnavailable))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}
