package shared

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy surfaced by the core services. Handlers translate these to
// HTTP statuses; StoreUnavailable is the only class callers may retry.
var (
	// ErrInvalidMovement indicates a malformed movement payload.
	ErrInvalidMovement = errors.New("invalid movement")
	// ErrInvalidMovementType indicates a movement type outside the enumerated set.
	ErrInvalidMovementType = errors.New("invalid movement type")
	// ErrInsufficientStock indicates an outbound movement would drive on-hand negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrApprovalRequired indicates a reversal without an approver.
	ErrApprovalRequired = errors.New("approval required")
	// ErrStoreUnavailable indicates a transient backing-store failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound indicates a referenced order, item or product is absent.
	ErrNotFound = errors.New("not found")
)

// FieldError attaches the offending field names to a taxonomy error.
type FieldError struct {
	Err    error
	Fields []string
}

// NewFieldError wraps err with the failing field names.
func NewFieldError(err error, fields ...string) *FieldError {
	return &FieldError{Err: err, Fields: fields}
}

func (e *FieldError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), strings.Join(e.Fields, ", "))
}

// Unwrap exposes the underlying taxonomy error to errors.Is.
func (e *FieldError) Unwrap() error { return e.Err }

// ErrorFields returns the field names carried by err, if any.
func ErrorFields(err error) []string {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Fields
	}
	return nil
}

// UserSafeMessage returns a message suitable for API clients. Internal
// failures are reported as a generic store problem.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMovement),
		errors.Is(err, ErrInvalidMovementType),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrApprovalRequired),
		errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return "backing store temporarily unavailable, retry the request"
	default:
		return "internal error"
	}
}
