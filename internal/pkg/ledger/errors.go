package ledger

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Sentinel errors shared by the ledger, entitlement, usage, billing and
// admin packages. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("ledger: not found")
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrAccountSuspended    = errors.New("ledger: account suspended")
	ErrForbidden           = errors.New("ledger: forbidden")
	ErrConflict            = errors.New("ledger: conflicting concurrent update")
	ErrStoreUnavailable    = errors.New("ledger: store unavailable")
	ErrUnknownOperation    = errors.New("ledger: unknown operation type")
	ErrInvalidInput        = errors.New("ledger: invalid input")
	ErrBalanceMismatch     = errors.New("ledger: balance does not match entries")
)

// IsRetryable reports whether the caller may retry the same request once.
// Only serialization conflicts qualify; an unavailable store fails fast.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDenial reports whether err is an entitlement denial rather than an
// infrastructure failure.
func IsDenial(err error) bool {
	return errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, ErrAccountSuspended) ||
		errors.Is(err, ErrInsufficientCredits)
}

// HTTPStatus maps a ledger error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrInsufficientCredits):
		return fiber.StatusPaymentRequired
	case errors.Is(err, ErrAccountSuspended), errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// Reason returns a short machine-readable label for err, used in API
// responses and metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrAccountSuspended):
		return "account_suspended"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnknownOperation):
		return "unknown_operation"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrBalanceMismatch):
		return "balance_mismatch"
	default:
		return "internal"
	}
}
