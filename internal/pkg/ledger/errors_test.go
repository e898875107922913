package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, fiber.StatusPaymentRequired, HTTPStatus(fmt.Errorf("debit: %w", ErrInsufficientCredits)))
	assert.Equal(t, fiber.StatusForbidden, HTTPStatus(ErrAccountSuspended))
	assert.Equal(t, fiber.StatusForbidden, HTTPStatus(ErrForbidden))
	assert.Equal(t, fiber.StatusBadRequest, HTTPStatus(ErrUnknownOperation))
	assert.Equal(t, fiber.StatusNotFound, HTTPStatus(ErrNotFound))
	assert.Equal(t, fiber.StatusServiceUnavailable, HTTPStatus(ErrStoreUnavailable))
	assert.Equal(t, fiber.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestIsRetryableOnlyForConflicts(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("%w: deadlock", ErrConflict)))
	assert.False(t, IsRetryable(ErrStoreUnavailable))
	assert.False(t, IsRetryable(ErrInsufficientCredits))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), ErrStoreUnavailable)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}), ErrConflict)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 2006, Message: "gone away"}), ErrStoreUnavailable)
	assert.ErrorIs(t, classify(errors.New("database is locked (5) (SQLITE_BUSY)")), ErrConflict)
	assert.ErrorIs(t, classify(ErrInsufficientCredits), ErrInsufficientCredits)

	plain := errors.New("syntax error")
	assert.Equal(t, plain, classify(plain))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(&mysql.MySQLError{Number: 1062}))
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: ledger_entries.account_id")))
	assert.False(t, isDuplicateKey(errors.New("no such table")))
}
