package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
)

// MaxMutationAmount bounds the absolute value of a single mutation.
const MaxMutationAmount int64 = 1_000_000_000

const maxIdempotencyKeyLen = 191

// MutateInput describes one balance change. Amount is signed: negative
// values debit the account.
type MutateInput struct {
	AccountID      string
	Amount         int64
	Kind           models.LedgerEntryKind
	Description    string
	IdempotencyKey string
	// InTx runs in the same transaction as the balance change; see Mutation.
	InTx func(tx *gorm.DB, entry *models.LedgerEntry) error
}

// Service is the only component allowed to change balances.
type Service struct {
	store   Store
	metrics *metrics.Metrics
}

// NewService creates a ledger service. m may be nil.
func NewService(store Store, m *metrics.Metrics) *Service {
	return &Service{store: store, metrics: m}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() Store {
	return s.store
}

// WithTx returns a service whose mutations join tx. The store must be the
// GORM store.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{store: NewStore(tx), metrics: s.metrics}
}

// Mutate applies a signed balance change and appends the matching ledger
// entry in one atomic step. A repeated call with the same idempotency key
// returns the original entry and changes nothing.
func (s *Service) Mutate(ctx context.Context, in MutateInput) (*models.LedgerEntry, error) {
	if err := validate(in); err != nil {
		s.metrics.LedgerMutation(string(in.Kind), Reason(err), in.Amount)
		return nil, err
	}

	entry, replayed, err := s.store.Apply(ctx, Mutation{
		AccountID:      in.AccountID,
		Amount:         in.Amount,
		Kind:           in.Kind,
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
		InTx:           in.InTx,
	})
	if err != nil {
		s.metrics.LedgerMutation(string(in.Kind), Reason(err), in.Amount)
		if errors.Is(err, ErrInsufficientCredits) || errors.Is(err, ErrNotFound) {
			log.Infof("[Ledger] %s of %d for account %s rejected: %v", in.Kind, in.Amount, in.AccountID, err)
		} else {
			log.Errorf("[Ledger] %s of %d for account %s failed: %v", in.Kind, in.Amount, in.AccountID, err)
		}
		return nil, err
	}

	if replayed {
		s.metrics.LedgerMutation(string(in.Kind), "replayed", in.Amount)
		log.Debugf("[Ledger] Replayed entry %d for key %q", entry.ID, in.IdempotencyKey)
		return entry, nil
	}

	s.metrics.LedgerMutation(string(in.Kind), "applied", in.Amount)
	log.Infof("[Ledger] Applied %s %+d to account %s (balance %d, entry %d)",
		in.Kind, in.Amount, in.AccountID, entry.BalanceAfter, entry.ID)
	return entry, nil
}

// Balance returns the current credit balance of an account.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.store.GetBalance(ctx, accountID)
}

// Entries returns one page of an account's ledger, newest first, together
// with the total number of entries.
func (s *Service) Entries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.store.ListEntries(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountEntries(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Verify checks that the materialized balance equals the sum of the
// account's ledger entries.
func (s *Service) Verify(ctx context.Context, accountID string) error {
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := s.store.SumEntries(ctx, accountID)
	if err != nil {
		return err
	}
	if balance != sum {
		log.Errorf("[Ledger] Account %s balance %d != entry sum %d", accountID, balance, sum)
		return fmt.Errorf("%w: balance %d, entries %d", ErrBalanceMismatch, balance, sum)
	}
	return nil
}

func validate(in MutateInput) error {
	switch {
	case strings.TrimSpace(in.AccountID) == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	case in.Amount == 0:
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidInput)
	case in.Amount > MaxMutationAmount || in.Amount < -MaxMutationAmount:
		return fmt.Errorf("%w: amount %d out of range", ErrInvalidInput, in.Amount)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown entry kind %q", ErrInvalidInput, in.Kind)
	case len(in.IdempotencyKey) > maxIdempotencyKeyLen:
		return fmt.Errorf("%w: idempotency key too long", ErrInvalidInput)
	}
	return nil
}
