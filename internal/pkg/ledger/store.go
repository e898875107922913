package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

// Mutation is a single signed balance change handed to the store.
type Mutation struct {
	AccountID      string
	Amount         int64
	Kind           models.LedgerEntryKind
	Description    string
	IdempotencyKey string
	// InTx runs inside the transaction after the entry is written. An error
	// rolls the whole mutation back. It is not called for replays.
	InTx func(tx *gorm.DB, entry *models.LedgerEntry) error
}

// Store persists balances and ledger entries. Apply is the only write path
// and must change the balance and append the entry atomically.
type Store interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	// Apply returns the entry and whether it was a replay of an earlier
	// mutation with the same idempotency key.
	Apply(ctx context.Context, m Mutation) (*models.LedgerEntry, bool, error)
	FindByIdempotencyKey(ctx context.Context, accountID, key string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error)
	CountEntries(ctx context.Context, accountID string) (int64, error)
	SumEntries(ctx context.Context, accountID string) (int64, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a ledger store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// errDuplicateKey marks a lost race on the idempotency key.
var errDuplicateKey = errors.New("ledger: duplicate idempotency key")

func (s *gormStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).Select("id", "credits").Where("id = ?", accountID).Take(&acct).Error
	if err != nil {
		return 0, classify(err)
	}
	return acct.Credits, nil
}

func (s *gormStore) Apply(ctx context.Context, m Mutation) (*models.LedgerEntry, bool, error) {
	var (
		entry    *models.LedgerEntry
		replayed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.IdempotencyKey != "" {
			existing, err := findByKey(tx, m.AccountID, m.IdempotencyKey)
			if err == nil {
				entry, replayed = existing, true
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		res := tx.Model(&models.Account{}).
			Where("id = ? AND credits + ? >= 0", m.AccountID, m.Amount).
			Updates(map[string]interface{}{
				"credits":    gorm.Expr("credits + ?", m.Amount),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var acct models.Account
			err := tx.Select("id").Where("id = ?", m.AccountID).Take(&acct).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrInsufficientCredits
		}

		var acct models.Account
		if err := tx.Select("id", "credits").Where("id = ?", m.AccountID).Take(&acct).Error; err != nil {
			return err
		}

		e := &models.LedgerEntry{
			AccountID:    m.AccountID,
			Amount:       m.Amount,
			Kind:         m.Kind,
			Description:  m.Description,
			BalanceAfter: acct.Credits,
		}
		if m.IdempotencyKey != "" {
			key := m.IdempotencyKey
			e.IdempotencyKey = &key
		}
		if err := tx.Create(e).Error; err != nil {
			if isDuplicateKey(err) {
				return errDuplicateKey
			}
			return err
		}
		if m.InTx != nil {
			if err := m.InTx(tx, e); err != nil {
				return err
			}
		}
		entry = e
		return nil
	})

	if errors.Is(err, errDuplicateKey) {
		// A concurrent call with the same key committed first; its entry wins.
		winner, findErr := s.FindByIdempotencyKey(ctx, m.AccountID, m.IdempotencyKey)
		if findErr != nil {
			return nil, false, findErr
		}
		return winner, true, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return entry, replayed, nil
}

func (s *gormStore) FindByIdempotencyKey(ctx context.Context, accountID, key string) (*models.LedgerEntry, error) {
	e, err := findByKey(s.db.WithContext(ctx), accountID, key)
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func findByKey(db *gorm.DB, accountID, key string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := db.Where("account_id = ? AND idempotency_key = ?", accountID, key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *gormStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *gormStore) CountEntries(ctx context.Context, accountID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *gormStore) SumEntries(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, classify(err)
	}
	return sum, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// classify maps driver errors onto the ledger sentinels. Errors that already
// carry a sentinel pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213, 1205: // deadlock, lock wait timeout
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case 1040, 1053, 2002, 2003, 2006, 2013:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "deadlock"), strings.Contains(msg, "serialization failure"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "database is closed"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "bad connection"):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
