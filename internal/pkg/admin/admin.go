package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// Action is one administrative request. The concrete type is one of
// AdjustCredits, Ban, Unban, UpdateRole or VerifyBalance.
type Action interface {
	Name() string
	Target() string
	adminAction()
}

type AdjustCredits struct {
	TargetID       string
	Delta          int64
	Reason         string
	IdempotencyKey string
}

type Ban struct {
	TargetID string
	Reason   string
}

type Unban struct {
	TargetID string
}

type UpdateRole struct {
	TargetID string
	Role     string
}

// VerifyBalance compares the stored balance with the ledger sum. It changes
// nothing and is not audited.
type VerifyBalance struct {
	TargetID string
}

func (a AdjustCredits) Name() string   { return models.AuditActionAdjustCredits }
func (a AdjustCredits) Target() string { return a.TargetID }
func (AdjustCredits) adminAction()     {}
func (a Ban) Name() string             { return models.AuditActionBan }
func (a Ban) Target() string           { return a.TargetID }
func (Ban) adminAction()               {}
func (a Unban) Name() string           { return models.AuditActionUnban }
func (a Unban) Target() string         { return a.TargetID }
func (Unban) adminAction()             {}
func (a UpdateRole) Name() string      { return models.AuditActionUpdateRole }
func (a UpdateRole) Target() string    { return a.TargetID }
func (UpdateRole) adminAction()        {}
func (a VerifyBalance) Name() string   { return "verify_balance" }
func (a VerifyBalance) Target() string { return a.TargetID }
func (VerifyBalance) adminAction()     {}

// Result is returned by Perform.
type Result struct {
	Action     string              `json:"action"`
	TargetID   string              `json:"target_user_id"`
	Message    string              `json:"message"`
	NewBalance *int64              `json:"new_balance,omitempty"`
	Entry      *models.LedgerEntry `json:"entry,omitempty"`
}

// Service executes privileged account actions. Every state-changing action
// is checked against the caller's role and commits together with its audit
// record: an action whose audit write fails is rolled back.
type Service struct {
	db       *gorm.DB
	accounts repository.AccountRepository
	audit    repository.AuditRepository
	ledger   *ledger.Service
}

func NewService(db *gorm.DB, accounts repository.AccountRepository, audit repository.AuditRepository, ledgerSvc *ledger.Service) *Service {
	return &Service{db: db, accounts: accounts, audit: audit, ledger: ledgerSvc}
}

// Adjust changes the target's balance by delta through the ledger. A debit
// beyond the balance fails with ledger.ErrInsufficientCredits and leaves no
// audit record. A replayed idempotency key returns the original entry and
// writes no second record.
func (s *Service) Adjust(ctx context.Context, adminID, targetID string, delta int64, reason string) (*models.LedgerEntry, error) {
	return s.adjust(ctx, adminID, AdjustCredits{TargetID: targetID, Delta: delta, Reason: reason})
}

func (s *Service) adjust(ctx context.Context, adminID string, a AdjustCredits) (*models.LedgerEntry, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if a.Delta == 0 {
		return nil, fmt.Errorf("%w: credits amount is required", ledger.ErrInvalidInput)
	}
	if _, err := s.accounts.GetByID(ctx, a.TargetID); err != nil {
		return nil, err
	}

	entry, err := s.ledger.Mutate(ctx, ledger.MutateInput{
		AccountID:      a.TargetID,
		Amount:         a.Delta,
		Kind:           models.LedgerKindAdminAdjustment,
		Description:    fmt.Sprintf("Admin credit adjustment: %+d", a.Delta),
		IdempotencyKey: a.IdempotencyKey,
		InTx: func(tx *gorm.DB, entry *models.LedgerEntry) error {
			return s.record(ctx, tx, adminID, a, map[string]interface{}{
				"credit_change": a.Delta,
				"new_balance":   entry.BalanceAfter,
				"reason":        a.Reason,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Ban suspends the target account.
func (s *Service) Ban(ctx context.Context, adminID, targetID, reason string) error {
	return s.setBan(ctx, adminID, Ban{TargetID: targetID, Reason: reason}, true, reason)
}

// Unban lifts a suspension.
func (s *Service) Unban(ctx context.Context, adminID, targetID string) error {
	return s.setBan(ctx, adminID, Unban{TargetID: targetID}, false, "")
}

func (s *Service) setBan(ctx context.Context, adminID string, a Action, banned bool, reason string) error {
	if err := s.authorize(ctx, adminID); err != nil {
		return err
	}
	details := map[string]interface{}{}
	if banned {
		details["reason"] = reason
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.WithTx(tx).SetBan(ctx, a.Target(), banned, reason); err != nil {
			return err
		}
		return s.record(ctx, tx, adminID, a, details)
	})
}

// UpdateRole sets the target's role to user or admin.
func (s *Service) UpdateRole(ctx context.Context, adminID, targetID, role string) error {
	if err := s.authorize(ctx, adminID); err != nil {
		return err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role != models.ROLE_USER && role != models.ROLE_ADMIN {
		return fmt.Errorf("%w: valid role is required", ledger.ErrInvalidInput)
	}
	target, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.WithTx(tx).UpdateRole(ctx, targetID, role); err != nil {
			return err
		}
		return s.record(ctx, tx, adminID, UpdateRole{TargetID: targetID, Role: role}, map[string]interface{}{
			"new_role":      role,
			"previous_role": target.Role,
		})
	})
}

// Perform dispatches a tagged action.
func (s *Service) Perform(ctx context.Context, adminID string, action Action) (*Result, error) {
	res := &Result{Action: action.Name(), TargetID: action.Target()}
	var err error

	switch a := action.(type) {
	case AdjustCredits:
		var entry *models.LedgerEntry
		entry, err = s.adjust(ctx, adminID, a)
		if err == nil {
			res.Entry = entry
			res.NewBalance = &entry.BalanceAfter
		}
	case Ban:
		err = s.Ban(ctx, adminID, a.TargetID, a.Reason)
	case Unban:
		err = s.Unban(ctx, adminID, a.TargetID)
	case UpdateRole:
		err = s.UpdateRole(ctx, adminID, a.TargetID, a.Role)
	case VerifyBalance:
		if err = s.authorize(ctx, adminID); err == nil {
			err = s.ledger.Verify(ctx, a.TargetID)
		}
	default:
		err = fmt.Errorf("%w: invalid action", ledger.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	res.Message = fmt.Sprintf("User %s completed successfully", res.Action)
	return res, nil
}

// AuditTrail returns the most recent audit records for a target account.
func (s *Service) AuditTrail(ctx context.Context, adminID, targetID string, limit int) ([]models.AuditLog, error) {
	if err := s.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.audit.ListByTarget(ctx, targetID, limit)
}

func (s *Service) authorize(ctx context.Context, adminID string) error {
	acct, err := s.accounts.GetByID(ctx, adminID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.ErrForbidden
	}
	if err != nil {
		return err
	}
	if !acct.IsAdmin() || acct.IsSuspended() {
		return ledger.ErrForbidden
	}
	return nil
}

// record appends an audit entry inside tx. Its error aborts the action.
func (s *Service) record(ctx context.Context, tx *gorm.DB, adminID string, a Action, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	entry := &models.AuditLog{
		AdminID:         adminID,
		Action:          a.Name(),
		TargetAccountID: a.Target(),
		Details:         datatypes.JSON(raw),
	}
	if err := s.audit.WithTx(tx).Create(ctx, entry); err != nil {
		log.Errorf("[Admin] Failed to write audit record for %s on %s by %s: %v", a.Name(), a.Target(), adminID, err)
		return fmt.Errorf("write audit record: %w", err)
	}
	log.Infof("[Admin] %s performed %s on %s", adminID, a.Name(), a.Target())
	return nil
}
