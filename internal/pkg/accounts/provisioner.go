// Package accounts provisions accounts for identities seen for the first
// time.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// DefaultSignupCredits is granted to every new account.
const DefaultSignupCredits = 10

const signupIdempotencyKey = "signup"

var validate = validator.New()

// Provisioner loads the caller's account, creating it with a signup grant on
// first sight. The account row and its grant commit together, so a failed
// grant leaves no account behind and the next request provisions again.
type Provisioner struct {
	db            *gorm.DB
	accounts      repository.AccountRepository
	ledger        *ledger.Service
	signupCredits int64
}

func NewProvisioner(db *gorm.DB, accounts repository.AccountRepository, ledgerSvc *ledger.Service, signupCredits int64) *Provisioner {
	if signupCredits < 0 {
		signupCredits = 0
	}
	return &Provisioner{db: db, accounts: accounts, ledger: ledgerSvc, signupCredits: signupCredits}
}

// Ensure returns the account for id.
func (p *Provisioner) Ensure(ctx context.Context, id, email string) (*models.Account, error) {
	if id == "" {
		return nil, ledger.ErrInvalidInput
	}
	acct, err := p.accounts.GetByID(ctx, id)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	if email != "" && validate.Var(email, "email,max=200") != nil {
		email = ""
	}
	var created bool
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acct, created, err = p.accounts.WithTx(tx).GetOrCreate(ctx, id, email)
		if err != nil || !created || p.signupCredits == 0 {
			return err
		}
		entry, err := p.ledger.WithTx(tx).Mutate(ctx, ledger.MutateInput{
			AccountID:      id,
			Amount:         p.signupCredits,
			Kind:           models.LedgerKindPurchase,
			Description:    "signup grant",
			IdempotencyKey: signupIdempotencyKey,
		})
		if err != nil {
			return fmt.Errorf("signup grant: %w", err)
		}
		acct.Credits = entry.BalanceAfter
		return nil
	})
	if err != nil {
		log.Errorf("[Accounts] Provisioning %s failed: %v", id, err)
		return nil, err
	}
	if created {
		log.Infof("[Accounts] Created account %s with %d signup credits", id, p.signupCredits)
	}
	return acct, nil
}
