package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
)

// Catalog looks up enabled operation types. Implementations return
// ledger.ErrUnknownOperation when the type is absent or disabled.
type Catalog interface {
	GetEnabledOperation(ctx context.Context, operationType string) (*models.AIModel, error)
}

// AccountReader loads an account by id.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// Decision is the outcome of an entitlement check. When Allowed is false,
// Reason holds the denial sentinel.
type Decision struct {
	Allowed bool
	Cost    int64
	Model   *models.AIModel
	Reason  error
}

// Resolver decides whether an account may start an operation. It only
// reads; nothing is reserved or debited.
type Resolver struct {
	catalog  Catalog
	accounts AccountReader
	metrics  *metrics.Metrics
}

// NewResolver creates a resolver. m may be nil.
func NewResolver(catalog Catalog, accounts AccountReader, m *metrics.Metrics) *Resolver {
	return &Resolver{catalog: catalog, accounts: accounts, metrics: m}
}

// Resolve checks, in order, that the operation exists, that the account is
// not suspended and that the balance covers the cost. Infrastructure errors
// are returned as err, never as a denial.
func (r *Resolver) Resolve(ctx context.Context, accountID, operationType string) (Decision, error) {
	model, err := r.catalog.GetEnabledOperation(ctx, operationType)
	if errors.Is(err, ledger.ErrUnknownOperation) {
		return r.deny(Decision{}, ledger.ErrUnknownOperation), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load catalog entry %q: %w", operationType, err)
	}

	d := Decision{Cost: model.CreditCost, Model: model}

	acct, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if acct.IsSuspended() {
		return r.deny(d, ledger.ErrAccountSuspended), nil
	}
	if acct.Credits < model.CreditCost {
		return r.deny(d, ledger.ErrInsufficientCredits), nil
	}

	d.Allowed = true
	return d, nil
}

func (r *Resolver) deny(d Decision, reason error) Decision {
	d.Allowed = false
	d.Reason = reason
	r.metrics.Denial(ledger.Reason(reason))
	return d
}
