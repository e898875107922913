package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/usercontext"
)

const recentOperationsLimit = 10

// SubscriptionLister lists an account's billing subscriptions.
type SubscriptionLister interface {
	Subscriptions(ctx context.Context, accountID string) ([]models.BillingSubscription, error)
}

// AccountController serves the caller's balance, usage and statement.
type AccountController struct {
	accounts      repository.AccountRepository
	ops           repository.OperationRepository
	ledger        *ledger.Service
	subscriptions SubscriptionLister
	now           func() time.Time
}

func NewAccountController(accounts repository.AccountRepository, ops repository.OperationRepository, ledgerSvc *ledger.Service, subs SubscriptionLister) *AccountController {
	return &AccountController{
		accounts:      accounts,
		ops:           ops,
		ledger:        ledgerSvc,
		subscriptions: subs,
		now:           time.Now,
	}
}

// HandleGetAccount returns the profile and current balance.
func (ac *AccountController) HandleGetAccount(c *fiber.Ctx) error {
	ctx := c.UserContext()
	account, err := ac.accounts.GetByID(ctx, usercontext.AccountID(c))
	if err != nil {
		return respondError(c, err, "Failed to load account")
	}

	subs := []models.BillingSubscription{}
	if ac.subscriptions != nil {
		if list, err := ac.subscriptions.Subscriptions(ctx, account.ID); err == nil {
			subs = list
		}
	}

	return c.JSON(fiber.Map{
		"id":            account.ID,
		"email":         account.Email,
		"credits":       account.Credits,
		"role":          account.Role,
		"suspended":     account.IsSuspended(),
		"created_at":    account.CreatedAt,
		"subscriptions": subs,
	})
}

// HandleGetStats returns usage totals for the current calendar month.
func (ac *AccountController) HandleGetStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	accountID := usercontext.AccountID(c)

	now := ac.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats, err := ac.ops.GetStats(ctx, accountID, monthStart)
	if err != nil {
		return respondError(c, err, "Failed to load statistics")
	}
	recent, err := ac.ops.ListRecentByAccount(ctx, accountID, recentOperationsLimit)
	if err != nil {
		return respondError(c, err, "Failed to load recent operations")
	}
	balance, err := ac.ledger.Balance(ctx, accountID)
	if err != nil {
		return respondError(c, err, "Failed to load balance")
	}

	recentOps := make([]fiber.Map, 0, len(recent))
	for i := range recent {
		recentOps = append(recentOps, operationResponse(&recent[i]))
	}

	return c.JSON(fiber.Map{
		"total_operations":        stats.TotalOperations,
		"operations_this_month":   stats.OperationsSince,
		"credits_used_this_month": stats.CreditsUsedSince,
		"most_used_operation":     stats.MostUsedOperationType,
		"current_credits":         balance,
		"recent_operations":       recentOps,
	})
}

// HandleGetTransactions returns the ledger statement, newest first.
func (ac *AccountController) HandleGetTransactions(c *fiber.Ctx) error {
	limit := queryInt(c, "limit", 50)
	if limit == 0 || limit > 100 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)

	entries, total, err := ac.ledger.Entries(c.UserContext(), usercontext.AccountID(c), limit, offset)
	if err != nil {
		return respondError(c, err, "Failed to load transactions")
	}
	return c.JSON(fiber.Map{
		"transactions": entries,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}
