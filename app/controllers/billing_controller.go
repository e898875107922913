package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/billing"
)

// BillingController receives payment-provider webhooks.
type BillingController struct {
	svc       *billing.Service
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewBillingController(svc *billing.Service, secret string, tolerance time.Duration) *BillingController {
	if tolerance <= 0 {
		tolerance = billing.DefaultSignatureTolerance
	}
	return &BillingController{svc: svc, secret: secret, tolerance: tolerance, now: time.Now}
}

// HandleStripeWebhook verifies and applies a Stripe event. Non-2xx answers
// make Stripe redeliver, so only handler failures return 500.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)

	err := billing.VerifyStripeSignature(rawBody, c.Get("Stripe-Signature"), bc.secret, bc.tolerance, bc.now())
	if errors.Is(err, billing.ErrSecretUnavailable) {
		log.Error("[Billing] STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
	}
	if err != nil {
		log.Warnf("[Billing] Rejected webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	res, err := bc.svc.ProcessWebhook(c.UserContext(), rawBody, true)
	if errors.Is(err, billing.ErrInvalidPayload) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err != nil {
		log.Errorf("[Billing] Webhook handling failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	return c.JSON(fiber.Map{"received": true, "outcome": res.Outcome})
}
