package controllers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/processor"
)

var validate = validator.New()

// respondError writes the JSON error body for err. Denials carry their
// reason as the error code.
func respondError(c *fiber.Ctx, err error, message string) error {
	status, code := errorStatus(err)
	logError(c, status, err, message)
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func errorStatus(err error) (int, string) {
	if errors.Is(err, processor.ErrInvalidInput) {
		return fiber.StatusBadRequest, "invalid_input"
	}
	return ledger.HTTPStatus(err), ledger.Reason(err)
}

func logError(c *fiber.Ctx, status int, err error, message string) {
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s: %s: %v", c.Method(), c.Path(), message, err)
	} else if ledger.IsDenial(err) {
		log.Infof("[API] %s %s denied: %v", c.Method(), c.Path(), err)
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_input", "message": message})
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
