package usercontext

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

func TestGetDefaultsToAnonymous(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		assert.False(t, IsAuthenticated(c))
		assert.False(t, IsAdmin(c))
		assert.Empty(t, AccountID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestSetAndGet(t *testing.T) {
	acct := &models.Account{ID: "acct-1", Email: "a@example.com", Role: models.ROLE_ADMIN, Suspended: true}

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		Set(c, FromAccount(acct))
		ac := Get(c)
		assert.Equal(t, "acct-1", ac.AccountID)
		assert.True(t, ac.IsAdmin)
		assert.True(t, ac.Suspended)
		assert.True(t, IsAuthenticated(c))
		assert.Equal(t, "acct-1", c.Locals(KeyAccountID))
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
