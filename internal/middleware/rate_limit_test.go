package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimitIsPerUser(t *testing.T) {
	user := "a"
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", user)
		return c.Next()
	})
	app.Use(RateLimit("actions", 2, time.Minute))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	call := func() int {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusOK, call())
	require.Equal(t, fiber.StatusOK, call())
	require.Equal(t, fiber.StatusTooManyRequests, call())

	user = "b"
	require.Equal(t, fiber.StatusOK, call())
}
