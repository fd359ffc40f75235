package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

type envelope[T any] struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// asUser mimics the JWT middleware by binding a subject and role.
func asUser(id, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id != "" {
			c.Locals("user_id", id)
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}
