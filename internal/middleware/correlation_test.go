package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPrefersIncomingHeaders(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	var fromContext string
	app.Get("/", func(c *fiber.Ctx) error {
		fromContext = CorrelationIDFromContext(c.UserContext())
		return c.SendString(GetCorrelationID(c))
	})

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "correlation header", headers: map[string]string{HeaderCorrelationID: " abc ", HeaderRequestID: "req"}, want: "abc"},
		{name: "request id fallback", headers: map[string]string{HeaderRequestID: "req-7"}, want: "req-7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.Header.Get(HeaderCorrelationID))
			require.Equal(t, tc.want, fromContext)
		})
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(HeaderCorrelationID), 36)
}

func TestContextWithCorrelationIgnoresBlank(t *testing.T) {
	ctx := ContextWithCorrelation(context.Background(), "  ")
	require.Empty(t, CorrelationIDFromContext(ctx))
	require.Empty(t, CorrelationIDFromContext(nil))

	ctx = ContextWithCorrelation(nil, "id-1")
	require.Equal(t, "id-1", CorrelationIDFromContext(ctx))
}
