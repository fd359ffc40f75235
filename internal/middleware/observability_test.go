package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLogsAPIRequestsOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(CorrelationID())
	app.Use(Observability(logger))
	app.Get("/api/v1/usages/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/metrics", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	_, err := app.Test(req)
	require.NoError(t, err)
	require.Zero(t, buf.Len())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/usages/3", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Contains(t, buf.String(), `"route":"/api/v1/usages/:id"`)
	require.Contains(t, buf.String(), `"correlation_id":"corr-1"`)
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "<=25ms", latencyBucket(10*time.Millisecond))
	require.Equal(t, "<=250ms", latencyBucket(200*time.Millisecond))
	require.Equal(t, ">500ms", latencyBucket(time.Second))
}
