package observability

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineCountersAreRegisteredOnce(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(EngineActions().WithLabelValues("deferredfeedback", "keep"))
	EngineActions().WithLabelValues("deferredfeedback", "keep").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(EngineActions().WithLabelValues("deferredfeedback", "keep")))
}

func TestMetricsHandlerServesScrape(t *testing.T) {
	EngineRegrades().WithLabelValues("slot").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "question_engine_regrades_total")
}
