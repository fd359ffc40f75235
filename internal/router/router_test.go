package router_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-question-engine/internal/config"
	"github.com/noah-isme/gema-question-engine/internal/handler"
	"github.com/noah-isme/gema-question-engine/internal/middleware"
	"github.com/noah-isme/gema-question-engine/internal/router"
)

func TestRegisterMountsHealthAndMetrics(t *testing.T) {
	app := fiber.New()
	cfg := config.Config{AppName: "engine-test", AppEnv: "test", PreferredBehaviour: "deferredfeedback"}
	router.Register(app, cfg, router.Dependencies{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "engine-test", resp.Header.Get("X-Application"))

	var body struct {
		Data handler.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Data.Status)
	require.Equal(t, "deferredfeedback", body.Data.Behaviour)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegisterProtectsUsageRoutes(t *testing.T) {
	app := fiber.New()
	logger := zerolog.New(io.Discard)
	router.Register(app, config.Config{AppName: "engine-test"}, router.Dependencies{
		QuestionHandler: handler.NewQuestionHandler(nil, logger),
		UsageHandler:    handler.NewUsageHandler(nil, nil, logger),
		JWTMiddleware:   middleware.JWTProtected("secret"),
	})

	for _, target := range []string{"/api/v1/usages/1", "/api/v1/questions/1"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, target)
	}
}
