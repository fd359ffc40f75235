package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-question-engine/internal/behaviour"
	"github.com/noah-isme/gema-question-engine/internal/config"
	"github.com/noah-isme/gema-question-engine/internal/database"
	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/handler"
	"github.com/noah-isme/gema-question-engine/internal/middleware"
	"github.com/noah-isme/gema-question-engine/internal/question"
	"github.com/noah-isme/gema-question-engine/internal/repository"
	"github.com/noah-isme/gema-question-engine/internal/router"
	"github.com/noah-isme/gema-question-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not set, usage cache and redis events disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer func() {
			if err := natsConn.Drain(); err != nil {
				logger.Warn().Err(err).Msg("nats drain failed")
			}
		}()
	}

	behaviours := engine.DefaultBehaviours()
	behaviour.Register(behaviours)
	questionTypes := question.NewRegistry()

	validate := validator.New(validator.WithRequiredStructEnabled())

	questionRepo := repository.NewQuestionRepository(db)
	attemptStore := repository.NewAttemptStore(db)

	questionBank := service.NewQuestionBankService(questionRepo, questionTypes, validate, logger)
	usageService := service.NewUsageService(service.UsageServiceConfig{
		Store:              attemptStore,
		Questions:          questionBank,
		Behaviours:         behaviours,
		Cache:              service.NewUsageCache(redisClient, cfg.UsageCacheTTL, logger),
		Events:             service.NewAttemptEventPublisher(redisClient, cfg.EventsChannel, natsConn, cfg.EventsSubject, logger),
		Validator:          validate,
		PreferredBehaviour: cfg.PreferredBehaviour,
	}, logger)

	questionHandler := handler.NewQuestionHandler(questionBank, logger)
	usageHandler := handler.NewUsageHandler(usageService, middleware.RateLimit("actions", cfg.ActionRateLimit, cfg.ActionRateWindow), logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSOrigins,
		AccessLog:    !cfg.IsProduction(),
	})
	router.Register(app, cfg, router.Dependencies{
		QuestionHandler: questionHandler,
		UsageHandler:    usageHandler,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("addr", cfg.HTTPAddress()).Str("preferred_behaviour", cfg.PreferredBehaviour).Msg("question engine started")
	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
