package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the question engine service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	CORSOrigins        string
	JWTSecret          string
	UsageCacheTTL      time.Duration
	PreferredBehaviour string
	EventsSubject      string
	EventsChannel      string
	ActionRateLimit    int
	ActionRateWindow   time.Duration
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Question Engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("usage.cache_ttl", "10m")
	v.SetDefault("usage.preferred_behaviour", "deferredfeedback")
	v.SetDefault("events.subject", "question.attempts")
	v.SetDefault("events.channel", "question:attempts")
	v.SetDefault("actions.rate_limit", 30)
	v.SetDefault("actions.rate_window", "1m")

	ttl, err := parseDuration(v, "usage.cache_ttl", "10m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid usage cache ttl: %w", err)
	}

	window, err := parseDuration(v, "actions.rate_window", "1m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid action rate window: %w", err)
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		CORSOrigins:        v.GetString("cors.allow_origins"),
		JWTSecret:          v.GetString("jwt.secret"),
		UsageCacheTTL:      ttl,
		PreferredBehaviour: strings.ToLower(strings.TrimSpace(v.GetString("usage.preferred_behaviour"))),
		EventsSubject:      v.GetString("events.subject"),
		EventsChannel:      v.GetString("events.channel"),
		ActionRateLimit:    v.GetInt("actions.rate_limit"),
		ActionRateWindow:   window,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ActionRateLimit <= 0 {
		cfg.ActionRateLimit = 30
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key, fallback string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		raw = fallback
	}
	return time.ParseDuration(raw)
}
