package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config stores all configuration of the service.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	Port           string   `mapstructure:"PORT"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	LogPretty      bool     `mapstructure:"LOG_PRETTY"`
	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`

	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBPath      string `mapstructure:"DB_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	SeedPath    string `mapstructure:"SEED_PATH"`

	RoutesAPIKey      string        `mapstructure:"GOOGLE_ROUTES_API_KEY"`
	RoutesBaseURL     string        `mapstructure:"GOOGLE_ROUTES_BASE_URL"`
	RoutesTimeout     time.Duration `mapstructure:"ROUTES_TIMEOUT"`
	RoutesMaxAttempts int           `mapstructure:"ROUTES_MAX_ATTEMPTS"`
	RoutesBaseDelay   time.Duration `mapstructure:"ROUTES_BASE_DELAY"`
	RoutesRPS         float64       `mapstructure:"ROUTES_RPS"`

	BatchConcurrency int           `mapstructure:"BATCH_CONCURRENCY"`
	BatchChunkDelay  time.Duration `mapstructure:"BATCH_CHUNK_DELAY"`

	RedisURL      string        `mapstructure:"REDIS_URL"`
	RouteCacheTTL time.Duration `mapstructure:"ROUTE_CACHE_TTL"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"LOG_LEVEL":              "info",
	"LOG_PRETTY":             false,
	"ALLOWED_ORIGINS":        "http://localhost:5173",
	"DB_DRIVER":              "sqlite",
	"DB_PATH":                "data/app.db",
	"DATABASE_URL":           "",
	"SEED_PATH":              "data/seeds/fleet.yaml",
	"GOOGLE_ROUTES_API_KEY":  "",
	"GOOGLE_ROUTES_BASE_URL": "https://routes.googleapis.com",
	"ROUTES_TIMEOUT":         "30s",
	"ROUTES_MAX_ATTEMPTS":    3,
	"ROUTES_BASE_DELAY":      "1s",
	"ROUTES_RPS":             10.0,
	"BATCH_CONCURRENCY":      5,
	"BATCH_CHUNK_DELAY":      "200ms",
	"REDIS_URL":              "",
	"ROUTE_CACHE_TTL":        "6h",
	"AMQP_URL":               "",
	"AMQP_EXCHANGE":          "route_topic",
}

// Load reads .env (if present) and the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found (using environment variables)")
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.RoutesMaxAttempts < 1 {
		return fmt.Errorf("ROUTES_MAX_ATTEMPTS must be at least 1")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

// Env values arrive as one comma separated string.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
