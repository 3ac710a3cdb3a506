/*
Package config loads server settings from the environment and an optional
.env file in the working directory.

KEYS (defaults):
  APP_ENV                   prod        dev enables debug logs and /api/scenarios
  HTTP_ADDR                 :8080
  DB_DRIVER                 sqlite3     sqlite3 | pgx
  DB_DSN                    membership.db
  METRICS_ENABLED           true        expose /metrics
  FREEZE_DAYS_POLICY        active      active | active_completed
  EXPIRE_PACKAGES_SCHEDULE  5 0 * * *   cron spec, empty disables
  FREEZE_SWEEP_SCHEDULE     10 0 * * *  cron spec, empty disables
  RABBITMQ_URL              (empty)     empty logs events instead
  EVENTS_EXCHANGE           membership_events
  CORS_ALLOWED_ORIGINS      *           comma separated
  VERTICALS_FILE            (empty)     JSON overrides for vertical config
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/volan/membership-engine/core"
)

type Config struct {
	Env                    string `mapstructure:"APP_ENV"`
	HTTPAddr               string `mapstructure:"HTTP_ADDR"`
	DBDriver               string `mapstructure:"DB_DRIVER"`
	DBDSN                  string `mapstructure:"DB_DSN"`
	MetricsEnabled         bool   `mapstructure:"METRICS_ENABLED"`
	FreezeDaysPolicy       string `mapstructure:"FREEZE_DAYS_POLICY"`
	ExpirePackagesSchedule string `mapstructure:"EXPIRE_PACKAGES_SCHEDULE"`
	FreezeSweepSchedule    string `mapstructure:"FREEZE_SWEEP_SCHEDULE"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	EventsExchange         string `mapstructure:"EVENTS_EXCHANGE"`
	CORSAllowedOrigins     string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	VerticalsFile          string `mapstructure:"VERTICALS_FILE"`
}

var defaults = map[string]any{
	"APP_ENV":                  "prod",
	"HTTP_ADDR":                ":8080",
	"DB_DRIVER":                "sqlite3",
	"DB_DSN":                   "membership.db",
	"METRICS_ENABLED":          true,
	"FREEZE_DAYS_POLICY":       string(core.FreezeDaysActiveOnly),
	"EXPIRE_PACKAGES_SCHEDULE": "5 0 * * *",
	"FREEZE_SWEEP_SCHEDULE":    "10 0 * * *",
	"RABBITMQ_URL":             "",
	"EVENTS_EXCHANGE":          "membership_events",
	"CORS_ALLOWED_ORIGINS":     "*",
	"VERTICALS_FILE":           "",
}

// Load reads the environment, then the optional .env file in dir. Environment
// variables win over the file.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		// bound explicitly so Unmarshal sees env-only keys
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read .env: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or pgx, got %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return errors.New("DB_DSN is required")
	}
	if !c.Policy().Valid() {
		return fmt.Errorf("FREEZE_DAYS_POLICY must be active or active_completed, got %q", c.FreezeDaysPolicy)
	}
	return nil
}

func (c Config) Policy() core.FreezeDaysPolicy { return core.FreezeDaysPolicy(c.FreezeDaysPolicy) }

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// NewLogger returns a JSON logger on stdout; debug level in dev.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
