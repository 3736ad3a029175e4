/*
config.go - Environment configuration

PURPOSE:
  Collects server, database, logging, scheduler and billing settings from
  the environment. A .env file in the working directory is loaded first if
  present; variables already set in the environment win over it.
  Command-line flags in cmd/server override whatever Load returns.

KEYS:
  SERVER_PORT            HTTP port (default 8080)
  SERVER_SHUTDOWN_TIMEOUT Graceful shutdown budget (default 30s)
  DATABASE_PATH          SQLite path, ":memory:" allowed (default retro_billing.db)
  LOG_LEVEL              debug|info|warn|error (default info)
  LOG_FORMAT             json|console (default json)
  SCHEDULER_ENABLED      Run the periodic workflow (default false)
  SCHEDULER_INTERVAL     Tick interval (default 1h)
  SCHEDULER_PERSIST      Persist periods or only forecast them (default false)
  CORS_ALLOWED_ORIGINS   Comma separated (default *)
  RETROACTIVE_ANCHOR     contract_start|current_month (default contract_start)

SEE ALSO:
  - cmd/server/main.go: Flag overrides
  - logging/logging.go: Consumes LogLevel and LogFormat
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/retro-billing/billing"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Billing   BillingConfig
}

type ServerConfig struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

type DatabaseConfig struct {
	Path string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig controls the periodic retroactive billing run.
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	Persist  bool
}

type BillingConfig struct {
	Anchor billing.Anchor
}

// Load reads the environment. Malformed values are reported, not defaulted.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	cfg := &Config{
		Server: ServerConfig{
			Port:               getIntOrDefault("SERVER_PORT", 8080, &errs),
			ReadTimeout:        getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second, &errs),
			WriteTimeout:       getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second, &errs),
			IdleTimeout:        getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second, &errs),
			ShutdownTimeout:    getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second, &errs),
			CORSAllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("DATABASE_PATH", "retro_billing.db"),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getBoolOrDefault("SCHEDULER_ENABLED", false, &errs),
			Interval: getDurationOrDefault("SCHEDULER_INTERVAL", time.Hour, &errs),
			Persist:  getBoolOrDefault("SCHEDULER_PERSIST", false, &errs),
		},
	}

	anchor, err := billing.ParseAnchor(os.Getenv("RETROACTIVE_ANCHOR"))
	if err != nil {
		errs = append(errs, "RETROACTIVE_ANCHOR: "+err.Error())
	}
	cfg.Billing.Anchor = anchor

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Call it again after flag overrides.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid configuration: port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("invalid configuration: database path is empty")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("invalid configuration: scheduler interval must be positive")
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getEnvOrDefault(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getIntOrDefault(key string, defaultVal int, errs *[]string) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, val))
		return defaultVal
	}
	return i
}

func getBoolOrDefault(key string, defaultVal bool, errs *[]string) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a boolean", key, val))
		return defaultVal
	}
	return b
}

func getDurationOrDefault(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, val))
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
