package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Env         string
	LogLevel    string
	DatabaseDSN string
	// RulesDBPath is the sqlite fallback when DATABASE_DSN is empty.
	RulesDBPath string
	OverrideCSV string

	// ImpactThreshold triggers the "consider formal amendment" recommendation.
	ImpactThreshold decimal.Decimal
	BatchWorkers    int
	OutputDir       string

	GeminiAPIKey      string
	GeminiModel       string
	ClassifierTimeout time.Duration
}

// Load loads configuration from environment with sensible defaults.
// Precedence: explicit env var > .env file (if loaded by caller) > default.
func Load() Config {
	cfg := Config{}
	cfg.Env = getEnv("APP_ENV", "development")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.RulesDBPath = getEnv("RULES_DB_PATH", "rules.db")
	cfg.OverrideCSV = getEnv("OVERRIDE_CSV_PATH", "base_validacao.csv")
	cfg.ImpactThreshold = parseDecimal("IMPACT_THRESHOLD", decimal.NewFromInt(1000))
	cfg.BatchWorkers = ParseInt("BATCH_WORKERS", 1)
	cfg.OutputDir = getEnv("OUTPUT_DIR", "reports")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnv("GEMINI_MODEL", "gemini-2.5-flash")
	cfg.ClassifierTimeout = parseDuration("CLASSIFIER_TIMEOUT", 30*time.Second)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseInt reads an env var as int with default.
func ParseInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid integer for %s: %s", key, v)
			return def
		}
		return n
	}
	return def
}

// ParseBool reads an env var as bool with default.
func ParseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid boolean for %s: %s", key, v)
			return def
		}
		return b
	}
	return def
}

func parseDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			log.Printf("invalid decimal for %s: %s", key, v)
			return def
		}
		return d
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid duration for %s: %s", key, v)
			return def
		}
		return d
	}
	return def
}
