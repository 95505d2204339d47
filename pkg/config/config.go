// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string

	AzureVisionEndpoint string
	AzureVisionKey      string
	EnhanceImages       bool

	RegistryCacheTTL time.Duration
	VerifyBatchSize  int
	VerifyBatchDelay time.Duration
	MinConfidence    float64
	TemplateMatching bool
	DotEnvWasMissing bool
}

// AzureEnabled reports whether the image recognition engine is configured.
func (c *Config) AzureEnabled() bool {
	return c.AzureVisionEndpoint != "" && c.AzureVisionKey != ""
}

// Load reads a .env file from the working directory when present, then the
// environment. Malformed values are an error; missing ones take defaults.
func Load() (*Config, error) {
	missing := false
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		missing = true
	}

	var errs []error
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		AzureVisionEndpoint: os.Getenv("AZURE_VISION_ENDPOINT"),
		AzureVisionKey:      os.Getenv("AZURE_VISION_KEY"),
		EnhanceImages:       getBool("ENHANCE_IMAGES", true, &errs),

		RegistryCacheTTL: getDuration("REGISTRY_CACHE_TTL", 24*time.Hour, &errs),
		VerifyBatchSize:  getInt("VERIFY_BATCH_SIZE", 10, &errs),
		VerifyBatchDelay: getDuration("VERIFY_BATCH_DELAY", 100*time.Millisecond, &errs),
		MinConfidence:    getFloat("MIN_CONFIDENCE", 0.6, &errs),
		TemplateMatching: getBool("TEMPLATE_MATCHING", true, &errs),
		DotEnvWasMissing: missing,
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("MIN_CONFIDENCE must be within [0,1], got %v", cfg.MinConfidence))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return b
}

func getInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return n
}

func getFloat(k string, def float64, errs *[]error) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return f
}

func getDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return d
}
