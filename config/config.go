// Package config provides environment-driven configuration for the
// benchmark CLI.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/HideakiImamura/kurobako/logger"
)

// Config holds the defaults a run starts from. Command-line flags override
// these values.
type Config struct {
	// Debug enables debug logging.
	Debug bool

	// Budget is the default number of complete evaluations per study.
	Budget uint64

	// Concurrency is the default concurrency recorded for studies that do
	// not set one. The run command executes studies one after another.
	Concurrency int

	// Seed is the default base seed for studies that do not pin one.
	// Nil means derive a seed per study.
	Seed *uint64

	// Logger receives harness log output.
	Logger logger.Logger
}

// FromEnv loads configuration from environment variables with defaults.
//
// Supported environment variables:
//   - KUROBAKO_DEBUG: enable debug logging (default: false)
//   - KUROBAKO_BUDGET: default study budget in evaluations (default: 20)
//   - KUROBAKO_CONCURRENCY: default study concurrency (default: 1)
//   - KUROBAKO_SEED: base random seed (default: unset)
func FromEnv() *Config {
	cfg := &Config{
		Debug:       getEnvBool("KUROBAKO_DEBUG", false),
		Budget:      getEnvUint("KUROBAKO_BUDGET", 20),
		Concurrency: int(getEnvUint("KUROBAKO_CONCURRENCY", 1)),
	}
	if v, ok := lookupEnvUint("KUROBAKO_SEED"); ok {
		cfg.Seed = &v
	}
	cfg.Logger = logger.New(cfg.Debug)
	return cfg
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(strings.TrimSpace(value)) == "true"
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if v, ok := lookupEnvUint(key); ok {
		return v
	}
	return defaultValue
}

func lookupEnvUint(key string) (uint64, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
