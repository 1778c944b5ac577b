// Package config provides configuration parsing and management for the forecaster.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. The Config struct contains all runtime
// configuration for the forecaster including:
//   - Listeners (HTTP, optional gRPC) and TLS
//   - Logging configuration (level, format)
//   - Model storage backend (memory, file, redis)
//   - Upstream source (sepush API or snapshot file) and the areas to train on
//   - Training parameters (classifier, forest size, holdout fraction, seed)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	src, err := adapters.New(cfg.Source, cfg.SourceConfig(), logger)
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/shedcast/pkg/adapters"
	"github.com/HatiCode/shedcast/pkg/models"
	"github.com/HatiCode/shedcast/pkg/storage"
	"github.com/HatiCode/shedcast/pkg/tls"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	Storage       string
	ModelDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	CacheModels   bool
	CacheMaxAge   time.Duration

	Source        string
	SourceURL     string
	SourceToken   string
	SourceFile    string
	SourceTimeout time.Duration
	Areas         []string
	TrainAreas    bool

	Interval       time.Duration
	Model          string
	ForestTrees    int
	ForestMaxDepth int
	TestFraction   float64
	Seed           uint64
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
// Invalid configurations are reported on stderr and exit the process.
func ParseFlags() *Config {
	cfg := &Config{}
	var areas string

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC listen address (empty disables gRPC)")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for the HTTP and gRPC listeners")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Model storage backend: memory, file, or redis")
	flag.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", "models"), "Directory for the file storage backend")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Redis model TTL (0 keeps models until replaced)")
	flag.BoolVar(&cfg.CacheModels, "cache-models", getEnvBool("CACHE_MODELS", true), "Cache decoded models in memory for file and redis storage")
	flag.DurationVar(&cfg.CacheMaxAge, "cache-max-age", getEnvDuration("CACHE_MAX_AGE", storage.DefaultCacheMaxAge), "How long a cached model is served before it is re-read from storage")

	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", "file"), "Schedule source: sepush or file")
	flag.StringVar(&cfg.SourceURL, "source-url", getEnv("SOURCE_URL", adapters.DefaultSePushURL), "EskomSePush API root")
	flag.StringVar(&cfg.SourceToken, "source-token", getEnv("SOURCE_TOKEN", ""), "EskomSePush API token")
	flag.StringVar(&cfg.SourceFile, "source-file", getEnv("SOURCE_FILE", "data/loadshedding_data.json"), "Snapshot file for the file source")
	flag.DurationVar(&cfg.SourceTimeout, "source-timeout", getEnvDuration("SOURCE_TIMEOUT", 10*time.Second), "Upstream request timeout")
	flag.StringVar(&areas, "areas", getEnv("AREAS", ""), "Comma-separated area ids to fetch (sepush)")
	flag.BoolVar(&cfg.TrainAreas, "train-areas", getEnvBool("TRAIN_AREAS", false), "Also train one model per area on each tick")

	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", time.Hour), "Training interval")
	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", models.KindForest), "Classifier: forest or frequency")
	flag.IntVar(&cfg.ForestTrees, "forest-trees", getEnvInt("FOREST_TREES", 100), "Number of trees in the forest")
	flag.IntVar(&cfg.ForestMaxDepth, "forest-max-depth", getEnvInt("FOREST_MAX_DEPTH", 12), "Maximum tree depth")
	flag.Float64Var(&cfg.TestFraction, "test-fraction", getEnvFloat("TEST_FRACTION", 0.2), "Share of samples held out for evaluation")
	flag.Uint64Var(&cfg.Seed, "seed", getEnvUint64("SEED", 0), "Random seed for training (0 picks one per run)")

	flag.Parse()

	cfg.Areas = adapters.SplitAreaIDs(areas)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}

	switch c.Storage {
	case "memory":
	case "file":
		if c.ModelDir == "" {
			return errors.New("model-dir is required when storage=file")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis-addr is required when storage=redis")
		}
		if c.RedisDB < 0 {
			return errors.New("redis-db must be >= 0")
		}
		if c.RedisTTL < 0 {
			return errors.New("redis-ttl cannot be negative")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory, file, or redis)", c.Storage)
	}

	if c.CacheMaxAge < 0 {
		return errors.New("cache-max-age cannot be negative")
	}

	switch c.Source {
	case "sepush":
		if c.SourceToken == "" {
			return errors.New("source-token is required when source=sepush")
		}
		if len(c.Areas) == 0 {
			return errors.New("areas is required when source=sepush")
		}
	case "file":
		if c.SourceFile == "" {
			return errors.New("source-file is required when source=file")
		}
	default:
		return fmt.Errorf("invalid source %q (must be sepush or file)", c.Source)
	}

	for _, id := range c.Areas {
		if err := storage.ValidateScope(id); err != nil {
			return fmt.Errorf("area %q: %w", id, err)
		}
	}

	if c.Interval <= 0 {
		return errors.New("interval must be > 0")
	}

	if c.Model != models.KindForest && c.Model != models.KindFrequency {
		return fmt.Errorf("invalid model %q (must be forest or frequency)", c.Model)
	}
	if c.ForestTrees <= 0 {
		return errors.New("forest-trees must be > 0")
	}
	if c.ForestMaxDepth <= 0 {
		return errors.New("forest-max-depth must be > 0")
	}
	if c.TestFraction < 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test-fraction %v must be in [0, 1)", c.TestFraction)
	}

	return c.TLS.Validate()
}

// SourceConfig returns the generic adapter configuration for adapters.New.
func (c *Config) SourceConfig() map[string]string {
	switch c.Source {
	case "sepush":
		return map[string]string{
			"url":   c.SourceURL,
			"token": c.SourceToken,
			"areas": strings.Join(c.Areas, ","),
		}
	default:
		return map[string]string{"path": c.SourceFile}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
