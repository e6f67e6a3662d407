package config

import (
	"os"
	"strconv"
	"time"

	"abstats/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig `validate:"required"`
	Cache    CacheConfig
	Server   ServerConfig `validate:"required"`
	Ops      OpsConfig
	Log      LogConfig    `validate:"required"`
	Engine   EngineConfig `validate:"required"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string `validate:"required"`
	MaxOpenConns    int    `validate:"gte=1"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}

// CacheConfig holds the experiment-config cache settings. An empty URL
// disables the cache.
type CacheConfig struct {
	RedisURL string
	TTL      time.Duration `validate:"gte=0"`
}

// ServerConfig holds the public API server settings
type ServerConfig struct {
	Port    string `validate:"required,numeric"`
	GinMode string `validate:"oneof=debug release test"`
}

// OpsConfig holds the health, metrics and pprof server settings
type OpsConfig struct {
	Port    string `validate:"omitempty,numeric"`
	Enabled bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `validate:"oneof=ERROR WARN INFO DEBUG TRACE"`
	Format string `validate:"oneof=json text"`
}

// EngineConfig holds the statistical engine settings. It is passed
// explicitly into every service constructor.
type EngineConfig struct {
	MonteCarloDraws       int    `validate:"gte=100,lte=1000000"`
	BanditAllocationDraws int    `validate:"gte=100,lte=1000000"`
	RNGSeed               uint64 // 0 draws a fresh seed per stream
}

// DefaultEngineConfig returns the engine defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MonteCarloDraws:       10000,
		BanditAllocationDraws: 1000,
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{}

	// Load database configuration
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}
	config.Database = *dbConfig

	config.Cache = *loadCacheConfig()
	config.Server = *loadServerConfig()
	config.Ops = *loadOpsConfig()
	config.Log = *loadLogConfig()
	config.Engine = *loadEngineConfig()

	// Validate struct tags
	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	return &DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}, nil
}

func loadCacheConfig() *CacheConfig {
	return &CacheConfig{
		RedisURL: getEnvOrDefault("REDIS_URL", ""),
		TTL:      getEnvDurationOrDefault("CACHE_TTL", 30*time.Second),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func loadOpsConfig() *OpsConfig {
	return &OpsConfig{
		Port:    getEnvOrDefault("OPS_PORT", "9090"),
		Enabled: getEnvBoolOrDefault("OPS_ENABLED", true),
	}
}

func loadLogConfig() *LogConfig {
	return &LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

func loadEngineConfig() *EngineConfig {
	defaults := DefaultEngineConfig()
	return &EngineConfig{
		MonteCarloDraws:       getEnvIntOrDefault("MONTE_CARLO_DRAWS", defaults.MonteCarloDraws),
		BanditAllocationDraws: getEnvIntOrDefault("BANDIT_ALLOCATION_DRAWS", defaults.BanditAllocationDraws),
		RNGSeed:               getEnvUint64OrDefault("RNG_SEED", 0),
	}
}

func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if config.Ops.Enabled && config.Ops.Port == config.Server.Port {
		return errors.ConfigInvalid("OPS_PORT must differ from PORT")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64OrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
