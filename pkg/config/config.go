package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ha1tch/olu-graph/pkg/models"
)

const Version = "0.1.0"

// Config holds application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Storage configuration
	StorageType string // "sqlite" or "memory"
	DBPath      string // SQLite database path

	// Cache configuration
	CacheType string // "memory" or "redis"
	CacheTTL  int    // seconds
	RedisHost string
	RedisPort int
	CacheSize int

	// Graph layout
	NamespacesFile        string
	EntitiesNamespace     string
	ApplicationsNamespace string

	// Credentials
	SystemAPIKey string
	GrantSecret  string

	// Limits
	MaxListEntities int
	MaxImportSize   int64 // bytes
	ListConcurrency int

	// Logging
	Debug   bool
	LogJSON bool
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  9090,
		StorageType:           "sqlite",
		DBPath:                "olug.db",
		CacheType:             "memory",
		CacheTTL:              300,
		CacheSize:             1024,
		RedisHost:             "localhost",
		RedisPort:             6379,
		EntitiesNamespace:     models.DefaultEntitiesNamespace,
		ApplicationsNamespace: models.DefaultApplicationsNamespace,
		MaxListEntities:       100,
		MaxImportSize:         64 << 20, // 64MB
		ListConcurrency:       8,
		Debug:                 false,
		LogJSON:               false,
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	loadFrom(cfg, os.Getenv)
}

func loadFrom(cfg *Config, getenv func(string) string) {
	if val := getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := getenv("STORAGE_TYPE"); val != "" {
		cfg.StorageType = val
	}
	if val := getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = val
	}
	if val := getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.CacheSize = size
		}
	}
	if val := getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := getenv("NAMESPACES_FILE"); val != "" {
		cfg.NamespacesFile = val
	}
	if val := getenv("ENTITIES_NAMESPACE"); val != "" {
		cfg.EntitiesNamespace = val
	}
	if val := getenv("APPLICATIONS_NAMESPACE"); val != "" {
		cfg.ApplicationsNamespace = val
	}
	if val := getenv("SYSTEM_API_KEY"); val != "" {
		cfg.SystemAPIKey = val
	}
	if val := getenv("GRANT_SECRET"); val != "" {
		cfg.GrantSecret = val
	}
	if val := getenv("MAX_LIST_ENTITIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxListEntities = n
		}
	}
	if val := getenv("MAX_IMPORT_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.MaxImportSize = n
		}
	}
	if val := getenv("LIST_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.ListConcurrency = n
		}
	}
	if val := getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
	if val := getenv("LOG_JSON"); val != "" {
		cfg.LogJSON = parseBool(val)
	}
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.StorageType {
	case "sqlite", "memory":
	default:
		return errors.Newf("unsupported STORAGE_TYPE %q", c.StorageType)
	}
	switch c.CacheType {
	case "memory", "redis":
	default:
		return errors.Newf("unsupported CACHE_TYPE %q", c.CacheType)
	}
	if c.EntitiesNamespace == c.ApplicationsNamespace {
		return errors.New("entities and applications must live under different namespaces")
	}
	if c.MaxListEntities <= 0 || c.ListConcurrency <= 0 || c.MaxImportSize <= 0 {
		return errors.New("limits must be positive")
	}
	return nil
}

// CacheDuration returns CacheTTL as a duration
func (c *Config) CacheDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}
