package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration object, loaded once at startup and
// injected everywhere. Outside this package, cmd reads LOG_LEVEL,
// MCP_API_KEY and APP_VERSION itself, and the embedding providers fall back
// to their SDKs' own API-key variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backends  BackendsConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	Memory    MemoryConfig
	Retrieval RetrievalConfig
	IAM       IAMConfig
	Vault     VaultConfig
	Jobx      JobxConfig
	Notifx    NotifxConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	BodyLimit      int
	ShutdownGrace  time.Duration
}

// DatabaseConfig configures the relational backend connection.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis connection used for the networked cache
// and the background job queue.
type RedisConfig struct {
	URL string
}

// BackendsConfig selects the pluggable storage implementations.
type BackendsConfig struct {
	Persistent   string // "embedded" | "networked"
	Cache        string // "memory" | "networked"
	SnapshotPath string // embedded backend snapshot location
	SnapshotFS   string // "local" | "s3"
	S3Bucket     string
}

// VectorConfig configures the vector index adapter.
type VectorConfig struct {
	Backend string // "embedded" | "networked"
	URL     string
	Dim     int
	Metric  string
}

func Load() *Config {
	return &Config{
		Server:    loadServerConfig(),
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		Backends:  loadBackendsConfig(),
		Vector:    loadVectorConfig(),
		Embedding: loadEmbeddingConfig(),
		Memory:    loadMemoryConfig(),
		Retrieval: loadRetrievalConfig(),
		IAM:       loadIAMConfig(),
		Vault:     loadVaultConfig(),
		Jobx:      loadJobxConfig(),
		Notifx:    loadNotifxConfig(),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		BodyLimit:      getEnvInt("BODY_LIMIT_BYTES", 4*1024*1024),
		ShutdownGrace:  getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", "postgres://localhost:5432/aimemory?sslmode=disable"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
	}
}

func loadBackendsConfig() BackendsConfig {
	return BackendsConfig{
		Persistent:   getEnv("PERSISTENT_BACKEND", "networked"),
		Cache:        getEnv("CACHE_BACKEND", "networked"),
		SnapshotPath: getEnv("SNAPSHOT_PATH", "./data"),
		SnapshotFS:   getEnv("SNAPSHOT_FS", "local"),
		S3Bucket:     getEnv("SNAPSHOT_S3_BUCKET", ""),
	}
}

func loadVectorConfig() VectorConfig {
	return VectorConfig{
		Backend: getEnv("VECTOR_BACKEND", "networked"),
		URL:     getEnv("VECTOR_URL", ""),
		Dim:     getEnvInt("VECTOR_DIM", 1536),
		Metric:  getEnv("VECTOR_METRIC", "cosine"),
	}
}

// ============================================================================
// Environment helpers
// ============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
