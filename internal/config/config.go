package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration for chatrelay,
// assembled from .env (via LoadEnv) plus process environment variables.
type Config struct {
	Upstream     UpstreamConfig
	MCP          MCPConfig
	Orchestrator OrchestratorConfig
	Secret       SecretConfig
	Database     DatabaseConfig
	Web          WebConfig
}

// DatabaseConfig locates the Postgres/CockroachDB backing store. DSN wins
// when set; otherwise the discrete fields are assembled by the adapter.
type DatabaseConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// WebConfig is the inbound HTTP listen address.
type WebConfig struct {
	Host string
	Port string
}

// Addr returns host:port.
func (w WebConfig) Addr() string { return w.Host + ":" + w.Port }

// UpstreamConfig describes the OpenAI-compatible Responses API endpoint.
type UpstreamConfig struct {
	BaseURL      string // includes the /v1 suffix
	DefaultModel string
	APIKey       string
}

// MCPConfig governs the MCP Session Registry and its transports.
type MCPConfig struct {
	InitializationTimeout time.Duration
	OperationTimeout      time.Duration
	IdleTimeout           time.Duration
	CacheTTL              time.Duration
}

// OrchestratorConfig governs the Streaming Orchestrator's tool-call and
// retry behavior.
type OrchestratorConfig struct {
	ToolExecutionTimeout time.Duration
	MaxRetries           int
	RetryBackoffBase     time.Duration
}

// SecretConfig carries the AES-GCM key used by internal/secret.
type SecretConfig struct {
	EncryptionKey string // exactly 32 bytes, used as-is (no base64 or hex decoding)
}

// Load resolves Config from the process environment. Call LoadEnv first to
// populate that environment from a .env file if one is present.
func Load() (*Config, error) {
	cfg := &Config{
		Upstream: UpstreamConfig{
			BaseURL:      getEnvOrDefault("UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
			DefaultModel: getEnvOrDefault("UPSTREAM_DEFAULT_MODEL", "gpt-4o"),
			APIKey:       os.Getenv("UPSTREAM_API_KEY"),
		},
		MCP: MCPConfig{
			InitializationTimeout: getEnvDurationOrDefault("MCP_INITIALIZATION_TIMEOUT", 10*time.Second),
			OperationTimeout:      getEnvDurationOrDefault("MCP_OPERATION_TIMEOUT", 15*time.Second),
			IdleTimeout:           getEnvDurationOrDefault("MCP_IDLE_TIMEOUT", 30*time.Minute),
			CacheTTL:              getEnvDurationOrDefault("MCP_CACHE_TTL", 5*time.Minute),
		},
		Orchestrator: OrchestratorConfig{
			ToolExecutionTimeout: getEnvDurationOrDefault("ORCHESTRATOR_TOOL_EXECUTION_TIMEOUT", 30*time.Second),
			MaxRetries:           getEnvIntOrDefault("ORCHESTRATOR_MAX_RETRIES", 3),
			RetryBackoffBase:     getEnvDurationOrDefault("ORCHESTRATOR_RETRY_BACKOFF_BASE", 10*time.Millisecond),
		},
		Secret: SecretConfig{
			EncryptionKey: os.Getenv("SECRET_ENCRYPTION_KEY"),
		},
		Database: DatabaseConfig{
			DSN:      os.Getenv("DATABASE_URL"),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "chatrelay"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnvOrDefault("DB_NAME", "chatrelay"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Web: WebConfig{
			// Localhost by default to avoid unintentional LAN exposure;
			// override WEB_HOST for container deployments.
			Host: getEnvOrDefault("WEB_HOST", "127.0.0.1"),
			Port: getEnvOrDefault("WEB_PORT", "8080"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields this process cannot run without.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("config: UPSTREAM_API_KEY is required")
	}
	if len(c.Secret.EncryptionKey) != 32 {
		return fmt.Errorf("config: SECRET_ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.Secret.EncryptionKey))
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
