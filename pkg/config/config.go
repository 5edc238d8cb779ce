package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Calendar credential modes.
const (
	CredentialModeOAuth          = "oauth"
	CredentialModeServiceAccount = "service_account"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv              string
	LogLevel            string
	HTTPAddr            string
	FrontendRedirectURL string
	EncryptionKey       string

	// Storage
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	MongoURI       string
	MongoDBName    string

	// Brokers
	RedisURL    string
	RabbitMQURL string

	// OAuth
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       string
	OAuthRevokeURL    string
	OAuthStateTTL     time.Duration

	// Calendar
	CalendarCredentialMode   string
	GoogleServiceAccountFile string
	CalendarID               string
	CalendarAPIURL           string
	CalendarLookAheadDays    int
	CalendarHTTPTimeout      time.Duration
	ProviderPoolSize         int

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Worker
	WorkerHealthAddr string

	// MCP
	MCPAddr      string
	MCPAuthToken string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", ""),
		HTTPAddr:            getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		FrontendRedirectURL: getEnv("FRONTEND_REDIRECT_URL", "http://localhost:3000/"),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", ""),
		MongoURI:    getEnv("MONGO_URI", ""),
		MongoDBName: getEnv("MONGO_DB_NAME", ""),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthRedirectURL:  getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		OAuthScopes:       getEnv("OAUTH_SCOPES", "https://www.googleapis.com/auth/calendar.readonly"),
		OAuthRevokeURL:    getEnv("OAUTH_REVOKE_URL", "https://oauth2.googleapis.com/revoke"),
		OAuthStateTTL:     getDurationEnv("OAUTH_STATE_TTL", 10*time.Minute),

		CalendarCredentialMode:   getEnv("CALENDAR_CREDENTIAL_MODE", CredentialModeOAuth),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		CalendarID:               getEnv("CALENDAR_ID", "primary"),
		CalendarAPIURL:           getEnv("CALENDAR_API_URL", ""),
		CalendarLookAheadDays:    getIntEnv("CALENDAR_LOOKAHEAD_DAYS", 30),
		CalendarHTTPTimeout:      getDurationEnv("CALENDAR_HTTP_TIMEOUT", 30*time.Second),
		ProviderPoolSize:         getIntEnv("PROVIDER_POOL_SIZE", 4),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 14),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),

		MCPAddr:      getEnv("MCP_ADDR", "0.0.0.0:8082"),
		MCPAuthToken: getEnv("MCP_AUTH_TOKEN", ""),
	}
	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.defaultDriver())

	return cfg, nil
}

// defaultDriver picks postgres when DATABASE_URL is set, mongo when only
// MONGO_URI is set, and sqlite otherwise.
func (c *Config) defaultDriver() string {
	switch {
	case c.DatabaseURL != "" && strings.HasPrefix(c.DatabaseURL, "mongodb"):
		return "mongo"
	case c.DatabaseURL != "":
		return "postgres"
	case c.MongoURI != "":
		return "mongo"
	default:
		return "sqlite"
	}
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case "mongo":
		if c.MongoURI == "" && !strings.HasPrefix(c.DatabaseURL, "mongodb") {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver))
	}

	switch c.CalendarCredentialMode {
	case CredentialModeOAuth:
		if c.OAuthClientID != "" && c.EncryptionKey == "" {
			errs = append(errs, errors.New("ENCRYPTION_KEY is required to store OAuth credentials"))
		}
	case CredentialModeServiceAccount:
		if c.GoogleServiceAccountFile == "" {
			errs = append(errs, errors.New("GOOGLE_SERVICE_ACCOUNT_FILE is required in service_account mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CALENDAR_CREDENTIAL_MODE %q", c.CalendarCredentialMode))
	}

	if c.CalendarLookAheadDays <= 0 {
		errs = append(errs, errors.New("CALENDAR_LOOKAHEAD_DAYS must be positive"))
	}
	if c.ProviderPoolSize <= 0 {
		errs = append(errs, errors.New("PROVIDER_POOL_SIZE must be positive"))
	}
	if c.OAuthStateTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_STATE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// OAuthEnabled reports whether the user OAuth flow is configured.
func (c *Config) OAuthEnabled() bool {
	return c.CalendarCredentialMode == CredentialModeOAuth && c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// MongoConnectionURI returns MONGO_URI, or DATABASE_URL when it names a Mongo server.
func (c *Config) MongoConnectionURI() string {
	if c.MongoURI != "" {
		return c.MongoURI
	}
	if strings.HasPrefix(c.DatabaseURL, "mongodb") {
		return c.DatabaseURL
	}
	return ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
