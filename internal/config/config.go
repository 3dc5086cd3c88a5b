// Package config loads and validates application configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageBbolt    = "bbolt"
	StoragePostgres = "postgres"
)

// Identity providers.
const (
	IdentityFirebase = "firebase"
	IdentityJWT      = "jwt"
)

// EnvProduction is the APP_ENV value that forbids development shortcuts.
const EnvProduction = "production"

// Config holds application configuration loaded from the environment.
type Config struct {
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	Env       string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// StorageBackend is one of memory, bbolt or postgres.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	BboltPath      string `mapstructure:"BBOLT_PATH"`
	// AutoMigrate applies pending Postgres migrations at startup.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`

	SessionTTLHours      int           `mapstructure:"SESSION_TTL_HOURS"`
	SessionMaxPerUser    int           `mapstructure:"SESSION_MAX_PER_USER"`
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`
	SessionRetention     time.Duration `mapstructure:"SESSION_RETENTION"`
	SessionMaxLifetime   time.Duration `mapstructure:"SESSION_MAX_LIFETIME"`
	SessionMaxExtendHrs  int           `mapstructure:"SESSION_MAX_EXTEND_HOURS"`
	SessionTouchInterval time.Duration `mapstructure:"SESSION_TOUCH_INTERVAL"`

	// IdentityProvider is firebase (production) or jwt (development).
	IdentityProvider        string `mapstructure:"IDENTITY_PROVIDER"`
	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseWebAPIKey       string `mapstructure:"FIREBASE_WEB_API_KEY"`
	FirebaseWebAuthDomain   string `mapstructure:"FIREBASE_WEB_AUTH_DOMAIN"`
	FirebaseWebBucket       string `mapstructure:"FIREBASE_WEB_STORAGE_BUCKET"`
	FirebaseWebSenderID     string `mapstructure:"FIREBASE_WEB_MESSAGING_SENDER_ID"`
	FirebaseWebAppID        string `mapstructure:"FIREBASE_WEB_APP_ID"`
	DevJWTSecret            string `mapstructure:"DEV_JWT_SECRET"`
	DevJWTIssuer            string `mapstructure:"DEV_JWT_ISSUER"`

	AdminAPIKey    string `mapstructure:"ADMIN_API_KEY"`
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	AuditWebhookURL        string `mapstructure:"AUDIT_WEBHOOK_URL"`
	AuditWebhookAuthHeader string `mapstructure:"AUDIT_WEBHOOK_AUTH_HEADER"`
}

// minJWTSecretLength mirrors identity.MinSecretLength without importing it.
const minJWTSecretLength = 32

// Load reads configuration with Read and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Read(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads the .env file named by ENV_FILE (default ".env") when present
// and builds Config from the environment without validating it. v may
// carry bound command-line flags; nil uses a fresh instance. Environment
// variables override the file.
func Read(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.AutomaticEnv()
	v.SetDefault("ENV_FILE", ".env")
	v.SetConfigFile(v.GetString("ENV_FILE"))
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !missingConfigFile(err) {
		return nil, fmt.Errorf("config: reading %s: %w", v.GetString("ENV_FILE"), err)
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))
	return &cfg, nil
}

func missingConfigFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STORAGE_BACKEND", StorageMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BBOLT_PATH", "./data/backend.db")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("SESSION_TTL_HOURS", 24)
	v.SetDefault("SESSION_MAX_PER_USER", 5)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1h")
	v.SetDefault("SESSION_RETENTION", "168h")
	v.SetDefault("SESSION_MAX_LIFETIME", "720h")
	v.SetDefault("SESSION_MAX_EXTEND_HOURS", 720)
	v.SetDefault("SESSION_TOUCH_INTERVAL", "5m")
	v.SetDefault("IDENTITY_PROVIDER", IdentityFirebase)
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("FIREBASE_WEB_API_KEY", "")
	v.SetDefault("FIREBASE_WEB_AUTH_DOMAIN", "")
	v.SetDefault("FIREBASE_WEB_STORAGE_BUCKET", "")
	v.SetDefault("FIREBASE_WEB_MESSAGING_SENDER_ID", "")
	v.SetDefault("FIREBASE_WEB_APP_ID", "")
	v.SetDefault("DEV_JWT_SECRET", "")
	v.SetDefault("DEV_JWT_ISSUER", "backend-dev")
	v.SetDefault("ADMIN_API_KEY", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("AUDIT_WEBHOOK_URL", "")
	v.SetDefault("AUDIT_WEBHOOK_AUTH_HEADER", "")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageBbolt:
		if c.BboltPath == "" {
			return errors.New("config: BBOLT_PATH must be set when STORAGE_BACKEND=bbolt")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.IdentityProvider {
	case IdentityFirebase:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			return errors.New("config: FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE must be set when IDENTITY_PROVIDER=firebase")
		}
	case IdentityJWT:
		if c.Env == EnvProduction {
			return errors.New("config: IDENTITY_PROVIDER=jwt must not be used when APP_ENV=production")
		}
		if len(c.DevJWTSecret) < minJWTSecretLength {
			return fmt.Errorf("config: DEV_JWT_SECRET must be at least %d bytes", minJWTSecretLength)
		}
	default:
		return fmt.Errorf("config: unknown IDENTITY_PROVIDER %q", c.IdentityProvider)
	}

	if c.SessionTTLHours <= 0 {
		return errors.New("config: SESSION_TTL_HOURS must be positive")
	}
	if c.SessionMaxPerUser <= 0 {
		return errors.New("config: SESSION_MAX_PER_USER must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return errors.New("config: SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.SessionRetention < 0 {
		return errors.New("config: SESSION_RETENTION must not be negative")
	}
	if c.SessionMaxLifetime < c.SessionTTL() {
		return errors.New("config: SESSION_MAX_LIFETIME must be at least the session TTL")
	}
	if c.SessionMaxExtendHrs <= 0 {
		return errors.New("config: SESSION_MAX_EXTEND_HOURS must be positive")
	}
	if c.SessionTouchInterval < 0 {
		return errors.New("config: SESSION_TOUCH_INTERVAL must not be negative")
	}
	return nil
}

// SessionTTL returns SESSION_TTL_HOURS as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// TrustedProxyList returns the comma-separated TRUSTED_PROXIES entries.
func (c *Config) TrustedProxyList() []string {
	if c == nil || c.TrustedProxies == "" {
		return nil
	}
	parts := strings.Split(c.TrustedProxies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
