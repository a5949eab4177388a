package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	AuthMode         string        `mapstructure:"AUTH_MODE"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	CacheTTL         time.Duration `mapstructure:"CACHE_TTL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	TokenTTL         time.Duration `mapstructure:"TOKEN_TTL"`
	DefaultTenant    string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	OTelEndpoint     string        `mapstructure:"OTEL_ENDPOINT"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	CatalogFile      string        `mapstructure:"CATALOG_FILE"`
	WorkerInterval   time.Duration `mapstructure:"WORKER_INTERVAL"`
	ReminderLeadTime time.Duration `mapstructure:"REMINDER_LEAD_TIME"`
	TelemedBaseURL   string        `mapstructure:"TELEMED_BASE_URL"`
	TelemedTokenTTL  time.Duration `mapstructure:"TELEMED_TOKEN_TTL"`
	PublicBaseURL    string        `mapstructure:"PUBLIC_BASE_URL"`
	ClinicTimezone   string        `mapstructure:"CLINIC_TIMEZONE"`
	NotifyGateway    string        `mapstructure:"NOTIFY_GATEWAY_URL"`
	NotifySecret     string        `mapstructure:"NOTIFY_GATEWAY_SECRET"`
	NotifyRetention  time.Duration `mapstructure:"NOTIFY_RETENTION"`
	NotifyOutboxSize int           `mapstructure:"NOTIFY_OUTBOX_SIZE"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CACHE_TTL", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "TOKEN_TTL",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"OTEL_ENDPOINT", "MIGRATIONS_DIR", "CATALOG_FILE", "WORKER_INTERVAL",
	"REMINDER_LEAD_TIME", "TELEMED_BASE_URL", "TELEMED_TOKEN_TTL",
	"PUBLIC_BASE_URL", "CLINIC_TIMEZONE", "NOTIFY_GATEWAY_URL", "NOTIFY_GATEWAY_SECRET",
	"NOTIFY_RETENTION", "NOTIFY_OUTBOX_SIZE", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("AUTH_ISSUER", "clinic-server")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("WORKER_INTERVAL", "1m")
	v.SetDefault("REMINDER_LEAD_TIME", "24h")
	v.SetDefault("TELEMED_BASE_URL", "https://meet.localhost")
	v.SetDefault("TELEMED_TOKEN_TTL", "2h")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("CLINIC_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("NOTIFY_RETENTION", "24h")
	v.SetDefault("NOTIFY_OUTBOX_SIZE", 10000)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); every request is treated as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "standalone" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "standalone"
}

// SigningKey decodes AUTH_SIGNING_KEY. Callers must run Validate first.
func (c *Config) SigningKey() []byte {
	key, _ := hex.DecodeString(c.AuthSigningKey)
	return key
}

// Location resolves CLINIC_TIMEZONE. Callers must run Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "standalone" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"standalone\", got %q", mode)
	}
	if mode == "standalone" || c.AuthSigningKey != "" {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is %q", mode)
		}
		key, err := hex.DecodeString(c.AuthSigningKey)
		if err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("WORKER_INTERVAL must be positive, got %s", c.WorkerInterval)
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE is not a valid zone: %w", err)
	}
	if c.TokenTTL <= 0 || c.TelemedTokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL and TELEMED_TOKEN_TTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
