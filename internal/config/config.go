package config

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	ProviderLog     = "log"
	ProviderTencent = "tencent"

	phoneKeyBytes = 32
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"smsauth"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile        string        `env:"LOG_FILE"`
	LogMaxAge      time.Duration `env:"LOG_MAX_AGE" envDefault:"168h"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	StoreDriver        string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"5s"`
	SQLitePath         string        `env:"SQLITE_PATH" envDefault:"smsauth.db"`
	RedisURL           string        `env:"REDIS_URL"`

	CodeLength     int           `env:"CODE_LENGTH" envDefault:"6"`
	CodeTTL        time.Duration `env:"CODE_TTL" envDefault:"5m"`
	ResendInterval time.Duration `env:"RESEND_INTERVAL" envDefault:"60s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	CountryPrefix  string        `env:"PHONE_COUNTRY_PREFIX" envDefault:"+86"`
	PhoneKeyHex    string        `env:"PHONE_ENCRYPTION_KEY"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"smsauth"`
	AdminTokenTTL time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`
	UserTokenTTL  time.Duration `env:"USER_TOKEN_TTL" envDefault:"720h"`

	AuthRatePerMin int    `env:"AUTH_RATE_LIMIT_PER_MIN" envDefault:"5"`
	AdminPhone     string `env:"ADMIN_PHONE"`

	SMSProvider string  `env:"SMS_PROVIDER" envDefault:"log"`
	Tencent     Tencent `envPrefix:"TENCENT_"`
}

// Tencent holds Tencent Cloud SMS credentials and template settings.
type Tencent struct {
	SecretID   string `env:"SECRET_ID"`
	SecretKey  string `env:"SECRET_KEY"`
	SDKAppID   string `env:"SMS_SDK_APP_ID"`
	SignName   string `env:"SMS_SIGN_NAME"`
	TemplateID string `env:"SMS_TEMPLATE_ID"`
	Region     string `env:"SMS_REGION" envDefault:"ap-guangzhou"`
}

// VerificationConfig is the immutable view consumed by the verification service.
type VerificationConfig struct {
	CodeLength     int
	CodeTTL        time.Duration
	ResendInterval time.Duration
	CountryPrefix  string
}

// TokenConfig is the immutable view consumed by the token issuer.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	AdminTTL time.Duration
	UserTTL  time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.SMSProvider = strings.ToLower(strings.TrimSpace(cfg.SMSProvider))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if _, err := c.PhoneKey(); err != nil {
		return err
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set when STORE_DRIVER=%s", DriverSQLite)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.SMSProvider {
	case ProviderLog:
	case ProviderTencent:
		t := c.Tencent
		missing := make([]string, 0)
		for name, v := range map[string]string{
			"TENCENT_SECRET_ID":       t.SecretID,
			"TENCENT_SECRET_KEY":      t.SecretKey,
			"TENCENT_SMS_SDK_APP_ID":  t.SDKAppID,
			"TENCENT_SMS_SIGN_NAME":   t.SignName,
			"TENCENT_SMS_TEMPLATE_ID": t.TemplateID,
			"TENCENT_SMS_REGION":      t.Region,
		} {
			if v == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("tencent sms config missing: %s", strings.Join(missing, ","))
		}
	default:
		return fmt.Errorf("unsupported SMS_PROVIDER %q", c.SMSProvider)
	}

	if c.CodeLength < 4 || c.CodeLength > 10 {
		return fmt.Errorf("CODE_LENGTH must be between 4 and 10, got %d", c.CodeLength)
	}
	if c.CodeTTL <= 0 || c.ResendInterval < 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("CODE_TTL and SWEEP_INTERVAL must be positive, RESEND_INTERVAL non-negative")
	}
	if c.AdminTokenTTL <= 0 || c.UserTokenTTL <= 0 {
		return fmt.Errorf("ADMIN_TOKEN_TTL and USER_TOKEN_TTL must be positive")
	}
	return nil
}

// PhoneKey decodes the phone encryption key material.
func (c Config) PhoneKey() ([]byte, error) {
	if c.PhoneKeyHex == "" {
		return nil, fmt.Errorf("PHONE_ENCRYPTION_KEY must be set")
	}
	key, err := hex.DecodeString(c.PhoneKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PHONE_ENCRYPTION_KEY: %w", err)
	}
	if len(key) != phoneKeyBytes {
		return nil, fmt.Errorf("PHONE_ENCRYPTION_KEY must decode to %d bytes, got %d", phoneKeyBytes, len(key))
	}
	return key, nil
}

// VerificationConfig returns the verification service settings.
func (c Config) VerificationConfig() VerificationConfig {
	return VerificationConfig{
		CodeLength:     c.CodeLength,
		CodeTTL:        c.CodeTTL,
		ResendInterval: c.ResendInterval,
		CountryPrefix:  c.CountryPrefix,
	}
}

// TokenConfig returns the token issuer settings.
func (c Config) TokenConfig() TokenConfig {
	return TokenConfig{
		Secret:   []byte(c.JWTSecret),
		Issuer:   c.JWTIssuer,
		AdminTTL: c.AdminTokenTTL,
		UserTTL:  c.UserTokenTTL,
	}
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
