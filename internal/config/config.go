package config

import (
	"fmt"
	"log"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// devSigningKey is only accepted when ENV=development.
const devSigningKey = "ayursutra-development-signing-key-change-me"

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	// MigrationsDir replaces the embedded SQL files when set.
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	JWTSigningKey     string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer         string        `mapstructure:"JWT_ISSUER"`
	TokenTTL          time.Duration `mapstructure:"TOKEN_TTL"`
	OTPTTL            time.Duration `mapstructure:"OTP_TTL"`
	OTPLength         int           `mapstructure:"OTP_LENGTH"`
	OTPMaxAttempts    int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	OTPRateLimitRPS   float64       `mapstructure:"OTP_RATE_LIMIT_RPS"`
	OTPRateLimitBurst int           `mapstructure:"OTP_RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SMTPAddr          string        `mapstructure:"SMTP_ADDR"`
	SMTPUser          string        `mapstructure:"SMTP_USER"`
	SMTPPassword      string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom          string        `mapstructure:"SMTP_FROM"`
	FirebaseCredsFile string        `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	ReminderInterval  time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderLead      time.Duration `mapstructure:"REMINDER_LEAD"`
	ClinicTimezone    string        `mapstructure:"CLINIC_TIMEZONE"`
	// PublicBaseURL is the external origin of the API, used in shareable
	// links. Empty means the request's own host.
	PublicBaseURL     string        `mapstructure:"PUBLIC_BASE_URL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL",
	"OTP_TTL", "OTP_LENGTH", "OTP_MAX_ATTEMPTS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "OTP_RATE_LIMIT_RPS", "OTP_RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "SMTP_ADDR", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM",
	"FIREBASE_CREDENTIALS_FILE", "REMINDER_INTERVAL", "REMINDER_LEAD",
	"CLINIC_TIMEZONE", "PUBLIC_BASE_URL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_ISSUER", "ayursutra")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("OTP_RATE_LIMIT_RPS", 0.2)
	v.SetDefault("OTP_RATE_LIMIT_BURST", 3)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("REMINDER_INTERVAL", "15m")
	v.SetDefault("REMINDER_LEAD", "24h")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Kolkata")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSigningKey == "" && cfg.IsDev() {
		cfg.JWTSigningKey = devSigningKey
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: OTP codes are written to the log when SMTP_ADDR is unset.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the clinic time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" && c.Env != "test" {
		return fmt.Errorf("ENV must be \"development\", \"production\" or \"test\", got %q", c.Env)
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development")
	}
	if c.IsProduction() {
		if c.JWTSigningKey == devSigningKey {
			return fmt.Errorf("JWT_SIGNING_KEY must not be the development key in production")
		}
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes in production, got %d", len(c.JWTSigningKey))
		}
		if c.SMTPAddr == "" {
			return fmt.Errorf("SMTP_ADDR is required in production so OTP codes can be delivered")
		}
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTPMaxAttempts)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	if c.SMTPAddr != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_ADDR is set")
	}
	return nil
}
