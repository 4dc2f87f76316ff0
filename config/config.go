package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Stripe      StripeConfig
	SMTP        SMTPConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port             int           `envconfig:"PORT" default:"8080"`
	BodyLimitBytes   int           `envconfig:"BODY_LIMIT_BYTES" default:"4194304"`
	AllowedOrigins   string        `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RateLimitMax     int           `envconfig:"RATE_LIMIT_MAX" default:"60"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	PublicAppURL     string        `envconfig:"PUBLIC_APP_URL" default:"http://localhost:3000"`
	DefaultPageLimit int           `envconfig:"DEFAULT_PAGE_LIMIT" default:"25"`
	MaxPageLimit     int           `envconfig:"MAX_PAGE_LIMIT" default:"100"`
	MaxLeadsPerBuy   int           `envconfig:"MAX_LEADS_PER_PURCHASE" default:"100"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"db"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"cursive"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:""`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	TimeZone string `envconfig:"DB_TIMEZONE" default:"UTC"`
	MaxOpen  int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdle  int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET_KEY" default:""`
	TokenTTL  time.Duration `envconfig:"JWT_TTL" default:"24h"`
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY" default:""`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" default:""`
	Currency      string `envconfig:"STRIPE_CURRENCY" default:"usd"`
	SuccessPath   string `envconfig:"STRIPE_SUCCESS_PATH" default:"/marketplace/purchases?purchase={PURCHASE_ID}&status=success"`
	CancelPath    string `envconfig:"STRIPE_CANCEL_PATH" default:"/marketplace?checkout=cancelled"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SMTP_HOST" default:""`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	User     string `envconfig:"SMTP_USER" default:""`
	Password string `envconfig:"SMTP_PASSWORD" default:""`
	From     string `envconfig:"SMTP_FROM" default:"Cursive <noreply@meetcursive.com>"`
}

// RedisConfig is optional; an empty URL keeps rate limiter state in memory.
type RedisConfig struct {
	URL string `envconfig:"REDIS_URL" default:""`
}

type IdempotencyConfig struct {
	TTL             time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	StaleAfter      time.Duration `envconfig:"IDEMPOTENCY_STALE_AFTER" default:"5m"`
	CleanupInterval time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"1h"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone)
}

// Address returns the listen address for the HTTP server.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

// StripeEnabled reports whether hosted checkout can be offered.
func (s *StripeConfig) StripeEnabled() bool {
	return strings.TrimSpace(s.SecretKey) != ""
}

// SMTPEnabled reports whether confirmation emails can be delivered.
func (s *SMTPConfig) SMTPEnabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT secret not configured (set JWT_SECRET_KEY)")
	}
	return &cfg, nil
}

// ConfigureLogging applies level and formatter to the standard logrus logger.
func (l *LogConfig) ConfigureLogging() {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		logrus.Warnf("Invalid LOG_LEVEL value: %s, using info", l.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(l.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
}
