// Package config reads clinic-credit server settings from flags and
// environment variables. An environment variable, when set, wins over the flag.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Limiter backends.
const (
	LimiterMemory   = "memory"
	LimiterRedis    = "redis"
	LimiterPostgres = "postgres"
)

// Config holds the server settings.
type Config struct {
	GRPCAddr string `env:"GRPC_ADDR"`
	HTTPAddr string `env:"HTTP_ADDR"`
	DSN      string `env:"DATABASE_DSN"`
	Storage  string `env:"STORAGE"`

	AccessTokenKey string `env:"ACCESS_TOKEN_KEY"`
	// SigningKeys is a comma-separated "kid:secret" list, newest first.
	SigningKeys string `env:"REDEMPTION_SIGNING_KEYS"`

	QRTokenTTL          time.Duration `env:"QR_TOKEN_TTL"`
	AppointmentTokenTTL time.Duration `env:"APPOINTMENT_TOKEN_TTL"`

	RateLimit  int           `env:"RATE_LIMIT"`
	RateWindow time.Duration `env:"RATE_WINDOW"`
	Limiter    string        `env:"LIMITER"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	CreditsAppointment int64 `env:"CREDITS_APPOINTMENT"`
	CreditsClinicVisit int64 `env:"CREDITS_CLINIC_VISIT"`
	CentsPerCredit     int64 `env:"CENTS_PER_CREDIT"`

	DebitMaxAttempts int           `env:"DEBIT_MAX_ATTEMPTS"`
	DebitBackoff     time.Duration `env:"DEBIT_BACKOFF"`

	ExpiryInterval time.Duration `env:"EXPIRY_INTERVAL"`

	TLSCert string `env:"TLS_CERT"`
	TLSKey  string `env:"TLS_KEY"`
	Dev     bool   `env:"DEV"`
}

// Parse reads flags from args, then applies any set environment variables.
func Parse(name string, args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", ":8443", "gRPC listen address")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP listen address (empty disables)")
	fs.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&cfg.Storage, "storage", StoragePostgres, "storage backend: postgres|memory")

	fs.StringVar(&cfg.AccessTokenKey, "access-key", "", "HS256 key of caller access tokens (required)")
	fs.StringVar(&cfg.SigningKeys, "signing-keys", "", "redemption signing keys kid:secret[,kid:secret...], newest first (required)")

	fs.DurationVar(&cfg.QRTokenTTL, "qr-ttl", 60*time.Second, "clinic-visit QR token lifetime")
	fs.DurationVar(&cfg.AppointmentTokenTTL, "appointment-ttl", 30*time.Minute, "appointment token lifetime")

	fs.IntVar(&cfg.RateLimit, "rate-limit", 5, "token generations allowed per window per user")
	fs.DurationVar(&cfg.RateWindow, "rate-window", 60*time.Second, "rate limit sliding window")
	fs.StringVar(&cfg.Limiter, "limiter", LimiterMemory, "limiter backend: memory|redis|postgres")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database")

	fs.Int64Var(&cfg.CreditsAppointment, "credits-appointment", 1, "credits charged per appointment")
	fs.Int64Var(&cfg.CreditsClinicVisit, "credits-clinic-visit", 1, "credits charged per clinic visit")
	fs.Int64Var(&cfg.CentsPerCredit, "cents-per-credit", 0, "monetary value of one credit in minor units")

	fs.IntVar(&cfg.DebitMaxAttempts, "debit-attempts", 3, "max optimistic-lock attempts per debit")
	fs.DurationVar(&cfg.DebitBackoff, "debit-backoff", 50*time.Millisecond, "base backoff between debit attempts")

	fs.DurationVar(&cfg.ExpiryInterval, "expiry-interval", 30*time.Second, "pending transaction sweep interval")

	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", false, "development logger and gRPC reflection")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	// Unset variables leave the flag values untouched.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// SigningKeyEntries splits SigningKeys into "kid:secret" entries.
func (c *Config) SigningKeyEntries() []string {
	var out []string
	for _, e := range strings.Split(c.SigningKeys, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []error
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.AccessTokenKey == "" {
		bad("access token key is required")
	}
	if len(c.SigningKeyEntries()) == 0 {
		bad("at least one redemption signing key is required")
	}
	if c.QRTokenTTL <= 0 || c.AppointmentTokenTTL <= 0 {
		bad("token TTLs must be positive")
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		bad("rate limit and window must be positive")
	}
	if c.CreditsAppointment <= 0 || c.CreditsClinicVisit <= 0 {
		bad("credits per redemption must be positive")
	}
	if c.CentsPerCredit < 0 {
		bad("cents per credit must not be negative")
	}
	if c.DebitMaxAttempts < 1 || c.DebitBackoff < 0 {
		bad("debit retry settings are invalid")
	}
	if c.ExpiryInterval <= 0 {
		bad("expiry interval must be positive")
	}
	if c.GRPCAddr == "" && c.HTTPAddr == "" {
		bad("at least one of grpc-addr or http-addr is required")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		bad("tls-cert and tls-key must be set together")
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DSN == "" {
			bad("dsn is required for postgres storage")
		}
	case StorageMemory:
	default:
		bad("unknown storage %q", c.Storage)
	}

	switch c.Limiter {
	case LimiterMemory:
	case LimiterRedis:
		if c.RedisAddr == "" {
			bad("redis-addr is required for the redis limiter")
		}
	case LimiterPostgres:
		// The limiter table is created by the storage migrations.
		if c.Storage != StoragePostgres {
			bad("the postgres limiter requires postgres storage")
		}
	default:
		bad("unknown limiter %q", c.Limiter)
	}

	return errors.Join(problems...)
}
