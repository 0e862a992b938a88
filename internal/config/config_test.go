package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		flags []string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, ":8443", c.GRPCAddr)
				assert.Equal(t, StoragePostgres, c.Storage)
				assert.Equal(t, LimiterMemory, c.Limiter)
				assert.Equal(t, 60*time.Second, c.QRTokenTTL)
				assert.Equal(t, 30*time.Minute, c.AppointmentTokenTTL)
				assert.Equal(t, 5, c.RateLimit)
				assert.Equal(t, 60*time.Second, c.RateWindow)
				assert.Equal(t, 3, c.DebitMaxAttempts)
				assert.Equal(t, 50*time.Millisecond, c.DebitBackoff)
			},
		},
		{
			name:  "flags only",
			flags: []string{"-storage", "memory", "-rate-limit", "7", "-qr-ttl", "90s", "-signing-keys", "k2:aaa,k1:bbb"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, StorageMemory, c.Storage)
				assert.Equal(t, 7, c.RateLimit)
				assert.Equal(t, 90*time.Second, c.QRTokenTTL)
				assert.Equal(t, []string{"k2:aaa", "k1:bbb"}, c.SigningKeyEntries())
			},
		},
		{
			name:  "env wins over flags",
			env:   map[string]string{"RATE_LIMIT": "9", "LIMITER": "redis", "QR_TOKEN_TTL": "2m"},
			flags: []string{"-rate-limit", "7", "-limiter", "postgres"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 9, c.RateLimit)
				assert.Equal(t, LimiterRedis, c.Limiter)
				assert.Equal(t, 2*time.Minute, c.QRTokenTTL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := Parse("test", tt.flags)
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestParse_BadEnv(t *testing.T) {
	t.Setenv("RATE_WINDOW", "soon")
	_, err := Parse("test", nil)
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	c, err := Parse("test", []string{"-access-key", "k", "-signing-keys", "k1:0123456789abcdef", "-dsn", "postgres://localhost/cc"})
	require.NoError(t, err)
	return c
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	cases := map[string]func(c *Config){
		"missing access key":   func(c *Config) { c.AccessTokenKey = "" },
		"missing signing keys": func(c *Config) { c.SigningKeys = " , " },
		"zero rate limit":      func(c *Config) { c.RateLimit = 0 },
		"negative ttl":         func(c *Config) { c.QRTokenTTL = -time.Second },
		"postgres without dsn": func(c *Config) { c.DSN = "" },
		"unknown storage":      func(c *Config) { c.Storage = "sqlite" },
		"unknown limiter":      func(c *Config) { c.Limiter = "token-bucket" },
		"redis without addr":   func(c *Config) { c.Limiter = LimiterRedis; c.RedisAddr = "" },
		"pg limiter on memory": func(c *Config) { c.Limiter = LimiterPostgres; c.Storage = StorageMemory },
		"half tls":             func(c *Config) { c.TLSCert = "cert.pem" },
		"zero debit attempts":  func(c *Config) { c.DebitMaxAttempts = 0 },
		"zero credits":         func(c *Config) { c.CreditsClinicVisit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig(t)
			mutate(c)
			require.Error(t, c.Validate())
		})
	}

	c := validConfig(t)
	c.Storage = StorageMemory
	c.DSN = ""
	require.NoError(t, c.Validate())

	c = validConfig(t)
	c.Limiter = LimiterPostgres
	require.NoError(t, c.Validate())
}
