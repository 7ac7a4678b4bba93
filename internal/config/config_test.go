package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Environment != "development" {
		t.Fatalf("environment: %q", cfg.Environment)
	}
	if cfg.OTP.CodeLength != 6 {
		t.Fatalf("code length: %d", cfg.OTP.CodeLength)
	}
	if cfg.OTP.TTL != 10*time.Minute {
		t.Fatalf("ttl: %v", cfg.OTP.TTL)
	}
	if cfg.OTP.MaxAttempts != 5 {
		t.Fatalf("max attempts: %d", cfg.OTP.MaxAttempts)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("backend: %q", cfg.Store.Backend)
	}
	if cfg.GetServerAddress() != "0.0.0.0:8080" {
		t.Fatalf("address: %q", cfg.GetServerAddress())
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OTP_CODE_LENGTH", "8")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("OTP_PEPPER", "pepper-value")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("EMAIL_ENABLED", "true")

	cfg := LoadConfig()

	if !cfg.IsProduction() {
		t.Fatal("expected production")
	}
	if cfg.OTP.CodeLength != 8 {
		t.Fatalf("code length: %d", cfg.OTP.CodeLength)
	}
	if cfg.OTP.TTL != 5*time.Minute {
		t.Fatalf("ttl: %v", cfg.OTP.TTL)
	}
	if cfg.Store.Backend != "redis" {
		t.Fatalf("backend: %q", cfg.Store.Backend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Fatalf("brokers: %v", cfg.Kafka.Brokers)
	}
	if !cfg.Email.Enabled {
		t.Fatal("email should be enabled")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := LoadConfig()
		cfg.OTP.Pepper = "pepper-value"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing pepper", func(c *Config) { c.OTP.Pepper = "" }, "OTP_PEPPER"},
		{"code too short", func(c *Config) { c.OTP.CodeLength = 3 }, "OTP_CODE_LENGTH"},
		{"code too long", func(c *Config) { c.OTP.CodeLength = 11 }, "OTP_CODE_LENGTH"},
		{"zero attempts", func(c *Config) { c.OTP.MaxAttempts = 0 }, "OTP_MAX_ATTEMPTS"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "dynamo" }, "STORE_BACKEND"},
		{"static code in production", func(c *Config) {
			c.Environment = "production"
			c.Email.Enabled = true
			c.OTP.StaticCode = "111222"
		}, "OTP_STATIC_CODE"},
		{"production without channels", func(c *Config) {
			c.Environment = "production"
		}, "delivery channel"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestStaticCodeAllowedInDevelopment(t *testing.T) {
	cfg := LoadConfig()
	cfg.OTP.Pepper = "pepper-value"
	cfg.OTP.StaticCode = "111222"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("static code should be fine in development: %v", err)
	}
}
