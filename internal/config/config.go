// Package config provides configuration loading and validation from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string // debug, info, warn, error
	ListenAddr        string // Server listen address (e.g., ":8080")
	MetricsListenAddr string // Metrics listener address (e.g., "localhost:9090")
	DatabasePath      string // SQLite database path
	LicensePath       string // License record file path (empty = user config dir)

	Secret      string // Required in production: HMAC signing secret
	Environment string // development, test, production
	AdminToken  string // Bearer token for the admin API (empty = disabled)

	AllowedDomains     []string // Optional domain allowlist for outbound fetches
	AllowedPorts       []int    // Optional port allowlist for outbound fetches
	BlockPrivateIPs    bool
	BlockMetadataHosts bool
	DNSTimeout         time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load parses configuration from environment variables.
// All configuration options except FETCHGUARD_SECRET have defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:          envDefault("LOG_LEVEL", "info"),
		ListenAddr:        envDefault("LISTEN_ADDR", ":8080"),
		MetricsListenAddr: envDefault("METRICS_LISTEN_ADDR", "localhost:9090"),
		DatabasePath:      envDefault("DATABASE_PATH", "/data/fetchguard.db"),
		LicensePath:       os.Getenv("LICENSE_PATH"),
		Secret:            os.Getenv("FETCHGUARD_SECRET"),
		Environment:       envDefault("FETCHGUARD_ENV", "development"),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
	}

	if v := os.Getenv("ALLOWED_DOMAINS"); v != "" {
		cfg.AllowedDomains = splitList(v)
	}

	if v := os.Getenv("ALLOWED_PORTS"); v != "" {
		for _, part := range splitList(v) {
			port, err := strconv.Atoi(part)
			if err != nil || port < 1 || port > 65535 {
				return nil, fmt.Errorf("ALLOWED_PORTS: invalid port %q", part)
			}
			cfg.AllowedPorts = append(cfg.AllowedPorts, port)
		}
	}

	var err error
	cfg.BlockPrivateIPs, err = envBool("BLOCK_PRIVATE_IPS", true)
	if err != nil {
		return nil, err
	}
	cfg.BlockMetadataHosts, err = envBool("BLOCK_METADATA_HOSTS", true)
	if err != nil {
		return nil, err
	}

	dnsTimeoutMS, err := envInt("DNS_TIMEOUT_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.DNSTimeout = time.Duration(dnsTimeoutMS) * time.Millisecond

	rps, err := envInt("RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitRPS = float64(rps)

	cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "test", "production":
	default:
		return fmt.Errorf("FETCHGUARD_ENV must be development, test, or production, got %q", c.Environment)
	}

	if c.Environment == "production" && c.Secret == "" {
		return fmt.Errorf("FETCHGUARD_SECRET environment variable is required in production")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.DNSTimeout <= 0 {
		return fmt.Errorf("DNS_TIMEOUT_MS must be positive")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}

	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// splitList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
