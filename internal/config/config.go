// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and SALTAPI_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SALTAPI_"

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type Submission struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimit struct {
	Burst     int     `yaml:"burst"`
	PerSecond float64 `yaml:"per_second"`
}

// Config is the complete service configuration.
type Config struct {
	HTTPAddr          string     `yaml:"http_addr"`
	GRPCAddr          string     `yaml:"grpc_addr"`
	ScienceDB         Database   `yaml:"science_db"`
	StatusDB          Database   `yaml:"status_db"`
	Auth              Auth       `yaml:"auth"`
	TrustedNetworks   []string   `yaml:"trusted_networks"`
	TrustForwardedFor bool       `yaml:"trust_forwarded_for"`
	Submission        Submission `yaml:"submission"`
	RateLimit         RateLimit  `yaml:"rate_limit"`
	MaxBodyBytes      int64      `yaml:"max_body_bytes"`
	FixturePath       string     `yaml:"fixture_path"`

	trusted []netip.Prefix
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		HTTPAddr:  ":8080",
		GRPCAddr:  ":9090",
		ScienceDB: Database{Driver: "mysql"},
		StatusDB:  Database{Driver: "pgx"},
		Auth: Auth{
			Issuer:   "salt-api",
			TokenTTL: 7 * 24 * time.Hour,
		},
		TrustedNetworks: []string{"127.0.0.0/8", "::1/128"},
		Submission:      Submission{Timeout: 30 * time.Second},
		RateLimit:       RateLimit{Burst: 20, PerSecond: 10},
		MaxBodyBytes:    32 << 20,
	}
}

// Load builds and validates the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers the file, .env and environment over the defaults without
// validating the result. Tools that need only part of the configuration use it.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("SCIENCE_DB_DSN", &c.ScienceDB.DSN)
	str("STATUS_DB_DRIVER", &c.StatusDB.Driver)
	str("STATUS_DB_DSN", &c.StatusDB.DSN)
	str("AUTH_SECRET", &c.Auth.Secret)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	str("SUBMISSION_URL", &c.Submission.URL)
	str("FIXTURE_PATH", &c.FixturePath)

	if v, ok := os.LookupEnv(envPrefix + "TRUSTED_NETWORKS"); ok {
		c.TrustedNetworks = splitList(v)
	}

	var err error
	lookup := func(key string, parse func(string) error) {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || err != nil {
			return
		}
		if perr := parse(strings.TrimSpace(v)); perr != nil {
			err = fmt.Errorf("%s%s: %w", envPrefix, key, perr)
		}
	}
	lookup("TOKEN_TTL", func(v string) (e error) { c.Auth.TokenTTL, e = time.ParseDuration(v); return })
	lookup("SUBMISSION_TIMEOUT", func(v string) (e error) { c.Submission.Timeout, e = time.ParseDuration(v); return })
	lookup("TRUST_FORWARDED_FOR", func(v string) (e error) { c.TrustForwardedFor, e = strconv.ParseBool(v); return })
	lookup("RATE_LIMIT_BURST", func(v string) (e error) { c.RateLimit.Burst, e = strconv.Atoi(v); return })
	lookup("RATE_LIMIT_PER_SECOND", func(v string) (e error) { c.RateLimit.PerSecond, e = strconv.ParseFloat(v, 64); return })
	lookup("MAX_BODY_BYTES", func(v string) (e error) { c.MaxBodyBytes, e = strconv.ParseInt(v, 10, 64); return })
	return err
}

// Validate checks the configuration and parses the trusted networks.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	switch c.StatusDB.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("status_db.driver %q is not supported (use pgx or postgres)", c.StatusDB.Driver)
	}
	if c.ScienceDB.Driver != "mysql" {
		return fmt.Errorf("science_db.driver %q is not supported (use mysql)", c.ScienceDB.Driver)
	}
	if c.Submission.Timeout <= 0 {
		return errors.New("submission.timeout must be positive")
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		return errors.New("rate_limit.burst and rate_limit.per_second must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}

	prefixes, err := c.ParseTrustedNetworks()
	if err != nil {
		return fmt.Errorf("trusted_networks: %w", err)
	}
	c.trusted = prefixes
	return nil
}

// ParseTrustedNetworks parses TrustedNetworks without validating the rest of
// the configuration.
func (c Config) ParseTrustedNetworks() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedNetworks))
	for _, raw := range c.TrustedNetworks {
		p, err := parsePrefix(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// TrustedPrefixes returns the parsed trusted networks. Validate must have succeeded.
func (c Config) TrustedPrefixes() []netip.Prefix {
	return append([]netip.Prefix(nil), c.trusted...)
}

// parsePrefix accepts CIDR notation or a single address.
func parsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
