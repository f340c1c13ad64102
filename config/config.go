// Package config loads service settings from defaults, an optional .env file,
// environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the sigil service.
//
// Fields:
//   - HTTPAddr: bind address of the HTTP API.
//   - RedisURL: nonce store and event stream connection.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects the in-memory repository.
//   - SigningKeyFile: PEM encoded EC P-256 private key. Empty generates an ephemeral key.
//   - AccessTokenTTL / NonceTTL: token and challenge lifetimes.
type Config struct {
	HTTPAddr        string
	RedisURL        string
	DatabaseDSN     string
	SigningKeyFile  string
	AccessTokenTTL  time.Duration
	NonceTTL        time.Duration
	ChallengeDomain string
	CosmosPrefixes  []string
	EventsTopic     string
	LogLevel        slog.Level
}

// LoadDefaults populates Config with development defaults
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":9000"
	c.RedisURL = "redis://localhost:6379/0"
	c.DatabaseDSN = ""
	c.SigningKeyFile = ""
	c.AccessTokenTTL = 30 * time.Minute
	c.NonceTTL = 5 * time.Minute
	c.ChallengeDomain = "sigil"
	c.CosmosPrefixes = []string{"cosmos", "osmo", "juno", "stars", "akash"}
	c.EventsTopic = "sigil.events"
	c.LogLevel = slog.LevelInfo
}

// Load builds a Config from defaults, ./.env, the environment and args
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv exports variables from files that exist. Variables already set win.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("REDIS_URL", &c.RedisURL)
	str("DATABASE_DSN", &c.DatabaseDSN)
	str("JWT_SIGNING_KEY_FILE", &c.SigningKeyFile)
	str("CHALLENGE_DOMAIN", &c.ChallengeDomain)
	str("EVENTS_TOPIC", &c.EventsTopic)

	if err := dur("ACCESS_TOKEN_TTL", &c.AccessTokenTTL); err != nil {
		return err
	}
	if err := dur("NONCE_TTL", &c.NonceTTL); err != nil {
		return err
	}
	if v, ok := lookup("COSMOS_PREFIXES"); ok && v != "" {
		c.CosmosPrefixes = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}
	return nil
}

// parseFlags overlays the command-line flags.
//
// Supported flags:
//
//	-a string     HTTP bind address
//	-r string     Redis URL
//	-d string     PostgreSQL DSN
//	-k string     signing key PEM file
//	-t duration   access token lifetime
//	-n duration   challenge lifetime
func (c *Config) parseFlags(args []string) error {
	flags := flag.NewFlagSet("sigil", flag.ContinueOnError)

	flags.StringVar(&c.HTTPAddr, "a", c.HTTPAddr, "address and port to run server")
	flags.StringVar(&c.RedisURL, "r", c.RedisURL, "redis URL")
	flags.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "database DSN")
	flags.StringVar(&c.SigningKeyFile, "k", c.SigningKeyFile, "EC private key PEM file")
	flags.DurationVar(&c.AccessTokenTTL, "t", c.AccessTokenTTL, "access token lifetime")
	flags.DurationVar(&c.NonceTTL, "n", c.NonceTTL, "challenge lifetime")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if c.AccessTokenTTL <= 0 || c.NonceTTL <= 0 {
		return errors.New("token and challenge lifetimes must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
