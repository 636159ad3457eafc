// Package config loads bot configuration from a YAML file with environment
// overrides for secrets.
package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts both "5s" strings and raw
// nanosecond integers; yaml.v3 alone only decodes the integer form.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return errors.Wrapf(err, "parse duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := node.Decode(&ns); err != nil {
		return errors.Errorf("duration must be a string like \"5s\" or integer nanoseconds, got %q", node.Value)
	}
	*d = Duration(ns)
	return nil
}

// OracleConfig selects and configures the price-quote backend.
type OracleConfig struct {
	// Backend is one of: birdeye, binance, bybit, static.
	Backend      string            `yaml:"backend"`
	BaseURL      string            `yaml:"base_url,omitempty"`
	PricePath    string            `yaml:"price_path,omitempty"`
	MetadataPath string            `yaml:"metadata_path,omitempty"`
	ListPath     string            `yaml:"list_path,omitempty"`
	APIKey       string            `yaml:"api_key,omitempty"`
	// Symbols maps token addresses to exchange symbols for the binance and
	// bybit backends.
	Symbols      map[string]string  `yaml:"symbols,omitempty"`
	StaticPrices map[string]float64 `yaml:"static_prices,omitempty"`
}

// StorageConfig selects the account store.
type StorageConfig struct {
	// Backend is one of: wal, postgres, memory.
	Backend     string   `yaml:"backend"`
	Dir         string   `yaml:"dir,omitempty"`
	PostgresURL string   `yaml:"postgres_url,omitempty"`
	RedisURL    string   `yaml:"redis_url,omitempty"`
	CacheTTL    Duration `yaml:"cache_ttl,omitempty"`
}

// Config is the full bot configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	InitialBalance float64       `yaml:"initial_balance"`
	ReferralBonus  float64       `yaml:"referral_bonus"`
	QuoteTimeout   Duration      `yaml:"quote_timeout"`
	Admins         []string      `yaml:"admins,omitempty"`
	Console        bool          `yaml:"console,omitempty"`
	TrackerDir     string        `yaml:"tracker_dir,omitempty"`
	Oracle         OracleConfig  `yaml:"oracle"`
	Storage        StorageConfig `yaml:"storage"`
}

// Flags holds command-line options parsed by Get.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// Get parses flags and loads the configuration. A missing config file is
// not an error when -setup is requested; the caller runs the wizard instead.
func Get() (Config, Flags, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive configuration wizard")
	console := flag.Bool("console", false, "attach a local console chat session")
	flag.Parse()

	flags := Flags{ConfigPath: *path, Setup: *setup}

	cfg, err := Load(*path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) && *setup {
			return Default(), flags, nil
		}
		return Config{}, flags, err
	}
	if *console {
		cfg.Console = true
	}
	return cfg, flags, nil
}

// Load reads and validates the config file, applying env overrides.
func Load(path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml config")
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used before any file or env is applied.
func Default() Config {
	cfg := Config{
		ListenAddr:     ":8080",
		InitialBalance: 10000,
		ReferralBonus:  500,
		QuoteTimeout:   Duration(5 * time.Second),
		Oracle:         OracleConfig{Backend: "birdeye"},
		Storage:        StorageConfig{Backend: "wal", Dir: "./wal/accounts", CacheTTL: Duration(30 * time.Second)},
	}
	cfg.applyEnv()
	return cfg
}

// Save writes the configuration to path as YAML.
func (c Config) Save(path string) error {
	payload, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode yaml config")
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BIRDEYE_API_KEY"); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("ADMIN_ID"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Admins = append(c.Admins, id)
			}
		}
	}
}

func (c Config) validate() error {
	switch c.Oracle.Backend {
	case "birdeye", "binance", "bybit", "static":
	default:
		return errors.Errorf("unsupported oracle backend %q", c.Oracle.Backend)
	}
	switch c.Storage.Backend {
	case "wal", "postgres", "memory":
	default:
		return errors.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		return errors.New("postgres storage requires postgres_url or DATABASE_URL")
	}
	if c.InitialBalance <= 0 {
		return errors.New("initial_balance must be positive")
	}
	if c.ReferralBonus < 0 {
		return errors.New("referral_bonus must not be negative")
	}
	if c.QuoteTimeout <= 0 {
		return errors.New("quote_timeout must be positive")
	}
	return nil
}
