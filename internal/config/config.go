// Package config loads server settings from the environment and an optional
// TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"autotp/internal/pricing"
	"autotp/internal/solana"
)

// DefaultProgramID is the deployed vault program.
const DefaultProgramID = "4zNsNcDNWFJUPhpBF2j6ZBA4f6arEHn3hEx1osH6Hvkq"

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config holds every server knob. Values come from AUTOTP_* variables and
// their defaults, then from the config file where it defines a key.
type Config struct {
	HTTPAddr    string `env:"AUTOTP_HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"AUTOTP_METRICS_ADDR" envDefault:":9090"`

	ProgramID        string `env:"AUTOTP_PROGRAM_ID" envDefault:"4zNsNcDNWFJUPhpBF2j6ZBA4f6arEHn3hEx1osH6Hvkq"`
	ProtocolTreasury string `env:"AUTOTP_PROTOCOL_TREASURY"`

	Storage       string `env:"AUTOTP_STORAGE" envDefault:"memory"`
	PostgresDSN   string `env:"AUTOTP_POSTGRES_DSN"`
	ClickhouseDSN string `env:"AUTOTP_CLICKHOUSE_DSN"`
	SQLitePath    string `env:"AUTOTP_SQLITE_PATH" envDefault:"autotp.db"`

	PriceDecimals  int32    `env:"AUTOTP_PRICE_DECIMALS" envDefault:"6"`
	PriceFeedURL   string   `env:"AUTOTP_PRICE_FEED_URL"`
	KeeperMints    []string `env:"AUTOTP_KEEPER_MINTS" envSeparator:","`
	KeeperIdentity string   `env:"AUTOTP_KEEPER_IDENTITY"` // also the only caller of the price route

	LegacyReferrerLeak bool   `env:"AUTOTP_LEGACY_REFERRER_LEAK" envDefault:"false"`
	AllowDeposits      bool   `env:"AUTOTP_ALLOW_DEPOSITS" envDefault:"false"`
	PublicURL          string `env:"AUTOTP_PUBLIC_URL"`

	LogLevel   string `env:"AUTOTP_LOG_LEVEL" envDefault:"info"`
	LogConsole bool   `env:"AUTOTP_LOG_CONSOLE" envDefault:"false"`

	RPCEndpoint string `env:"AUTOTP_RPC_ENDPOINT" envDefault:"https://api.mainnet-beta.solana.com"`
}

// Keys are the parsed public keys of a validated Config.
type Keys struct {
	ProgramID        solana.PublicKey
	ProtocolTreasury solana.PublicKey
	KeeperIdentity   solana.PublicKey
	KeeperMints      []solana.PublicKey
}

// Load reads the environment, then overlays path if non-empty.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

type fileConfig struct {
	HTTPAddr           string   `toml:"http_addr"`
	MetricsAddr        string   `toml:"metrics_addr"`
	ProgramID          string   `toml:"program_id"`
	ProtocolTreasury   string   `toml:"protocol_treasury"`
	Storage            string   `toml:"storage"`
	PostgresDSN        string   `toml:"postgres_dsn"`
	ClickhouseDSN      string   `toml:"clickhouse_dsn"`
	SQLitePath         string   `toml:"sqlite_path"`
	PriceDecimals      int32    `toml:"price_decimals"`
	PriceFeedURL       string   `toml:"price_feed_url"`
	KeeperMints        []string `toml:"keeper_mints"`
	KeeperIdentity     string   `toml:"keeper_identity"`
	LegacyReferrerLeak bool     `toml:"legacy_referrer_leak"`
	AllowDeposits      bool     `toml:"allow_deposits"`
	PublicURL          string   `toml:"public_url"`
	LogLevel           string   `toml:"log_level"`
	LogConsole         bool     `toml:"log_console"`
	RPCEndpoint        string   `toml:"rpc_endpoint"`
}

func (c *Config) overlayFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	strs := []struct {
		key string
		src string
		dst *string
	}{
		{"http_addr", raw.HTTPAddr, &c.HTTPAddr},
		{"metrics_addr", raw.MetricsAddr, &c.MetricsAddr},
		{"program_id", raw.ProgramID, &c.ProgramID},
		{"protocol_treasury", raw.ProtocolTreasury, &c.ProtocolTreasury},
		{"storage", raw.Storage, &c.Storage},
		{"postgres_dsn", raw.PostgresDSN, &c.PostgresDSN},
		{"clickhouse_dsn", raw.ClickhouseDSN, &c.ClickhouseDSN},
		{"sqlite_path", raw.SQLitePath, &c.SQLitePath},
		{"price_feed_url", raw.PriceFeedURL, &c.PriceFeedURL},
		{"keeper_identity", raw.KeeperIdentity, &c.KeeperIdentity},
		{"public_url", raw.PublicURL, &c.PublicURL},
		{"log_level", raw.LogLevel, &c.LogLevel},
		{"rpc_endpoint", raw.RPCEndpoint, &c.RPCEndpoint},
	}
	for _, s := range strs {
		if meta.IsDefined(s.key) {
			*s.dst = strings.TrimSpace(s.src)
		}
	}

	if meta.IsDefined("price_decimals") {
		c.PriceDecimals = raw.PriceDecimals
	}
	if meta.IsDefined("keeper_mints") {
		c.KeeperMints = raw.KeeperMints
	}
	if meta.IsDefined("legacy_referrer_leak") {
		c.LegacyReferrerLeak = raw.LegacyReferrerLeak
	}
	if meta.IsDefined("allow_deposits") {
		c.AllowDeposits = raw.AllowDeposits
	}
	if meta.IsDefined("log_console") {
		c.LogConsole = raw.LogConsole
	}
	return nil
}

// KeeperEnabled reports whether the price keeper should run.
func (c *Config) KeeperEnabled() bool {
	return c.PriceFeedURL != ""
}

// Validate checks the config and returns its parsed keys.
func (c *Config) Validate() (*Keys, error) {
	var errs []error
	keys := &Keys{}

	parse := func(name, value string, dst *solana.PublicKey) {
		pk, err := solana.ParsePublicKey(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = pk
	}

	parse("program_id", c.ProgramID, &keys.ProgramID)
	if c.ProtocolTreasury == "" {
		errs = append(errs, errors.New("protocol_treasury is required"))
	} else {
		parse("protocol_treasury", c.ProtocolTreasury, &keys.ProtocolTreasury)
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
	case StorageSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("sqlite_path is required for sqlite storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage %q: want memory, postgres or sqlite", c.Storage))
	}

	if c.PriceDecimals < 0 || c.PriceDecimals > pricing.MaxDecimals {
		errs = append(errs, fmt.Errorf("price_decimals %d out of range [0, %d]", c.PriceDecimals, pricing.MaxDecimals))
	}

	if c.KeeperIdentity != "" {
		parse("keeper_identity", c.KeeperIdentity, &keys.KeeperIdentity)
	}
	if c.KeeperEnabled() {
		if c.KeeperIdentity == "" {
			errs = append(errs, errors.New("keeper_identity is required when price_feed_url is set"))
		}
		if len(c.KeeperMints) == 0 {
			errs = append(errs, errors.New("keeper_mints is required when price_feed_url is set"))
		}
		for _, m := range c.KeeperMints {
			var pk solana.PublicKey
			parse("keeper_mints", m, &pk)
			keys.KeeperMints = append(keys.KeeperMints, pk)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return keys, nil
}
