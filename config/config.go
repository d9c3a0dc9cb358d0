package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrade/pkg/fees"
)

// Duration wraps time.Duration so config files can say "500ms" or "10s"
// in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the complete application configuration.
type Config struct {
	Trading TradingConfig `json:"trading" yaml:"trading"`
	Fees    FeesConfig    `json:"fees" yaml:"fees"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// TradingConfig holds execution-engine parameters.
type TradingConfig struct {
	SlippagePercent    float64 `json:"slippage_percent" yaml:"slippage_percent"`
	EnforceMarketHours bool    `json:"enforce_market_hours" yaml:"enforce_market_hours"`
	AllowAMO           bool    `json:"allow_amo" yaml:"allow_amo"`
	MarketOpenHour     int     `json:"market_open_hour" yaml:"market_open_hour"`
	MarketOpenMinute   int     `json:"market_open_minute" yaml:"market_open_minute"`
	MarketCloseHour    int     `json:"market_close_hour" yaml:"market_close_hour"`
	MarketCloseMinute  int     `json:"market_close_minute" yaml:"market_close_minute"`
}

// FeesConfig selects a broker schedule: one of the named profiles, or
// CUSTOM with an explicit schedule.
type FeesConfig struct {
	Profile string         `json:"profile" yaml:"profile"` // ALICE_BLUE | ZERODHA | FLAT_FEE | CUSTOM
	Custom  *fees.Schedule `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Schedule resolves the configured fee schedule.
func (f FeesConfig) Schedule() fees.Schedule {
	if f.Profile == "CUSTOM" && f.Custom != nil {
		return *f.Custom
	}
	return fees.ByName(f.Profile)
}

// JournalConfig holds persistence parameters. PnLPersistInterval throttles
// session-level unrealized-P&L writes; order transitions are never throttled.
type JournalConfig struct {
	DBPath             string   `json:"db_path" yaml:"db_path"`
	PnLPersistInterval Duration `json:"pnl_persist_interval" yaml:"pnl_persist_interval"`
}

// FeedConfig selects the tick source.
type FeedConfig struct {
	Mode         string             `json:"mode" yaml:"mode"` // sim | socket
	URL          string             `json:"url,omitempty" yaml:"url,omitempty"`
	Scenario     string             `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	TickInterval Duration           `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`
	Instruments  []InstrumentConfig `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

// InstrumentConfig seeds one subscribable contract.
type InstrumentConfig struct {
	Token        int64   `json:"token" yaml:"token"`
	Symbol       string  `json:"symbol" yaml:"symbol"`
	InitialPrice float64 `json:"initial_price,omitempty" yaml:"initial_price,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// LoadFromFile loads configuration from a YAML file, falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Trading.SlippagePercent < 0 {
		return fmt.Errorf("trading.slippage_percent must not be negative")
	}
	if c.Trading.MarketOpenHour < 0 || c.Trading.MarketOpenHour > 23 ||
		c.Trading.MarketCloseHour < 0 || c.Trading.MarketCloseHour > 23 {
		return fmt.Errorf("market hours must be within 0-23")
	}
	openMin := c.Trading.MarketOpenHour*60 + c.Trading.MarketOpenMinute
	closeMin := c.Trading.MarketCloseHour*60 + c.Trading.MarketCloseMinute
	if closeMin <= openMin {
		return fmt.Errorf("market close must be after market open")
	}

	switch c.Fees.Profile {
	case "ALICE_BLUE", "ZERODHA", "FLAT_FEE", "":
	case "CUSTOM":
		if c.Fees.Custom == nil {
			return fmt.Errorf("fees.profile CUSTOM requires fees.custom")
		}
	default:
		return fmt.Errorf("unknown fees.profile %q", c.Fees.Profile)
	}

	if c.Journal.DBPath == "" {
		return fmt.Errorf("journal.db_path is required")
	}
	if c.Journal.PnLPersistInterval < 0 {
		return fmt.Errorf("journal.pnl_persist_interval must not be negative")
	}

	switch c.Feed.Mode {
	case "sim", "":
		for _, inst := range c.Feed.Instruments {
			if inst.Token <= 0 {
				return fmt.Errorf("feed instrument token must be positive")
			}
			if strings.TrimSpace(inst.Symbol) == "" {
				return fmt.Errorf("feed instrument symbol is required")
			}
		}
	case "socket":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for socket mode")
		}
	default:
		return fmt.Errorf("feed.mode must be 'sim' or 'socket'")
	}

	return nil
}

// Default returns a configuration with sensible defaults: NSE derivative
// market hours, Alice Blue fees, and the sideways simulator scenario.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			SlippagePercent:    0.1,
			EnforceMarketHours: true,
			AllowAMO:           true,
			MarketOpenHour:     9,
			MarketOpenMinute:   15,
			MarketCloseHour:    15,
			MarketCloseMinute:  30,
		},
		Fees: FeesConfig{
			Profile: "ALICE_BLUE",
		},
		Journal: JournalConfig{
			DBPath:             "./papertrade.sqlite",
			PnLPersistInterval: Duration(5 * time.Second),
		},
		Feed: FeedConfig{
			Mode:         "sim",
			Scenario:     "sideways",
			TickInterval: Duration(500 * time.Millisecond),
			Instruments: []InstrumentConfig{
				{Token: 100001, Symbol: "NIFTY24000CE", InitialPrice: 150.50},
				{Token: 100002, Symbol: "BANKNIFTY51000PE", InitialPrice: 250.75},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// SaveToFile writes the configuration as YAML (or JSON for .json paths).
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
