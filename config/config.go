// Package config loads daemon configuration: a .env file, then a YAML file,
// then environment variable overrides, then defaults.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// ExchangeConfig defines or extends an exchange session.
type ExchangeConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`  // "HH:MM"
	Close    string `yaml:"close"` // "HH:MM"
	Holidays []int  `yaml:"holidays"`
}

// PutupConfig is one monitored security.
type PutupConfig struct {
	model.Security `yaml:",inline"`
	LookbackDays   int `yaml:"lookback_days"`
}

// Config holds all application configuration.
type Config struct {
	Service  string `yaml:"service"`
	LogLevel string `yaml:"log_level"`

	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Putups    []PutupConfig    `yaml:"putups"`

	Schedule struct {
		RolloverCron string `yaml:"rollover_cron"`
		ResolveCron  string `yaml:"resolve_cron"`
		SnapshotCron string `yaml:"snapshot_cron"`
	} `yaml:"schedule"`

	Feed struct {
		URL               string        `yaml:"url"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
		BufferSize        int           `yaml:"buffer_size"`
	} `yaml:"feed"`

	Resolver struct {
		Window      time.Duration `yaml:"window"`
		WaitTimeout time.Duration `yaml:"wait_timeout"`
		MaxFetches  int           `yaml:"max_fetches"`
	} `yaml:"resolver"`

	Historic struct {
		Workers int `yaml:"workers"`
		Backlog int `yaml:"backlog"`
	} `yaml:"historic"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Load reads .env (if present), the YAML file at path (if present), applies
// environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Feed.URL = getEnv("FEED_URL", c.Feed.URL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Schedule.RolloverCron = getEnv("CRON_ROLLOVER", c.Schedule.RolloverCron)
	c.Schedule.ResolveCron = getEnv("CRON_RESOLVE", c.Schedule.ResolveCron)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = b
		}
	}
	// PUTUPS=NYSE:AAPL,NYSE:MSFT replaces the configured list
	if v := os.Getenv("PUTUPS"); v != "" {
		c.Putups = ParsePutups(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "ylined"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Schedule.RolloverCron == "" {
		c.Schedule.RolloverCron = "0 5 16 * * 1-5"
	}
	if c.Schedule.ResolveCron == "" {
		c.Schedule.ResolveCron = "0 */5 * * * 1-5"
	}
	if c.Schedule.SnapshotCron == "" {
		c.Schedule.SnapshotCron = "*/30 * * * * *"
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = 10000
	}
	if c.Resolver.Window == 0 {
		c.Resolver.Window = 30 * time.Minute
	}
	if c.Resolver.WaitTimeout == 0 {
		c.Resolver.WaitTimeout = 2 * time.Minute
	}
	if c.Resolver.MaxFetches == 0 {
		c.Resolver.MaxFetches = 8
	}
	if c.Historic.Workers == 0 {
		c.Historic.Workers = 2
	}
	if c.Historic.Backlog == 0 {
		c.Historic.Backlog = 64
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/putup.db"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	for i := range c.Putups {
		if c.Putups[i].LookbackDays == 0 {
			c.Putups[i].LookbackDays = 5
		}
	}
}

// Validate checks that the configuration can start a daemon.
func (c *Config) Validate() error {
	if len(c.Putups) == 0 {
		return errors.New("at least one putup is required")
	}
	seen := map[string]bool{}
	for _, p := range c.Putups {
		if p.Ticker == "" || p.Market == "" {
			return fmt.Errorf("putup %q: ticker and market are required", p.Key())
		}
		if seen[p.Key()] {
			return fmt.Errorf("putup %s listed twice", p.Key())
		}
		seen[p.Key()] = true
		if _, err := c.Exchange(p.Market); err != nil {
			return err
		}
	}
	if c.Resolver.MaxFetches < 0 {
		return errors.New("resolver.max_fetches must not be negative")
	}
	return nil
}

// Exchange resolves a market name: a configured exchange first, then a
// built-in one. Holidays listed for a built-in name are added to it.
func (c *Config) Exchange(name string) (*markethours.Exchange, error) {
	var ec *ExchangeConfig
	for i := range c.Exchanges {
		if strings.EqualFold(c.Exchanges[i].Name, name) {
			ec = &c.Exchanges[i]
			break
		}
	}
	builtin, ok := markethours.Builtin(name)
	switch {
	case ec == nil && ok:
		return builtin, nil
	case ec == nil:
		return nil, fmt.Errorf("unknown exchange %q", name)
	case ec.Timezone == "" && ok:
		for _, d := range ec.Holidays {
			builtin.AddHoliday(d)
		}
		return builtin, nil
	}

	loc, err := time.LoadLocation(ec.Timezone)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", ec.Name, err)
	}
	open, err := markethours.ParseClock(ec.Open)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", ec.Name, err)
	}
	closeAt, err := markethours.ParseClock(ec.Close)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", ec.Name, err)
	}
	return markethours.NewExchange(ec.Name, loc, open, closeAt, ec.Holidays...), nil
}

// ParsePutups parses "MARKET:TICKER" entries separated by commas.
func ParsePutups(s string) []PutupConfig {
	var out []PutupConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		market, ticker, ok := strings.Cut(part, ":")
		if !ok || market == "" || ticker == "" {
			log.Printf("[config] skipping invalid putup: %q", part)
			continue
		}
		out = append(out, PutupConfig{Security: model.Security{Ticker: ticker, Market: market}, LookbackDays: 5})
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
