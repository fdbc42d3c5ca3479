package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_YAMLAndDefaults(t *testing.T) {
	path := writeConfig(t, `
putups:
  - ticker: AAPL
    market: NYSE
    class: STK
  - ticker: RELIANCE
    market: NSE
    lookback_days: 10
resolver:
  window: 45m
redis:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Putups) != 2 {
		t.Fatalf("expected 2 putups, got %d", len(cfg.Putups))
	}
	if cfg.Putups[0].Key() != "NYSE:AAPL" || cfg.Putups[0].Class != "STK" {
		t.Errorf("unexpected putup %+v", cfg.Putups[0])
	}
	if cfg.Putups[0].LookbackDays != 5 || cfg.Putups[1].LookbackDays != 10 {
		t.Errorf("expected lookback 5/10, got %d/%d", cfg.Putups[0].LookbackDays, cfg.Putups[1].LookbackDays)
	}
	if cfg.Resolver.Window != 45*time.Minute {
		t.Errorf("expected 45m window, got %v", cfg.Resolver.Window)
	}
	if cfg.Resolver.MaxFetches != 8 {
		t.Errorf("expected default max fetches 8, got %d", cfg.Resolver.MaxFetches)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Schedule.RolloverCron != "0 5 16 * * 1-5" {
		t.Errorf("unexpected rollover cron %q", cfg.Schedule.RolloverCron)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SQLite.Path != "data/putup.db" || cfg.Metrics.Addr != ":9090" {
		t.Errorf("unexpected defaults %+v %+v", cfg.SQLite, cfg.Metrics)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation to fail without putups")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "putups: [")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
putups:
  - ticker: AAPL
    market: NYSE
redis:
  addr: redis.internal:6379
`)
	t.Setenv("REDIS_ADDR", "127.0.0.1:6380")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("CRON_RESOLVE", "0 * * * * *")
	t.Setenv("PUTUPS", "NASDAQ:MSFT, bogus ,NSE:INFY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Addr != "127.0.0.1:6380" || !cfg.Redis.Enabled {
		t.Errorf("expected env redis settings, got %+v", cfg.Redis)
	}
	if cfg.SQLite.Path != "/tmp/x.db" {
		t.Errorf("expected /tmp/x.db, got %s", cfg.SQLite.Path)
	}
	if cfg.Schedule.ResolveCron != "0 * * * * *" {
		t.Errorf("unexpected resolve cron %q", cfg.Schedule.ResolveCron)
	}
	if len(cfg.Putups) != 2 || cfg.Putups[0].Key() != "NASDAQ:MSFT" || cfg.Putups[1].Key() != "NSE:INFY" {
		t.Errorf("unexpected putups %+v", cfg.Putups)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", "putups: [{ticker: AAPL, market: NYSE}]", false},
		{"missing ticker", "putups: [{market: NYSE}]", true},
		{"duplicate", "putups: [{ticker: AAPL, market: NYSE}, {ticker: AAPL, market: NYSE}]", true},
		{"unknown exchange", "putups: [{ticker: X, market: MOON}]", true},
		{"negative fetches", "putups: [{ticker: AAPL, market: NYSE}]\nresolver: {max_fetches: -1}", true},
		{
			"custom exchange",
			"putups: [{ticker: X, market: TSE}]\nexchanges: [{name: TSE, timezone: UTC, open: \"09:00\", close: \"15:00\"}]",
			false,
		},
		{
			"custom exchange bad clock",
			"putups: [{ticker: X, market: TSE}]\nexchanges: [{name: TSE, timezone: UTC, open: \"9am\", close: \"15:00\"}]",
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExchange_ExtraHolidays(t *testing.T) {
	cfg, err := Load(writeConfig(t, "exchanges: [{name: NYSE, holidays: [20260706]}]"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ex, err := cfg.Exchange("NYSE")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if !ex.IsHoliday(20260706) {
		t.Error("expected the configured holiday to be added")
	}
	if ex.Name != "NYSE" || ex.OpenAt.Hour != 9 {
		t.Errorf("expected the built-in session, got %s %s", ex.Name, ex.OpenAt)
	}
}

func TestParsePutups(t *testing.T) {
	got := ParsePutups("NYSE:AAPL,,:X,NSE:")
	if len(got) != 1 || got[0].Key() != "NYSE:AAPL" {
		t.Errorf("expected [NYSE:AAPL], got %+v", got)
	}
}
