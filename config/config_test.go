package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOrDefaultHelpersFallBackOnZeroValue(t *testing.T) {
	if got := orDefault("", "fallback"); got != "fallback" {
		t.Errorf("orDefault: got %q", got)
	}
	if got := orDefault("set", "fallback"); got != "set" {
		t.Errorf("orDefault: got %q", got)
	}
	if got := orDefaultInt(0, 5); got != 5 {
		t.Errorf("orDefaultInt: got %d", got)
	}
	if got := orDefaultFloat(0, 1.5); got != 1.5 {
		t.Errorf("orDefaultFloat: got %v", got)
	}
	if got := orDefaultDuration(0, time.Minute); got != time.Minute {
		t.Errorf("orDefaultDuration: got %v", got)
	}
}

func TestGenerateSampleConfigWritesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config is not valid JSON: %v", err)
	}
	if cfg.DatabaseConfig.Database != "hybrid_regime_engine" {
		t.Errorf("expected default database name to round-trip, got %q", cfg.DatabaseConfig.Database)
	}
}

func TestApplyEnvOverridesPrefersEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SCHEDULER_LIVE_TRADING", "true")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("expected env override to win, got %q", cfg.DatabaseConfig.Host)
	}
	if !cfg.SchedulerConfig.LiveTrading {
		t.Error("expected SCHEDULER_LIVE_TRADING=true to set LiveTrading")
	}
}
