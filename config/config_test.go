package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

const minimalConfig = `liqflow:
  name: "TestApp"
  version: "1.0"
source:
  binance:
    enabled: true
    symbols: ["BTCUSDT"]
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liqflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Liqflow.Name)
	}
	if cfg.Router.MaxWorkers != 2 {
		t.Errorf("unexpected default router workers: %d", cfg.Router.MaxWorkers)
	}
	if cfg.Velocity.MaxWindow != time.Minute {
		t.Errorf("unexpected default max window: %s", cfg.Velocity.MaxWindow)
	}
	if cfg.Risk.Cooldown != 30*time.Second {
		t.Errorf("unexpected default cooldown: %s", cfg.Risk.Cooldown)
	}
}

func TestLoadConfigRequiresSource(t *testing.T) {
	path := writeTempConfig(t, `liqflow:
  name: "TestApp"
  version: "1.0"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error when no source is enabled")
	}
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`risk:
  weights:
    velocity: -1
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for negative risk weight")
	}
}

func TestLoadConfigHyperliquidNeedsVaults(t *testing.T) {
	path := writeTempConfig(t, `liqflow:
  name: "TestApp"
  version: "1.0"
source:
  hyperliquid:
    enabled: true
    poll_interval: 30s
    stale_after: 5m
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error when hyperliquid has no vaults")
	}
}

func TestLoadConfigIcebergNeedsPath(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`storage:
  iceberg:
    enabled: true
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error when iceberg metadata has no path")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
