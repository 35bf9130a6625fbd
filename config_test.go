package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := loadConfig(path)
	if cfg.WorkerTimeout != defaultWorkerTimeout {
		t.Fatalf("worker timeout: got %v", cfg.WorkerTimeout)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("listen addr: got %q", cfg.ListenAddr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadConfigAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
listen_addr = ":9000"
network = "Signet"
strict_wallets = true
worker_timeout_seconds = 120
metrics_retention_seconds = 3600
pool_log = "/var/log/ckpool/ckpool.log"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := loadConfig(path)
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("listen addr: got %q", cfg.ListenAddr)
	}
	if cfg.Network != "signet" {
		t.Fatalf("network not lowercased: %q", cfg.Network)
	}
	if !cfg.StrictWallets {
		t.Fatal("strict_wallets not applied")
	}
	if cfg.WorkerTimeout != 120*time.Second {
		t.Fatalf("worker timeout: got %v", cfg.WorkerTimeout)
	}
	if cfg.MetricsRetention != time.Hour {
		t.Fatalf("metrics retention: got %v", cfg.MetricsRetention)
	}
	if cfg.PoolLog != "/var/log/ckpool/ckpool.log" {
		t.Fatalf("pool log: got %q", cfg.PoolLog)
	}
	// Fields absent from the file keep their defaults.
	if cfg.SweepInterval != defaultSweepInterval {
		t.Fatalf("sweep interval: got %v", cfg.SweepInterval)
	}
}

func TestConfigRoundTripThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	want := defaultConfig()
	want.ListenAddr = ":7777"
	want.Network = "testnet"
	want.WorkerTimeout = 90 * time.Second
	if err := rewriteConfigFile(path, want); err != nil {
		t.Fatalf("rewriteConfigFile: %v", err)
	}

	got := loadConfig(path)
	if got.ListenAddr != want.ListenAddr || got.Network != want.Network || got.WorkerTimeout != want.WorkerTimeout {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}
