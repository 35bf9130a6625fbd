package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	// defaultWorkerTimeout is the shared "is this worker online" window.
	// The sweep and the status API both use it; keep it identical to
	// whatever the presentation layer assumes or the two will disagree.
	defaultWorkerTimeout = 300 * time.Second

	defaultSweepInterval  = 60 * time.Second
	defaultSampleInterval = 30 * time.Second
	defaultHistoryWindow  = 24 * time.Hour
	defaultIngestInterval = 5 * time.Second

	defaultMetricsRetention = 30 * 24 * time.Hour
	defaultListenAddr       = ":8330"
	defaultDataDir          = "data"
)

type Config struct {
	ListenAddr string // HTTP status listen address, e.g. ":8330"
	DataDir    string
	DBPath     string // SQLite state database path
	PoolLog    string // ckpool log file to tail; empty disables ingestion
	Network    string // bitcoin network for wallet validation: mainnet, testnet, signet, regtest

	// BlocksLedger is an optional JSONL file of blocks the pool found,
	// maintained by the pool operator; empty disables block ingestion.
	BlocksLedger string

	// StrictWallets rejects presence records whose wallet does not parse
	// as a valid address for Network. Off by default because ckpool logs
	// sometimes carry truncated addresses.
	StrictWallets bool

	WorkerTimeout  time.Duration
	SweepInterval  time.Duration
	SampleInterval time.Duration
	HistoryWindow  time.Duration
	IngestInterval time.Duration

	// MetricsRetention bounds the append-only tables (pool_metrics, shares);
	// rows older than the window are pruned on the sweep tick.
	MetricsRetention time.Duration

	LogFile      string
	DebugLogging bool

	// Discord worker offline/recovery notifications. Disabled unless both
	// token and channel are set.
	DiscordBotToken  string
	DiscordChannelID string
}

type fileConfig struct {
	ListenAddr              *string `toml:"listen_addr"`
	DataDir                 *string `toml:"data_dir"`
	DBPath                  *string `toml:"db_path"`
	PoolLog                 *string `toml:"pool_log"`
	BlocksLedger            *string `toml:"blocks_ledger"`
	Network                 *string `toml:"network"`
	StrictWallets           *bool   `toml:"strict_wallets"`
	WorkerTimeoutSeconds    *int    `toml:"worker_timeout_seconds"`
	SweepIntervalSeconds    *int    `toml:"sweep_interval_seconds"`
	SampleIntervalSeconds   *int    `toml:"sample_interval_seconds"`
	HistoryWindowSeconds    *int    `toml:"history_window_seconds"`
	IngestIntervalSeconds   *int    `toml:"ingest_interval_seconds"`
	MetricsRetentionSeconds *int    `toml:"metrics_retention_seconds"`
	LogFile                 *string `toml:"log_file"`
	DebugLogging            *bool   `toml:"debug_logging"`
	DiscordBotToken         *string `toml:"discord_bot_token"`
	DiscordChannelID        *string `toml:"discord_channel_id"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     defaultListenAddr,
		DataDir:        defaultDataDir,
		DBPath:         filepath.Join(defaultDataDir, "poolmon.sqlite"),
		Network:        "mainnet",
		WorkerTimeout:  defaultWorkerTimeout,
		SweepInterval:  defaultSweepInterval,
		SampleInterval: defaultSampleInterval,
		HistoryWindow:  defaultHistoryWindow,
		IngestInterval: defaultIngestInterval,

		MetricsRetention: defaultMetricsRetention,
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config.toml")
}

func loadConfig(configPath string) Config {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if fc, ok, err := loadConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyFileConfig(&cfg, *fc)
	} else {
		if err := rewriteConfigFile(configPath, cfg); err != nil {
			fatal("write default config", err, "path", configPath)
		}
		logger.Info("created default config file", "path", configPath)
	}

	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "poolmon.sqlite")
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = defaultWorkerTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.IngestInterval <= 0 {
		cfg.IngestInterval = defaultIngestInterval
	}
	if cfg.MetricsRetention <= 0 {
		cfg.MetricsRetention = defaultMetricsRetention
	}

	return cfg
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return &fc, true, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.ListenAddr != nil {
		cfg.ListenAddr = strings.TrimSpace(*fc.ListenAddr)
	}
	if fc.DataDir != nil {
		cfg.DataDir = strings.TrimSpace(*fc.DataDir)
	}
	if fc.DBPath != nil {
		cfg.DBPath = strings.TrimSpace(*fc.DBPath)
	}
	if fc.PoolLog != nil {
		cfg.PoolLog = strings.TrimSpace(*fc.PoolLog)
	}
	if fc.BlocksLedger != nil {
		cfg.BlocksLedger = strings.TrimSpace(*fc.BlocksLedger)
	}
	if fc.Network != nil {
		cfg.Network = strings.ToLower(strings.TrimSpace(*fc.Network))
	}
	if fc.StrictWallets != nil {
		cfg.StrictWallets = *fc.StrictWallets
	}
	if fc.WorkerTimeoutSeconds != nil && *fc.WorkerTimeoutSeconds > 0 {
		cfg.WorkerTimeout = time.Duration(*fc.WorkerTimeoutSeconds) * time.Second
	}
	if fc.SweepIntervalSeconds != nil && *fc.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(*fc.SweepIntervalSeconds) * time.Second
	}
	if fc.SampleIntervalSeconds != nil && *fc.SampleIntervalSeconds > 0 {
		cfg.SampleInterval = time.Duration(*fc.SampleIntervalSeconds) * time.Second
	}
	if fc.HistoryWindowSeconds != nil && *fc.HistoryWindowSeconds > 0 {
		cfg.HistoryWindow = time.Duration(*fc.HistoryWindowSeconds) * time.Second
	}
	if fc.IngestIntervalSeconds != nil && *fc.IngestIntervalSeconds > 0 {
		cfg.IngestInterval = time.Duration(*fc.IngestIntervalSeconds) * time.Second
	}
	if fc.MetricsRetentionSeconds != nil && *fc.MetricsRetentionSeconds > 0 {
		cfg.MetricsRetention = time.Duration(*fc.MetricsRetentionSeconds) * time.Second
	}
	if fc.LogFile != nil {
		cfg.LogFile = strings.TrimSpace(*fc.LogFile)
	}
	if fc.DebugLogging != nil {
		cfg.DebugLogging = *fc.DebugLogging
	}
	if fc.DiscordBotToken != nil {
		cfg.DiscordBotToken = strings.TrimSpace(*fc.DiscordBotToken)
	}
	if fc.DiscordChannelID != nil {
		cfg.DiscordChannelID = strings.TrimSpace(*fc.DiscordChannelID)
	}
}

func buildFileConfig(cfg Config) fileConfig {
	timeoutSecs := int(cfg.WorkerTimeout / time.Second)
	sweepSecs := int(cfg.SweepInterval / time.Second)
	sampleSecs := int(cfg.SampleInterval / time.Second)
	historySecs := int(cfg.HistoryWindow / time.Second)
	ingestSecs := int(cfg.IngestInterval / time.Second)
	retentionSecs := int(cfg.MetricsRetention / time.Second)
	return fileConfig{
		ListenAddr:              &cfg.ListenAddr,
		DataDir:                 &cfg.DataDir,
		DBPath:                  &cfg.DBPath,
		PoolLog:                 &cfg.PoolLog,
		BlocksLedger:            &cfg.BlocksLedger,
		Network:                 &cfg.Network,
		StrictWallets:           &cfg.StrictWallets,
		WorkerTimeoutSeconds:    &timeoutSecs,
		SweepIntervalSeconds:    &sweepSecs,
		SampleIntervalSeconds:   &sampleSecs,
		HistoryWindowSeconds:    &historySecs,
		IngestIntervalSeconds:   &ingestSecs,
		MetricsRetentionSeconds: &retentionSecs,
		LogFile:                 &cfg.LogFile,
		DebugLogging:            &cfg.DebugLogging,
		DiscordBotToken:         &cfg.DiscordBotToken,
		DiscordChannelID:        &cfg.DiscordChannelID,
	}
}

// rewriteConfigFile writes cfg to path atomically via a temp file rename so a
// crash mid-write never leaves a truncated config behind.
func rewriteConfigFile(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	data, err := toml.Marshal(buildFileConfig(cfg))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	removeTemp = false
	return nil
}
