package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	debugpkg "runtime/debug"
	"syscall"
	"time"
)

func main() {
	// Capture unexpected panics to panic.log with a stack trace so operators
	// can inspect them after a crash.
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\n%s\n\n", ts, r, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml")
	dbFlag := flag.String("db", "", "override state database path")
	poolLogFlag := flag.String("pool-log", "", "override ckpool log path to tail")
	listenFlag := flag.String("listen", "", "override status HTTP listen address (e.g. :8330)")
	networkFlag := flag.String("network", "", "bitcoin network: mainnet, testnet, signet, regtest")
	timeoutFlag := flag.Int("worker-timeout", 0, "override worker staleness timeout in seconds")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg := loadConfig(*configFlag)
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	if *poolLogFlag != "" {
		cfg.PoolLog = *poolLogFlag
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}
	if *networkFlag != "" {
		cfg.Network = *networkFlag
	}
	if *timeoutFlag > 0 {
		cfg.WorkerTimeout = time.Duration(*timeoutFlag) * time.Second
	}
	if *debugFlag {
		cfg.DebugLogging = true
	}

	if cfg.DebugLogging {
		logger.setLevel(logLevelDebug)
	}
	if cfg.LogFile != "" {
		logger.configureWriter(newAppendFileWriter(cfg.LogFile), true)
	}
	defer logger.Stop()

	db, err := openStateDB(cfg.DBPath)
	if err != nil {
		fatal("open state database", err, "path", cfg.DBPath)
	}
	defer db.Close()

	// Old databases may carry summaries written before the derived columns
	// existed; rebuild them once so the invariant holds from the first read.
	if err := refreshAllWalletSummaries(db); err != nil {
		fatal("rebuild wallet summaries", err)
	}

	presence, err := newPresenceStore(db, cfg)
	if err != nil {
		fatal("presence store", err)
	}

	notifier, err := newDiscordNotifier(cfg, db)
	if err != nil {
		fatal("discord notifier", err)
	}
	if err := notifier.start(); err != nil {
		// Notifications are best-effort; the dashboard keeps running.
		logger.Warn("discord notifier disabled", "error", err)
		notifier = nil
	}
	defer notifier.stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingester := newLogIngester(cfg,
		presence,
		newUserStatsStore(db),
		newPoolMetricsStore(db),
		newBlocksStore(db),
		newSharesStore(db),
		newMetaStore(db),
		notifier)
	go ingester.run(ctx)
	go runSweepLoop(ctx, presence, cfg, notifier)
	go newWalletSampler(db, cfg).run(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newStatusServer(db, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("status API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("status HTTP server", err, "addr", cfg.ListenAddr)
		}
	}()

	logger.Info("poolMon started",
		"db", cfg.DBPath,
		"pool_log", cfg.PoolLog,
		"worker_timeout", cfg.WorkerTimeout,
		"sweep_interval", cfg.SweepInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
