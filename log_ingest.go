package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// logIngester tails ckpool's log file and feeds the state database: pool
// snapshots into pool_metrics, user snapshots into user_stats, and
// Authorised/Dropped events into the presence tracker (which keeps the
// derived summary consistent). The read offset persists in the meta table so
// restarts resume where they left off.
type logIngester struct {
	presence  *presenceStore
	userStats *userStatsStore
	poolStats *poolMetricsStore
	blocks    *blocksStore
	shares    *sharesStore
	meta      *metaStore
	notifier  *discordNotifier

	logPath      string
	ledgerPath   string
	pollInterval time.Duration
	offsetKey    string
	ledgerKey    string
}

func newLogIngester(cfg Config, presence *presenceStore, userStats *userStatsStore,
	poolStats *poolMetricsStore, blocks *blocksStore, shares *sharesStore, meta *metaStore, notifier *discordNotifier) *logIngester {
	return &logIngester{
		presence:     presence,
		userStats:    userStats,
		poolStats:    poolStats,
		blocks:       blocks,
		shares:       shares,
		meta:         meta,
		notifier:     notifier,
		logPath:      cfg.PoolLog,
		ledgerPath:   cfg.BlocksLedger,
		pollInterval: cfg.IngestInterval,
		offsetKey:    "log_ingest_cursor:" + cfg.PoolLog,
		ledgerKey:    "ledger_ingest_cursor:" + cfg.BlocksLedger,
	}
}

func (ing *logIngester) run(ctx context.Context) {
	if ing == nil || (ing.logPath == "" && ing.ledgerPath == "") {
		return
	}
	ticker := time.NewTicker(ing.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ing.logPath != "" {
				if n, err := ing.ingestLogOnce(time.Now()); err != nil {
					logger.Error("pool log ingest", "error", err, "path", ing.logPath)
				} else if n > 0 {
					logger.Debug("ingested pool log events", "count", n)
				}
			}
			if ing.ledgerPath != "" {
				if err := ing.ingestBlocksLedger(); err != nil {
					logger.Error("blocks ledger ingest", "error", err, "path", ing.ledgerPath)
				}
			}
		}
	}
}

func (ing *logIngester) savedOffset(key string) int64 {
	raw, err := ing.meta.Get(key)
	if err != nil {
		logger.Warn("read ingest cursor", "error", err, "key", key)
		return 0
	}
	off, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || off < 0 {
		return 0
	}
	return off
}

// ingestLogOnce reads any new lines since the saved cursor and applies them.
// A file smaller than the cursor means rotation or truncation; reading then
// restarts from the top.
func (ing *logIngester) ingestLogOnce(now time.Time) (int, error) {
	f, err := os.Open(ing.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open pool log: %w", err)
	}
	defer f.Close()

	offset := ing.savedOffset(ing.offsetKey)
	if fi, err := f.Stat(); err == nil && fi.Size() < offset {
		logger.Info("pool log truncated, restarting ingest from top", "path", ing.logPath)
		offset = 0
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("seek pool log: %w", err)
		}
	}

	reader := bufio.NewReaderSize(f, 256<<10)
	events := 0
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// A partial final line gets re-read on the next pass once
			// ckpool finishes writing it.
			break
		}
		if err != nil {
			return events, fmt.Errorf("read pool log: %w", err)
		}
		offset += int64(len(line))
		if ing.applyLine(strings.TrimRight(line, "\n"), now) {
			events++
		}
	}

	if err := ing.meta.Set(ing.offsetKey, strconv.FormatInt(offset, 10)); err != nil {
		return events, fmt.Errorf("save ingest cursor: %w", err)
	}
	return events, nil
}

func (ing *logIngester) applyLine(line string, now time.Time) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}

	if rec, ok := parsePoolLine(line, now); ok {
		if err := ing.poolStats.Upsert(*rec); err != nil {
			logger.Warn("pool snapshot upsert", "error", err)
			return false
		}
		return true
	}

	if ul, ok := parseUserLine(line, now); ok {
		err := ing.userStats.Upsert(userStatsRecord{
			Address:     ul.Address,
			TS:          ul.TS,
			Hashrate1m:  ul.Data.Hashrate1m,
			Hashrate5m:  ul.Data.Hashrate5m,
			Hashrate1hr: ul.Data.Hashrate1hr,
			Hashrate1d:  ul.Data.Hashrate1d,
			Hashrate7d:  ul.Data.Hashrate7d,
			LastShare:   ul.Data.LastShare,
			Workers:     ul.Data.Workers,
			Shares:      ul.Data.Shares,
			BestShare:   ul.Data.BestShare,
			BestEver:    ul.Data.BestEver,
			Authorised:  ul.Data.Authorised,
		})
		if err != nil {
			logger.Warn("user snapshot upsert", "error", err, "wallet", ul.Address)
			return false
		}
		// A snapshot proving the wallet still mines keeps its known worker
		// names fresh so the sweep doesn't expire them mid-session.
		if ul.Data.Workers > 0 {
			ing.bumpKnownWorkers(ul.Address, ul.Data.Workers, ul.TS)
		}
		return true
	}

	if pl, ok := parseAuthorisedLine(line, now); ok {
		if err := ing.presence.RecordSeen(pl.Wallet, pl.Worker, pl.TS); err != nil {
			logger.Error("record worker seen", "error", err, "wallet", pl.Wallet, "worker", pl.Worker)
			return false
		}
		ing.notifier.workerSeen(pl.Wallet, pl.Worker, now)
		return true
	}

	// Shares are the highest-frequency signal that a worker is alive, so a
	// share line both lands in the ledger and refreshes presence.
	if se, ok := parseShareLine(line, now); ok {
		err := ing.shares.Insert(shareRecord{
			TS:      se.TS,
			Status:  se.Status,
			Address: se.Wallet,
			Worker:  se.Worker,
			RawDiff: se.RawDiff,
			Scaled:  se.Scaled,
		})
		if err != nil {
			logger.Warn("record share", "error", err, "wallet", se.Wallet)
		}
		if se.Worker != "" {
			worker := cleanWorkerName(se.Worker, se.Wallet)
			if err := ing.presence.RecordSeen(se.Wallet, worker, se.TS); err != nil {
				logger.Error("record worker share", "error", err, "wallet", se.Wallet, "worker", worker)
				return false
			}
		}
		return true
	}

	if pl, ok := parseDroppedLine(line, now); ok {
		if err := ing.presence.MarkInactive(pl.Wallet, pl.Worker); err != nil {
			logger.Error("mark worker dropped", "error", err, "wallet", pl.Wallet, "worker", pl.Worker)
			return false
		}
		return true
	}

	return false
}

// bumpKnownWorkers refreshes last_seen for a wallet's active workers when a
// user snapshot says they are still mining. Only applies when the snapshot
// count matches what presence already knows, so it cannot resurrect workers
// the sweep legitimately demoted.
func (ing *logIngester) bumpKnownWorkers(wallet string, reported int64, ts int64) {
	actives, err := ing.presence.ActiveWorkers(wallet)
	if err != nil {
		logger.Warn("list active workers", "error", err, "wallet", wallet)
		return
	}
	if int64(len(actives)) != reported {
		return
	}
	for _, worker := range actives {
		if err := ing.presence.RecordSeen(wallet, worker, ts); err != nil {
			logger.Warn("refresh worker last_seen", "error", err, "wallet", wallet, "worker", worker)
		}
	}
}

// ingestBlocksLedger reads new JSONL entries from the operator-maintained
// found-blocks ledger.
func (ing *logIngester) ingestBlocksLedger() error {
	f, err := os.Open(ing.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open blocks ledger: %w", err)
	}
	defer f.Close()

	offset := ing.savedOffset(ing.ledgerKey)
	if fi, err := f.Stat(); err == nil && fi.Size() < offset {
		offset = 0
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek blocks ledger: %w", err)
		}
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read blocks ledger: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var b foundBlock
		if err := fastJSONUnmarshal([]byte(line), &b); err != nil {
			logger.Warn("skip malformed ledger entry", "error", err)
			continue
		}
		if err := ing.blocks.Record(b); err != nil {
			logger.Warn("record found block", "error", err, "height", b.Height)
		}
	}

	return ing.meta.Set(ing.ledgerKey, strconv.FormatInt(offset, 10))
}
