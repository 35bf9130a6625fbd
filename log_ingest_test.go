package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestIngester(t *testing.T, logPath string) (*logIngester, *presenceStore) {
	t.Helper()
	store := newTestPresenceStore(t)
	cfg := defaultConfig()
	cfg.PoolLog = logPath
	ing := newLogIngester(cfg,
		store,
		newUserStatsStore(store.db),
		newPoolMetricsStore(store.db),
		newBlocksStore(store.db),
		newSharesStore(store.db),
		newMetaStore(store.db),
		nil)
	return ing, store
}

func TestIngestLogOnce(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ckpool.log")
	content := `[2024-01-02 03:04:05] Pool:{"hashrate1m": "12.3T", "users": 1, "workers": 2, "accepted": 10}
[2024-01-02 03:04:06] Authorised client 1 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa
[2024-01-02 03:04:07] User 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa:{"hashrate1m": "6T", "workers": 1, "shares": 42}
noise line that matches nothing
`
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ing, store := newTestIngester(t, logPath)
	events, err := ing.ingestLogOnce(time.Now())
	if err != nil {
		t.Fatalf("ingestLogOnce: %v", err)
	}
	if events != 3 {
		t.Fatalf("expected 3 events, got %d", events)
	}

	workers, err := store.ActiveWorkers("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil || len(workers) != 1 || workers[0] != "rig1" {
		t.Fatalf("expected [rig1], got %v (err %v)", workers, err)
	}

	latest, err := newPoolMetricsStore(store.db).Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Hashrate1m != "12.3T" || latest.Accepted != 10 {
		t.Fatalf("pool metrics not ingested: %+v", latest)
	}

	view, err := newUserStatsStore(store.db).Get("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil || view == nil {
		t.Fatalf("user stats not ingested: %+v (err %v)", view, err)
	}
	if view.Shares != 42 || view.ActiveWorkersCount != 1 {
		t.Fatalf("user stats wrong: %+v", view)
	}
	checkSummaryInvariant(t, store.db, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
}

func TestIngestResumesFromSavedOffset(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ckpool.log")
	first := "[2024-01-02 03:04:06] Authorised client 1 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n"
	if err := os.WriteFile(logPath, []byte(first), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ing, store := newTestIngester(t, logPath)
	if _, err := ing.ingestLogOnce(time.Now()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Append one more event; only it should be processed on the next pass.
	second := "[2024-01-02 03:05:00] Authorised client 2 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig2 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n"
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(second); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	events, err := ing.ingestLogOnce(time.Now())
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 new event, got %d", events)
	}

	workers, err := store.ActiveWorkers("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil || len(workers) != 2 {
		t.Fatalf("expected 2 workers after resume, got %v (err %v)", workers, err)
	}
}

func TestIngestHandlesTruncatedFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ckpool.log")
	long := "[2024-01-02 03:04:06] Authorised client 1 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n"
	if err := os.WriteFile(logPath, []byte(long+long), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ing, store := newTestIngester(t, logPath)
	if _, err := ing.ingestLogOnce(time.Now()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Simulate rotation: replace with a shorter file.
	short := "[2024-01-02 04:00:00] Authorised client 3 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig9 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n"
	if err := os.WriteFile(logPath, []byte(short), 0o644); err != nil {
		t.Fatalf("truncate log: %v", err)
	}

	events, err := ing.ingestLogOnce(time.Now())
	if err != nil {
		t.Fatalf("ingest after truncation: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 event from restarted file, got %d", events)
	}

	workers, err := store.ActiveWorkers("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("ActiveWorkers: %v", err)
	}
	found := false
	for _, w := range workers {
		if w == "rig9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rig9 not ingested after truncation, workers %v", workers)
	}
}

func TestIngestDroppedLineDemotesWorker(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ckpool.log")
	content := "[2024-01-02 03:04:06] Authorised client 1 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n" +
		"[2024-01-02 03:09:00] Dropped client 1 127.0.0.1 user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ing, store := newTestIngester(t, logPath)
	if _, err := ing.ingestLogOnce(time.Now()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	workers, err := store.ActiveWorkers("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	if err != nil {
		t.Fatalf("ActiveWorkers: %v", err)
	}
	if len(workers) != 0 {
		t.Fatalf("dropped worker should be inactive, got %v", workers)
	}
	checkSummaryInvariant(t, store.db, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
}

func TestIngestShareLineRefreshesPresence(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ckpool.log")
	content := "[2024-01-02 03:04:06] Authorised client 1 127.0.0.1 worker 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 as user 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n" +
		"[2024-01-02 03:08:00] Share accepted from 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 diff 512\n" +
		"[2024-01-02 03:08:30] Rejected share from 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.rig1 at diff 512/1024\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ing, store := newTestIngester(t, logPath)
	events, err := ing.ingestLogOnce(time.Now())
	if err != nil {
		t.Fatalf("ingestLogOnce: %v", err)
	}
	if events != 3 {
		t.Fatalf("expected 3 events, got %d", events)
	}

	// The share lines refresh last_seen past the Authorised timestamp.
	var lastSeen int64
	err = store.db.QueryRow(`SELECT last_seen FROM workers_seen WHERE wallet = '1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa' AND worker = 'rig1'`).
		Scan(&lastSeen)
	if err != nil {
		t.Fatalf("read last_seen: %v", err)
	}
	auth := time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC).Unix()
	if lastSeen <= auth {
		t.Fatalf("shares did not bump last_seen: %d <= %d", lastSeen, auth)
	}

	var accepted, rejected int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM shares WHERE status = 'accepted'`).Scan(&accepted); err != nil {
		t.Fatalf("count accepted: %v", err)
	}
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM shares WHERE status = 'rejected'`).Scan(&rejected); err != nil {
		t.Fatalf("count rejected: %v", err)
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("shares ledger wrong: accepted=%d rejected=%d", accepted, rejected)
	}
	checkSummaryInvariant(t, store.db, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
}

func TestIngestBlocksLedger(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "blocks.jsonl")
	content := `{"height": 850000, "blockhash": "00000000000000000002c0cc73626b56fb3ee1ce605b0ce125cc4fb58775a0a9", "ts": 1720000000, "reward_btc": 3.125, "address": "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"}
{"height": 0, "blockhash": "bad"}
`
	if err := os.WriteFile(ledgerPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write ledger: %v", err)
	}

	store := newTestPresenceStore(t)
	cfg := defaultConfig()
	cfg.BlocksLedger = ledgerPath
	ing := newLogIngester(cfg, store,
		newUserStatsStore(store.db),
		newPoolMetricsStore(store.db),
		newBlocksStore(store.db),
		newSharesStore(store.db),
		newMetaStore(store.db),
		nil)

	if err := ing.ingestBlocksLedger(); err != nil {
		t.Fatalf("ingestBlocksLedger: %v", err)
	}

	blocks, err := newBlocksStore(store.db).Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Height != 850000 {
		t.Fatalf("expected the one valid block, got %+v", blocks)
	}
}
