package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordNotifier announces worker offline/recovery transitions to a Discord
// channel. State lives in notify_worker_state keyed by wallet+worker hash so
// restarts don't replay old transitions. A nil notifier is valid and inert;
// the core presence path never depends on Discord availability.
type discordNotifier struct {
	session   *discordgo.Session
	channelID string
	db        *sql.DB
}

func newDiscordNotifier(cfg Config, db *sql.DB) (*discordNotifier, error) {
	if cfg.DiscordBotToken == "" || cfg.DiscordChannelID == "" {
		return nil, nil
	}
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)
	return &discordNotifier{
		session:   dg,
		channelID: cfg.DiscordChannelID,
		db:        db,
	}, nil
}

func (n *discordNotifier) start() error {
	if n == nil {
		return nil
	}
	if err := n.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	logger.Info("discord notifier connected", "channel", n.channelID)
	return nil
}

func (n *discordNotifier) stop() {
	if n == nil || n.session == nil {
		return
	}
	_ = n.session.Close()
}

func (n *discordNotifier) send(msg string) {
	if n == nil || n.session == nil {
		return
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, msg); err != nil {
		logger.Warn("discord notify send", "error", err)
	}
}

// workersOffline records sweep demotions and announces each worker that was
// previously known online.
func (n *discordNotifier) workersOffline(demoted []walletWorker, now time.Time) {
	if n == nil || n.db == nil {
		return
	}
	ts := now.Unix()
	for _, ww := range demoted {
		hash := workerNameHash(ww.worker)
		if hash == "" {
			continue
		}

		var online int
		err := n.db.QueryRow(`SELECT online FROM notify_worker_state WHERE wallet = ? AND worker_hash = ?`,
			ww.wallet, hash).Scan(&online)
		if err != nil && err != sql.ErrNoRows {
			logger.Warn("notify state read", "error", err, "wallet", ww.wallet)
			continue
		}
		knownOnline := err == sql.ErrNoRows || online != 0

		if _, err := n.db.Exec(`
			INSERT INTO notify_worker_state (wallet, worker_hash, worker, online, since, notified, updated_at)
			VALUES (?, ?, ?, 0, ?, 1, ?)
			ON CONFLICT(wallet, worker_hash) DO UPDATE SET
				online = 0, since = excluded.since, notified = 1, updated_at = excluded.updated_at
		`, ww.wallet, hash, ww.worker, ts, ts); err != nil {
			logger.Warn("notify state write", "error", err, "wallet", ww.wallet)
			continue
		}

		if knownOnline {
			n.send(fmt.Sprintf(":red_circle: Worker **%s** (%s) went offline", ww.worker, shortWallet(ww.wallet)))
		}
	}
}

// workerSeen records a sighting and announces recovery when the worker was
// previously notified offline.
func (n *discordNotifier) workerSeen(wallet, worker string, now time.Time) {
	if n == nil || n.db == nil {
		return
	}
	hash := workerNameHash(worker)
	if hash == "" {
		return
	}
	ts := now.Unix()

	var online, notified int
	err := n.db.QueryRow(`SELECT online, notified FROM notify_worker_state WHERE wallet = ? AND worker_hash = ?`,
		wallet, hash).Scan(&online, &notified)
	if err != nil && err != sql.ErrNoRows {
		logger.Warn("notify state read", "error", err, "wallet", wallet)
		return
	}
	wasOffline := err == nil && online == 0

	if _, err := n.db.Exec(`
		INSERT INTO notify_worker_state (wallet, worker_hash, worker, online, since, notified, updated_at)
		VALUES (?, ?, ?, 1, ?, 0, ?)
		ON CONFLICT(wallet, worker_hash) DO UPDATE SET
			online = 1, since = excluded.since, notified = 0, updated_at = excluded.updated_at
	`, wallet, hash, worker, ts, ts); err != nil {
		logger.Warn("notify state write", "error", err, "wallet", wallet)
		return
	}

	if wasOffline && notified != 0 {
		n.send(fmt.Sprintf(":green_circle: Worker **%s** (%s) is back online", worker, shortWallet(wallet)))
	}
}

// shortWallet truncates an address for display so channel messages stay
// readable.
func shortWallet(wallet string) string {
	if len(wallet) <= 12 {
		return wallet
	}
	return wallet[:8] + "…" + wallet[len(wallet)-4:]
}
