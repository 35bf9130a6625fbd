package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// foundBlock is a block the pool solved, as recorded from ckpool's log.
type foundBlock struct {
	Height    int64   `json:"height"`
	BlockHash string  `json:"blockhash"`
	TS        int64   `json:"ts"`
	RewardBTC float64 `json:"reward_btc"`
	TxID      string  `json:"txid"`
	Address   string  `json:"address"`
}

type blocksStore struct {
	db *sql.DB
}

func newBlocksStore(db *sql.DB) *blocksStore {
	return &blocksStore{db: db}
}

// Record upserts a found block by height. The hash is round-tripped through
// chainhash so malformed log lines never reach the table.
func (s *blocksStore) Record(b foundBlock) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("blocks store not initialized")
	}
	if b.Height <= 0 {
		return fmt.Errorf("record block: invalid height %d", b.Height)
	}
	b.BlockHash = strings.TrimSpace(b.BlockHash)
	if b.BlockHash != "" {
		h, err := chainhash.NewHashFromStr(b.BlockHash)
		if err != nil {
			return fmt.Errorf("record block %d: bad hash %q: %w", b.Height, b.BlockHash, err)
		}
		b.BlockHash = h.String()
	}
	_, err := s.db.Exec(`
		INSERT INTO blocks (height, blockhash, ts, reward_btc, txid, address)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(height) DO UPDATE SET
			blockhash = excluded.blockhash,
			ts = excluded.ts,
			reward_btc = excluded.reward_btc,
			txid = excluded.txid,
			address = excluded.address
	`, b.Height, b.BlockHash, b.TS, b.RewardBTC, b.TxID, b.Address)
	if err != nil {
		return fmt.Errorf("record block %d: %w", b.Height, err)
	}
	return nil
}

// Recent returns up to limit blocks, newest first.
func (s *blocksStore) Recent(limit int) ([]foundBlock, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("blocks store not initialized")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT height, blockhash, ts, reward_btc, txid, address
		FROM blocks ORDER BY height DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent blocks: %w", err)
	}
	defer rows.Close()

	var out []foundBlock
	for rows.Next() {
		var (
			b      foundBlock
			hash   sql.NullString
			txid   sql.NullString
			addr   sql.NullString
			ts     sql.NullInt64
			reward sql.NullFloat64
		)
		if err := rows.Scan(&b.Height, &hash, &ts, &reward, &txid, &addr); err != nil {
			return nil, err
		}
		b.BlockHash = hash.String
		b.TS = ts.Int64
		b.RewardBTC = reward.Float64
		b.TxID = txid.String
		b.Address = addr.String
		out = append(out, b)
	}
	return out, rows.Err()
}
