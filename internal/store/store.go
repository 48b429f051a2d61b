package store

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"perpsim/internal/exchange"
	"perpsim/internal/orderbook"

	_ "modernc.org/sqlite"
)

// Store records one simulation run to SQLite for reporting: the trade log,
// the mark price series, and final per-user snapshots. Monetary values are
// stored as canonical decimal strings, never as floats. The store is
// write-once per run; it is never read back to seed another run.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the run database and initializes the schema.
// Use ":memory:" for a throwaway store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		buy_order_id TEXT NOT NULL,
		sell_order_id TEXT NOT NULL,
		executed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ticks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		hour INTEGER NOT NULL,
		mark_price TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_snapshots (
		user_id TEXT PRIMARY KEY,
		collateral TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		equity TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer_id);
	CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordTrade appends one executed trade.
func (s *Store) RecordTrade(t orderbook.Trade) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (id, buyer_id, seller_id, quantity, price, buy_order_id, sell_order_id, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BuyerID, t.SellerID, t.Quantity.String(), t.Price.String(),
		t.BuyOrderID, t.SellOrderID, t.Timestamp,
	)
	return err
}

// RecordTick appends one mark price tick.
func (s *Store) RecordTick(hour int, mark decimal.Decimal) error {
	_, err := s.db.Exec(
		"INSERT INTO ticks (hour, mark_price) VALUES (?, ?)",
		hour, mark.String(),
	)
	return err
}

// SnapshotUsers upserts the ledger state of every user. It takes value
// snapshots (exchange.UsersSnapshot) rather than live users, so recording
// never races with settlement.
func (s *Store) SnapshotUsers(users map[string]exchange.User) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for id, u := range users {
		pos := u.Position
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO user_snapshots
			 (user_id, collateral, side, quantity, entry_price, unrealized_pnl, equity, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, u.Collateral.String(), pos.Side.String(), pos.Quantity.String(),
			pos.EntryPrice.String(), pos.UnrealizedPnL.String(), u.Equity().String(), now,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TradeCount returns the number of recorded trades.
func (s *Store) TradeCount() (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM trades").Scan(&n)
	return n, err
}

// TradeRow is one recorded trade, with decimals re-parsed from storage.
type TradeRow struct {
	ID         string
	BuyerID    string
	SellerID   string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ExecutedAt time.Time
}

// Trades returns the most recent trades, oldest first.
func (s *Store) Trades(limit int) ([]TradeRow, error) {
	rows, err := s.db.Query(
		`SELECT id, buyer_id, seller_id, quantity, price, executed_at
		 FROM trades ORDER BY executed_at LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var tr TradeRow
		var qty, price string
		if err := rows.Scan(&tr.ID, &tr.BuyerID, &tr.SellerID, &qty, &price, &tr.ExecutedAt); err != nil {
			return nil, err
		}
		if tr.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// Snapshot is one user's recorded final state.
type Snapshot struct {
	UserID        string
	Collateral    decimal.Decimal
	Side          string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal
}

// FinalSnapshots returns the recorded user states, sorted by user id.
func (s *Store) FinalSnapshots() ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT user_id, collateral, side, quantity, entry_price, unrealized_pnl, equity
		 FROM user_snapshots ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		var collateral, qty, entry, upnl, equity string
		if err := rows.Scan(&sn.UserID, &collateral, &sn.Side, &qty, &entry, &upnl, &equity); err != nil {
			return nil, err
		}
		if sn.Collateral, err = decimal.NewFromString(collateral); err != nil {
			return nil, err
		}
		if sn.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if sn.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if sn.UnrealizedPnL, err = decimal.NewFromString(upnl); err != nil {
			return nil, err
		}
		if sn.Equity, err = decimal.NewFromString(equity); err != nil {
			return nil, err
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}
