package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perpsim/internal/exchange"
	"perpsim/internal/orderbook"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryTrades(t *testing.T) {
	s := testStore(t)

	trades := []orderbook.Trade{
		{
			ID: "t1", BuyerID: "alice", SellerID: "bob",
			Quantity: d("0.5"), Price: d("60000.25"),
			BuyOrderID: "o1", SellOrderID: "o2",
			Timestamp: time.Now().Add(-time.Minute),
		},
		{
			ID: "t2", BuyerID: "bob", SellerID: "alice",
			Quantity: d("1"), Price: d("59900"),
			BuyOrderID: "o3", SellOrderID: "o4",
			Timestamp: time.Now(),
		},
	}
	for _, tr := range trades {
		if err := s.RecordTrade(tr); err != nil {
			t.Fatalf("record trade: %v", err)
		}
	}

	n, err := s.TradeCount()
	if err != nil {
		t.Fatalf("trade count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 trades, got %d", n)
	}

	rows, err := s.Trades(10)
	if err != nil {
		t.Fatalf("query trades: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "t1" {
		t.Errorf("trades must come back oldest first, got %s", rows[0].ID)
	}
	if !rows[0].Price.Equal(d("60000.25")) || !rows[0].Quantity.Equal(d("0.5")) {
		t.Errorf("decimals must round-trip exactly, got price=%s qty=%s", rows[0].Price, rows[0].Quantity)
	}
}

func TestRecordTick(t *testing.T) {
	s := testStore(t)

	if err := s.RecordTick(0, d("60000")); err != nil {
		t.Fatalf("record tick: %v", err)
	}
	if err := s.RecordTick(1, d("60100.10")); err != nil {
		t.Fatalf("record tick: %v", err)
	}
}

func TestSnapshotUsers(t *testing.T) {
	s := testStore(t)

	users := map[string]exchange.User{
		"alice": {
			ID:         "alice",
			Collateral: d("99990"),
			Position: exchange.Position{
				Side:          exchange.Long,
				Quantity:      d("1"),
				EntryPrice:    d("60000"),
				Leverage:      d("5"),
				UnrealizedPnL: d("-100"),
			},
		},
		"bob": {ID: "bob", Collateral: d("50000")},
	}

	if err := s.SnapshotUsers(users); err != nil {
		t.Fatalf("snapshot users: %v", err)
	}
	// Upsert: a second snapshot replaces, never duplicates
	bob := users["bob"]
	bob.Collateral = d("49000")
	users["bob"] = bob
	if err := s.SnapshotUsers(users); err != nil {
		t.Fatalf("snapshot users again: %v", err)
	}

	snaps, err := s.FinalSnapshots()
	if err != nil {
		t.Fatalf("final snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].UserID != "alice" || snaps[1].UserID != "bob" {
		t.Errorf("snapshots must sort by user id: %+v", snaps)
	}
	if snaps[0].Side != "long" || !snaps[0].EntryPrice.Equal(d("60000")) {
		t.Errorf("position fields must round-trip: %+v", snaps[0])
	}
	if !snaps[0].Equity.Equal(d("99890")) {
		t.Errorf("equity must be collateral+upnl, got %s", snaps[0].Equity)
	}
	if !snaps[1].Collateral.Equal(d("49000")) {
		t.Errorf("second snapshot must replace the first, got %s", snaps[1].Collateral)
	}
}
