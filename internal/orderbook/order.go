package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Order is a limit order against the single traded instrument. Quantity is
// the remaining unfilled amount and only ever decreases; every other field
// is fixed once the order is accepted.
type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Leverage      decimal.Decimal `json:"leverage"`
	InitialMargin decimal.Decimal `json:"initial_margin"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// Trade records one fill. It carries immutable snapshots of both orders
// (id, user, leverage) rather than live references, so later changes to a
// resting order's quantity never alias into trade history.
type Trade struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	BuyerID      string          `json:"buyer_id"`
	SellerID     string          `json:"seller_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	BuyLeverage  decimal.Decimal `json:"buy_leverage"`
	SellLeverage decimal.Decimal `json:"sell_leverage"`
}
