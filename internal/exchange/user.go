package exchange

import (
	"github.com/shopspring/decimal"
)

type PositionSide int

const (
	Flat PositionSide = iota
	Long
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Position is a user's single net exposure in the traded instrument.
// Quantity == 0 is the canonical flat state; UnrealizedPnL and
// MaintenanceMargin are derived from the current mark price and are zero
// whenever the position is flat.
type Position struct {
	Side              PositionSide    `json:"side"`
	Quantity          decimal.Decimal `json:"quantity"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	Leverage          decimal.Decimal `json:"leverage"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
}

func (p *Position) IsOpen() bool {
	return p.Quantity.Sign() > 0
}

// marginHeld is the collateral reserved against the open position,
// at its entry price and recorded leverage.
func (p *Position) marginHeld() decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Decimal{}
	}
	return p.Quantity.Mul(p.EntryPrice).Div(p.Leverage)
}

// User holds collateral and at most one net position. Users are created at
// construction time and only collateral and position mutate afterwards.
type User struct {
	ID         string          `json:"id"`
	Collateral decimal.Decimal `json:"collateral"`
	Position   Position        `json:"position"`
}

// Equity is collateral plus unrealized PnL at the last mark price.
func (u *User) Equity() decimal.Decimal {
	return u.Collateral.Add(u.Position.UnrealizedPnL)
}

// UserConfig seeds one user at exchange construction.
type UserConfig struct {
	ID         string          `json:"id"`
	Collateral decimal.Decimal `json:"collateral"`
}
