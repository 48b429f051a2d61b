package exchange

import (
	"github.com/shopspring/decimal"
)

// SetMarkPrice stores the new mark price, recomputes every user's derived
// PnL and maintenance margin, then sweeps for liquidations at that price.
func (e *Exchange) SetMarkPrice(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.markPrice = price
	ids := e.sortedUserIDs()
	for _, id := range ids {
		e.markUser(e.users[id])
	}
	for _, id := range ids {
		e.checkLiquidation(e.users[id])
	}
}

// markUser recomputes the derived fields from the current mark price.
func (e *Exchange) markUser(u *User) {
	pos := &u.Position
	if !pos.IsOpen() {
		pos.UnrealizedPnL = decimal.Decimal{}
		pos.MaintenanceMargin = decimal.Decimal{}
		return
	}
	if pos.Side == Long {
		pos.UnrealizedPnL = e.markPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
	} else {
		pos.UnrealizedPnL = pos.EntryPrice.Sub(e.markPrice).Mul(pos.Quantity)
	}
	pos.MaintenanceMargin = pos.Quantity.Mul(e.markPrice).Mul(maintenanceMarginRate)
}

// checkLiquidation force-closes the position when equity has fallen below
// the maintenance margin. The unrealized PnL is realized into collateral, a
// liquidation fee is debited, the margin held is released at the mark price,
// and the position resets to flat. Collateral is not clamped at zero.
func (e *Exchange) checkLiquidation(u *User) {
	pos := &u.Position
	if !pos.IsOpen() {
		return
	}
	equity := u.Collateral.Add(pos.UnrealizedPnL)
	if equity.GreaterThanOrEqual(pos.MaintenanceMargin) {
		return
	}

	notional := pos.Quantity.Mul(e.markPrice)
	fee := notional.Mul(liquidationFeeRate)
	released := notional.Div(pos.Leverage)
	u.Collateral = u.Collateral.Add(pos.UnrealizedPnL).Sub(fee).Add(released)
	u.Position = Position{}
}

// ApplyFunding settles one funding interval between longs and shorts. The
// index price defaults to mark × 0.999 unless an override is supplied. Longs
// pay when the rate is positive, shorts pay when it is negative; the
// transfer is zero-sum per unit of open interest and no fee is retained.
// Funding does not recompute PnL and does not trigger liquidations.
func (e *Exchange) ApplyFunding(indexPrice ...decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := e.markPrice.Mul(indexPriceFactor)
	if len(indexPrice) > 0 {
		index = indexPrice[0]
	}
	if index.Sign() == 0 {
		return
	}

	rate := e.markPrice.Sub(index).Div(index).Mul(fundingIntervalFactor)
	if rate.Sign() == 0 {
		return
	}

	for _, id := range e.sortedUserIDs() {
		u := e.users[id]
		pos := &u.Position
		if !pos.IsOpen() {
			continue
		}
		amount := pos.Quantity.Mul(e.markPrice).Mul(rate)
		if pos.Side == Long {
			u.Collateral = u.Collateral.Sub(amount)
		} else {
			u.Collateral = u.Collateral.Add(amount)
		}
	}
}

// FundingRate reports the rate that ApplyFunding would use right now with
// the default index price.
func (e *Exchange) FundingRate() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := e.markPrice.Mul(indexPriceFactor)
	if index.Sign() == 0 {
		return decimal.Decimal{}
	}
	return e.markPrice.Sub(index).Div(index).Mul(fundingIntervalFactor)
}
