package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"perpsim/internal/orderbook"
)

// Order rejection reasons. PlaceOrder returns one of these without touching
// any state; callers and tests can assert on them directly.
var (
	ErrUnknownUser            = errors.New("unknown user")
	ErrInvalidQuantity        = errors.New("order quantity must be positive")
	ErrInvalidPrice           = errors.New("order price must be positive")
	ErrInvalidLeverage        = errors.New("order leverage must be positive and at most the maximum")
	ErrInsufficientCollateral = errors.New("insufficient available collateral")
)

// MaxLeverage is the highest leverage an order may carry.
var MaxLeverage = decimal.NewFromInt(10)

var (
	maintenanceMarginRate = decimal.RequireFromString("0.05")
	liquidationFeeRate    = decimal.RequireFromString("0.01")
	indexPriceFactor      = decimal.RequireFromString("0.999")
	// One 8-hour funding interval's share of the instantaneous premium
	fundingIntervalFactor = decimal.RequireFromString("0.125")
)

// Exchange owns the user ledger and the order book. One mutex spans every
// public operation so a full place-and-settle or tick-and-sweep sequence is
// applied atomically.
type Exchange struct {
	mu        sync.Mutex
	users     map[string]*User
	book      *orderbook.Book
	markPrice decimal.Decimal
	trades    []orderbook.Trade
}

// New builds an exchange from the initial user set. An empty or duplicate
// user id is a fatal configuration error.
func New(configs []UserConfig) (*Exchange, error) {
	e := &Exchange{
		users: make(map[string]*User, len(configs)),
		book:  orderbook.New(),
	}
	for _, uc := range configs {
		if uc.ID == "" {
			return nil, errors.New("exchange: user config with empty id")
		}
		if _, exists := e.users[uc.ID]; exists {
			return nil, fmt.Errorf("exchange: duplicate user id %q", uc.ID)
		}
		e.users[uc.ID] = &User{ID: uc.ID, Collateral: uc.Collateral}
	}
	return e, nil
}

// PlaceOrder validates and accepts an order, submits it to the book, and
// settles every resulting trade against both counterparties before
// returning. A rejected order leaves all state untouched.
func (e *Exchange) PlaceOrder(order *orderbook.Order) ([]orderbook.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.users[order.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, order.UserID)
	}
	if order.Quantity.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	if order.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if order.Leverage.Sign() <= 0 || order.Leverage.GreaterThan(MaxLeverage) {
		return nil, ErrInvalidLeverage
	}

	order.InitialMargin = order.Quantity.Mul(order.Price).Div(order.Leverage)

	// Collateral is pre-checked only when the order opens or grows a
	// position. Orders that reduce or flip an opposite-side position settle
	// their margin effects after the fill.
	pos := &user.Position
	if !pos.IsOpen() || pos.Side == positionSideOf(order.Side) {
		available := user.Collateral.Sub(pos.marginHeld())
		if available.LessThan(order.InitialMargin) {
			return nil, ErrInsufficientCollateral
		}
	}

	trades := e.book.Submit(order)
	for _, t := range trades {
		e.settle(t)
		e.trades = append(e.trades, t)
	}
	return trades, nil
}

func positionSideOf(s orderbook.Side) PositionSide {
	if s == orderbook.Buy {
		return Long
	}
	return Short
}

// settle applies one trade to both counterparties, each with the leverage
// recorded on its own order.
func (e *Exchange) settle(t orderbook.Trade) {
	if buyer, ok := e.users[t.BuyerID]; ok {
		e.applyFill(buyer, orderbook.Buy, t.Quantity, t.Price, t.BuyLeverage)
	}
	if seller, ok := e.users[t.SellerID]; ok {
		e.applyFill(seller, orderbook.Sell, t.Quantity, t.Price, t.SellLeverage)
	}
}

func (e *Exchange) applyFill(u *User, side orderbook.Side, qty, price, leverage decimal.Decimal) {
	pos := &u.Position
	fillSide := positionSideOf(side)

	if !pos.IsOpen() || pos.Side == fillSide {
		// Opening or increasing: notional-weighted entry price. Leverage is
		// not blended; the latest fill's leverage overwrites the recorded one.
		newQty := pos.Quantity.Add(qty)
		if newQty.Sign() > 0 {
			notional := pos.Quantity.Mul(pos.EntryPrice).Add(qty.Mul(price))
			pos.EntryPrice = notional.Div(newQty)
		} else {
			pos.EntryPrice = price
		}
		pos.Side = fillSide
		pos.Quantity = newQty
		pos.Leverage = leverage
		u.Collateral = u.Collateral.Sub(qty.Mul(price).Div(leverage))
	} else {
		// Reducing or closing: realize PnL for the filled quantity against
		// the existing entry price, release margin held against it at the
		// position's entry price and leverage.
		var realized decimal.Decimal
		if pos.Side == Long {
			realized = price.Sub(pos.EntryPrice).Mul(qty)
		} else {
			realized = pos.EntryPrice.Sub(price).Mul(qty)
		}
		released := qty.Mul(pos.EntryPrice).Div(pos.Leverage)
		u.Collateral = u.Collateral.Add(realized).Add(released)

		if qty.GreaterThanOrEqual(pos.Quantity) {
			// An over-sized reducing fill flattens; the excess never flips
			// the position to the opposite side.
			u.Position = Position{}
		} else {
			pos.Quantity = pos.Quantity.Sub(qty)
		}
	}

	e.markUser(u)
}

// Users returns the live user map. Callers must not mutate it.
func (e *Exchange) Users() map[string]*User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.users
}

// UsersSnapshot returns value copies of every user, safe to read while a
// driver is still mutating the ledger.
func (e *Exchange) UsersSnapshot() map[string]User {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]User, len(e.users))
	for id, u := range e.users {
		out[id] = *u
	}
	return out
}

// User returns a single user by id.
func (e *Exchange) User(id string) (*User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[id]
	return u, ok
}

// TradeHistory returns a copy of the append-only trade log in execution order.
func (e *Exchange) TradeHistory() []orderbook.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]orderbook.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// MarkPrice returns the current mark price.
func (e *Exchange) MarkPrice() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markPrice
}

// Book exposes the order book for read-only snapshots.
func (e *Exchange) Book() *orderbook.Book {
	return e.book
}

// sortedUserIDs keeps per-user sweeps deterministic across runs.
func (e *Exchange) sortedUserIDs() []string {
	ids := make([]string, 0, len(e.users))
	for id := range e.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
