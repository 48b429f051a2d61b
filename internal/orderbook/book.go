package orderbook

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceLevel holds all resting orders at a specific price, oldest first
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*Order
}

func (pl *PriceLevel) TotalQuantity() decimal.Decimal {
	var total decimal.Decimal
	for _, o := range pl.Orders {
		total = total.Add(o.Quantity)
	}
	return total
}

// Book is an in-memory order book for the single perpetual instrument.
// Every order in the id index sits in exactly one side's price ladder at
// its limit price with quantity > 0.
type Book struct {
	mu     sync.RWMutex
	bids   []*PriceLevel // Sorted descending by price (best bid first)
	asks   []*PriceLevel // Sorted ascending by price (best ask first)
	orders map[string]*Order
}

func New() *Book {
	return &Book{
		bids:   make([]*PriceLevel, 0),
		asks:   make([]*PriceLevel, 0),
		orders: make(map[string]*Order),
	}
}

// Submit matches an incoming order against the opposite side and returns the
// resulting trades in execution order (best price first, oldest first within
// a level). Any unfilled remainder is left resting at its limit price. The
// book does not validate the order; a non-positive quantity is a no-op.
func (b *Book) Submit(order *Order) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.PlacedAt.IsZero() {
		order.PlacedAt = time.Now()
	}

	if order.Quantity.Sign() <= 0 {
		return nil
	}

	var trades []Trade
	if order.Side == Buy {
		trades = b.matchBuy(order)
	} else {
		trades = b.matchSell(order)
	}

	if order.Quantity.Sign() > 0 {
		b.addToBook(order)
	}

	return trades
}

func (b *Book) matchBuy(order *Order) []Trade {
	var trades []Trade

	// Match against asks (ascending price) while the limit crosses
	for len(b.asks) > 0 && order.Quantity.Sign() > 0 {
		level := b.asks[0]
		if level.Price.GreaterThan(order.Price) {
			break
		}
		trades = append(trades, b.matchAtLevel(order, level)...)
		if len(level.Orders) == 0 {
			b.asks = b.asks[1:]
		}
	}

	return trades
}

func (b *Book) matchSell(order *Order) []Trade {
	var trades []Trade

	// Match against bids (descending price) while the limit crosses
	for len(b.bids) > 0 && order.Quantity.Sign() > 0 {
		level := b.bids[0]
		if level.Price.LessThan(order.Price) {
			break
		}
		trades = append(trades, b.matchAtLevel(order, level)...)
		if len(level.Orders) == 0 {
			b.bids = b.bids[1:]
		}
	}

	return trades
}

func (b *Book) matchAtLevel(incoming *Order, level *PriceLevel) []Trade {
	var trades []Trade

	for len(level.Orders) > 0 && incoming.Quantity.Sign() > 0 {
		resting := level.Orders[0]
		matchQty := decimal.Min(incoming.Quantity, resting.Quantity)

		incoming.Quantity = incoming.Quantity.Sub(matchQty)
		resting.Quantity = resting.Quantity.Sub(matchQty)

		var buyOrder, sellOrder *Order
		if incoming.Side == Buy {
			buyOrder, sellOrder = incoming, resting
		} else {
			buyOrder, sellOrder = resting, incoming
		}

		trades = append(trades, Trade{
			ID:           uuid.New().String(),
			Timestamp:    time.Now(),
			BuyerID:      buyOrder.UserID,
			SellerID:     sellOrder.UserID,
			Quantity:     matchQty,
			Price:        level.Price, // Trade at resting order's price
			BuyOrderID:   buyOrder.ID,
			SellOrderID:  sellOrder.ID,
			BuyLeverage:  buyOrder.Leverage,
			SellLeverage: sellOrder.Leverage,
		})

		if resting.Quantity.Sign() == 0 {
			delete(b.orders, resting.ID)
			level.Orders = level.Orders[1:]
		}
	}

	return trades
}

func (b *Book) addToBook(order *Order) {
	b.orders[order.ID] = order

	if order.Side == Buy {
		b.insertBid(order)
	} else {
		b.insertAsk(order)
	}
}

func (b *Book) insertBid(order *Order) {
	// Find or create price level (bids sorted descending)
	for i, level := range b.bids {
		if level.Price.Equal(order.Price) {
			level.Orders = append(level.Orders, order)
			return
		}
		if level.Price.LessThan(order.Price) {
			newLevel := &PriceLevel{Price: order.Price, Orders: []*Order{order}}
			b.bids = append(b.bids[:i], append([]*PriceLevel{newLevel}, b.bids[i:]...)...)
			return
		}
	}
	b.bids = append(b.bids, &PriceLevel{Price: order.Price, Orders: []*Order{order}})
}

func (b *Book) insertAsk(order *Order) {
	// Find or create price level (asks sorted ascending)
	for i, level := range b.asks {
		if level.Price.Equal(order.Price) {
			level.Orders = append(level.Orders, order)
			return
		}
		if level.Price.GreaterThan(order.Price) {
			newLevel := &PriceLevel{Price: order.Price, Orders: []*Order{order}}
			b.asks = append(b.asks[:i], append([]*PriceLevel{newLevel}, b.asks[i:]...)...)
			return
		}
	}
	b.asks = append(b.asks, &PriceLevel{Price: order.Price, Orders: []*Order{order}})
}

// GetOrder returns a resting order by ID
func (b *Book) GetOrder(orderID string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, exists := b.orders[orderID]
	return order, exists
}

// BookSnapshot is the current aggregated book state
type BookSnapshot struct {
	Bids []LevelSnapshot `json:"bids"`
	Asks []LevelSnapshot `json:"asks"`
}

type LevelSnapshot struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (b *Book) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BookSnapshot{
		Bids: make([]LevelSnapshot, len(b.bids)),
		Asks: make([]LevelSnapshot, len(b.asks)),
	}

	for i, level := range b.bids {
		snap.Bids[i] = LevelSnapshot{Price: level.Price, Quantity: level.TotalQuantity()}
	}
	for i, level := range b.asks {
		snap.Asks[i] = LevelSnapshot{Price: level.Price, Quantity: level.TotalQuantity()}
	}

	return snap
}

// BestBid returns the highest bid price, or zero if no bids
func (b *Book) BestBid() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return decimal.Decimal{}
	}
	return b.bids[0].Price
}

// BestAsk returns the lowest ask price, or zero if no asks
func (b *Book) BestAsk() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return decimal.Decimal{}
	}
	return b.asks[0].Price
}
