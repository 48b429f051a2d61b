package sim

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpsim/internal/exchange"
	"perpsim/internal/orderbook"
)

// FundingIntervalHours is how often funding settles automatically.
const FundingIntervalHours = 8

// Driver steps an exchange through a scenario, one simulated hour at a time:
// the hour's scheduled events first, then the hourly mark price tick, then
// funding on every 8th hour. All state is explicit; one Driver is one run.
type Driver struct {
	ex       *exchange.Exchange
	scenario *Scenario
	hour     int

	// Optional hooks, invoked synchronously; nil is fine.
	OnTrade func(orderbook.Trade)
	OnTick  func(hour int, mark decimal.Decimal)

	// TickDelay slows the run down so live observers can follow.
	TickDelay time.Duration
}

func NewDriver(ex *exchange.Exchange, sc *Scenario) *Driver {
	return &Driver{ex: ex, scenario: sc}
}

// Run executes the whole scenario.
func (d *Driver) Run() {
	for hour, price := range d.scenario.Prices {
		d.hour = hour
		for _, ev := range d.scenario.EventsAt(hour) {
			d.apply(ev)
		}
		d.tick(price)
		if (hour+1)%FundingIntervalHours == 0 {
			d.ex.ApplyFunding()
		}
		if d.TickDelay > 0 {
			time.Sleep(d.TickDelay)
		}
	}
}

func (d *Driver) apply(ev Event) {
	switch ev.Action {
	case ActionPlaceOrder:
		side := orderbook.Buy
		if strings.EqualFold(ev.Side, "sell") {
			side = orderbook.Sell
		}
		order := &orderbook.Order{
			UserID:   ev.User,
			Side:     side,
			Quantity: ev.Quantity,
			Price:    ev.Price,
			Leverage: ev.Leverage,
		}
		trades, err := d.ex.PlaceOrder(order)
		if err != nil {
			log.Printf("hour %d: order rejected for %s: %v", d.hour, ev.User, err)
			return
		}
		for _, t := range trades {
			if d.OnTrade != nil {
				d.OnTrade(t)
			}
		}
	case ActionPriceUpdate:
		d.tick(ev.Price)
	case ActionApplyFunding:
		d.ex.ApplyFunding()
	}
}

func (d *Driver) tick(price decimal.Decimal) {
	if price.Sign() <= 0 {
		log.Printf("hour %d: ignoring non-positive mark price %s", d.hour, price)
		return
	}
	d.ex.SetMarkPrice(price)
	if d.OnTick != nil {
		d.OnTick(d.hour, price)
	}
}
