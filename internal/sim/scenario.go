package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"perpsim/internal/exchange"
)

// Scheduled event actions
const (
	ActionPlaceOrder   = "PlaceOrder"
	ActionPriceUpdate  = "PriceUpdate"
	ActionApplyFunding = "ApplyFunding"
)

// Event is one scheduled action at a simulated hour.
type Event struct {
	Time     int             `json:"time"`
	Action   string          `json:"action"`
	User     string          `json:"user,omitempty"`
	Side     string          `json:"side,omitempty"`
	Quantity decimal.Decimal `json:"quantity,omitempty"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Leverage decimal.Decimal `json:"leverage,omitempty"`
}

// Scenario is one simulation run: the initial users, an hourly mark price
// series (explicit or synthetic), and scheduled events.
type Scenario struct {
	Users     []exchange.UserConfig `json:"users"`
	Prices    []decimal.Decimal     `json:"prices,omitempty"`
	Events    []Event               `json:"events,omitempty"`
	Synthetic *SyntheticConfig      `json:"synthetic,omitempty"`
}

// Load reads and validates a scenario file. Action and side names are
// normalized case-insensitively; an empty user id, an unknown action, or a
// scenario with no price source is a load error.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.normalize(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) normalize() error {
	if len(sc.Users) == 0 {
		return fmt.Errorf("scenario: no users defined")
	}
	for i, u := range sc.Users {
		if u.ID == "" {
			return fmt.Errorf("scenario: user %d has no id", i)
		}
	}

	for i := range sc.Events {
		ev := &sc.Events[i]
		switch {
		case strings.EqualFold(ev.Action, ActionPlaceOrder):
			ev.Action = ActionPlaceOrder
			if ev.User == "" {
				return fmt.Errorf("scenario: event %d: PlaceOrder without user", i)
			}
			if !strings.EqualFold(ev.Side, "buy") && !strings.EqualFold(ev.Side, "sell") {
				return fmt.Errorf("scenario: event %d: unknown side %q", i, ev.Side)
			}
			ev.Side = strings.ToLower(ev.Side)
		case strings.EqualFold(ev.Action, ActionPriceUpdate):
			ev.Action = ActionPriceUpdate
		case strings.EqualFold(ev.Action, ActionApplyFunding):
			ev.Action = ActionApplyFunding
		default:
			return fmt.Errorf("scenario: event %d: unknown action %q", i, ev.Action)
		}
	}
	// Stable sort keeps file order within an hour
	sort.SliceStable(sc.Events, func(a, b int) bool {
		return sc.Events[a].Time < sc.Events[b].Time
	})

	if len(sc.Prices) == 0 {
		if sc.Synthetic == nil {
			return fmt.Errorf("scenario: no prices and no synthetic config")
		}
		sc.Prices = GeneratePrices(*sc.Synthetic)
	}

	// The run is bounded by the price series; an event past its end would
	// silently never fire.
	for i, ev := range sc.Events {
		if ev.Time < 0 || ev.Time >= len(sc.Prices) {
			return fmt.Errorf("scenario: event %d scheduled at hour %d, outside the %d-hour price series",
				i, ev.Time, len(sc.Prices))
		}
	}
	return nil
}

// EventsAt returns the scheduled events for one hour, in file order.
func (sc *Scenario) EventsAt(hour int) []Event {
	var out []Event
	for _, ev := range sc.Events {
		if ev.Time == hour {
			out = append(out, ev)
		}
	}
	return out
}
