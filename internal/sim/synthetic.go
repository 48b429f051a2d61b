package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticConfig generates an hourly mark price series when the scenario
// does not supply one explicitly.
type SyntheticConfig struct {
	Hours      int     `json:"hours"`
	BasePrice  float64 `json:"basePrice"`
	Volatility float64 `json:"volatility"` // Daily volatility as decimal (e.g., 0.02 = 2%)
	Seed       int64   `json:"seed,omitempty"`
}

// GeneratePrices creates a mean-reverting random walk around the base price.
// Prices are rounded to 2 places before entering the engine so the core only
// ever sees exact decimals. A zero seed draws a fresh path each run.
func GeneratePrices(cfg SyntheticConfig) []decimal.Decimal {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	hours := cfg.Hours
	if hours <= 0 {
		hours = 24
	}
	base := cfg.BasePrice
	if base <= 0 {
		base = 60000
	}
	vol := cfg.Volatility
	if vol <= 0 {
		vol = 0.02
	}

	// Per-hour volatility over a 24-hour day, with mild mean reversion
	hourVol := vol / math.Sqrt(24)
	meanReversionStrength := 0.05

	prices := make([]decimal.Decimal, hours)
	price := base
	for i := 0; i < hours; i++ {
		drift := meanReversionStrength * (base - price)
		noise := rng.NormFloat64() * hourVol * price
		price += drift + noise
		if price < 1 {
			price = 1
		}
		prices[i] = decimal.NewFromFloat(price).Round(2)
	}
	return prices
}
