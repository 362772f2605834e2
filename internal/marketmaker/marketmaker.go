// Package marketmaker implements an Avellaneda-Stoikov market maker adapted
// to 0-100-cent binary prediction markets, grounded on
// _examples/original_source/backend/app/manager/market_maker.py.
package marketmaker

import (
	"math"
	"sync"
)

// Config holds algorithm parameters — not derived from the forecast, these
// control the MM's risk tolerance and quote behavior.
type Config struct {
	// RiskAversion (gamma) controls how much the MM dislikes holding
	// inventory; lower shifts quotes more gradually with position.
	RiskAversion float64
	// LiquidityParam (k) is the order-arrival-rate parameter; higher
	// implies tighter spreads.
	LiquidityParam float64
	// TerminalTime (T) is the time horizon in seconds.
	TerminalTime float64
	// VolatilityBase (sigma_base) is volatility at confidence=0.
	VolatilityBase float64
	// MinSpread is the floor on quoted spread, in cents.
	MinSpread int
	// MaxInventory bounds inventory before the MM would become very
	// aggressive; carried for callers to enforce, not applied internally.
	MaxInventory int
}

// DefaultConfig mirrors the Python source's MMConfig defaults.
func DefaultConfig() Config {
	return Config{
		RiskAversion:   0.003,
		LiquidityParam: 1.2,
		TerminalTime:   60.0,
		VolatilityBase: 3.5,
		MinSpread:      2,
		MaxInventory:   100,
	}
}

// MarketMaker quotes bid/ask around a reservation price derived from a
// forecasted probability and confidence.
type MarketMaker struct {
	mu     sync.Mutex
	config Config

	midPrice float64
	sigma    float64

	inventory int
	cash      float64

	originalProbability float64
	originalConfidence  float64
}

// New builds a MarketMaker from a forecasted probability p in [0,1] and
// confidence c in [0,1].
func New(p, c float64, config Config) *MarketMaker {
	return &MarketMaker{
		config:              config,
		midPrice:            p * 100.0,
		sigma:               config.VolatilityBase * (1.0 - c),
		originalProbability: p,
		originalConfidence:  c,
	}
}

// GetQuotes computes (bid, ask) in integer cents at simulation time t.
// Returns (0, 0, false) if the market is closed (dt <= 0).
func (mm *MarketMaker) GetQuotes(t float64) (bid, ask int, ok bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	T := mm.config.TerminalTime
	if t > T {
		t = T
	}
	dt := T - t
	if dt <= 0 {
		return 0, 0, false
	}

	inventoryAdjustment := float64(mm.inventory) * mm.config.RiskAversion * (mm.sigma * mm.sigma) * dt
	reservationPrice := mm.midPrice - inventoryAdjustment

	spreadTimeRisk := mm.config.RiskAversion * (mm.sigma * mm.sigma) * dt
	spreadAdverseSelection := (2.0 / mm.config.RiskAversion) * math.Log(1.0+mm.config.RiskAversion/mm.config.LiquidityParam)
	optimalSpread := spreadTimeRisk + spreadAdverseSelection
	if optimalSpread < float64(mm.config.MinSpread) {
		optimalSpread = float64(mm.config.MinSpread)
	}

	bidPrice := reservationPrice - optimalSpread/2.0
	askPrice := reservationPrice + optimalSpread/2.0

	bid = clamp(int(math.Round(bidPrice)), 1, 99)
	ask = clamp(int(math.Round(askPrice)), 1, 99)

	if bid >= ask {
		if bid > 1 {
			bid--
		}
		if ask < 99 {
			ask++
		}
	}

	return bid, ask, true
}

// OnFill updates inventory and cash after one of the MM's own orders fills.
func (mm *MarketMaker) OnFill(quantity int, side string, price int) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	switch side {
	case "buy":
		mm.inventory += quantity
		mm.cash -= float64(quantity * price)
	case "sell":
		mm.inventory -= quantity
		mm.cash += float64(quantity * price)
	}
}

// UpdateBelief blends the MM's mid price toward a new observed market price.
// alpha=0 keeps the original forecast belief fixed; alpha=1 fully adopts
// marketPrice. So the MM can re-center mid-session rather than drift
// away from where the market actually trades.
func (mm *MarketMaker) UpdateBelief(marketPrice, alpha float64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.midPrice = (1-alpha)*mm.midPrice + alpha*marketPrice
}

// State is a snapshot of the MM's internal state for logging/debugging.
type State struct {
	MidPrice            float64 `json:"mid_price"`
	Sigma               float64 `json:"sigma"`
	Inventory           int     `json:"inventory"`
	Cash                float64 `json:"cash"`
	OriginalProbability float64 `json:"original_probability"`
	OriginalConfidence  float64 `json:"original_confidence"`
}

// GetState returns the MM's current state.
func (mm *MarketMaker) GetState() State {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return State{
		MidPrice:            mm.midPrice,
		Sigma:               mm.sigma,
		Inventory:           mm.inventory,
		Cash:                mm.cash,
		OriginalProbability: mm.originalProbability,
		OriginalConfidence:  mm.originalConfidence,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
