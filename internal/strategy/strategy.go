// Package strategy implements the synthesis functions that turn market
// snapshots into candidate opportunities.
//
// Three strategies are provided:
//
//   - Simple:     cross-venue price gap on one symbol (buy low venue, sell high venue)
//   - Triangular: three-leg cycle across pairs on a single venue
//   - Basis:      buy spot / sell perpetual to capture positive funding
//
// Strategies are pure: they read the market view, never mutate it, and emit
// no events. The scanner drives them on its tick, stamps IDs and TTLs on the
// candidates, and owns deduplication.
package strategy

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/marketdata"
	"crossarb/pkg/types"
)

// MarketView is the read-only cache access handed to strategies.
// *marketdata.Cache satisfies it.
type MarketView interface {
	GetTicker(venue string, symbol types.Symbol) (types.Ticker, bool)
	GetBook(venue string, symbol types.Symbol) (types.OrderBook, bool)
	GetFunding(venue string, symbol types.Symbol) (types.FundingRate, bool)
	ListFresh(symbol types.Symbol) []marketdata.FreshPair
}

// Strategy is one synthesis function. Scan returns zero or more candidates
// with full leg plans; the caller assigns IDs and expiry.
type Strategy interface {
	Name() string
	Kind() types.OpportunityKind
	Scan(view MarketView, now time.Time) []types.Opportunity
}

// Sizing bounds shared by the strategies: liquidity is consumed off a book
// side only within these caps, and the final size takes a safety margin.
var (
	depthQuoteCap = decimal.NewFromInt(10000) // quote units walked per side
	depthBaseCap  = decimal.NewFromInt(100)   // base units walked per side
	safetyMargin  = decimal.NewFromFloat(0.80)

	hundred = decimal.NewFromInt(100)
)

// liquidityVolumeFloor is the 24 h volume under which a liquidity risk
// factor is attached.
var liquidityVolumeFloor = decimal.NewFromInt(100000)

// defaultLegLatency is the per-leg fill deadline stamped on synthesized legs.
const defaultLegLatency = 5 * time.Second

// consumableBase walks book levels accumulating base size until the quote
// cap or base cap is hit, whichever comes first. Returns the base amount
// available inside the caps.
func consumableBase(levels []types.PriceLevel) decimal.Decimal {
	baseTotal := decimal.Zero
	quoteTotal := decimal.Zero
	for _, lvl := range levels {
		size := lvl.Size
		// Trim to the base cap.
		if baseTotal.Add(size).GreaterThan(depthBaseCap) {
			size = depthBaseCap.Sub(baseTotal)
		}
		// Trim to the quote cap.
		levelQuote := size.Mul(lvl.Price)
		if quoteTotal.Add(levelQuote).GreaterThan(depthQuoteCap) {
			remaining := depthQuoteCap.Sub(quoteTotal)
			if !lvl.Price.IsPositive() {
				break
			}
			size = remaining.Div(lvl.Price)
		}
		if !size.IsPositive() {
			break
		}
		baseTotal = baseTotal.Add(size)
		quoteTotal = quoteTotal.Add(size.Mul(lvl.Price))
		if baseTotal.GreaterThanOrEqual(depthBaseCap) || quoteTotal.GreaterThanOrEqual(depthQuoteCap) {
			break
		}
	}
	return baseTotal
}

// confidence scores a candidate in [0,1]: start at 1.0, scale 0.8× when
// fewer than three venue snapshots were available, 0.9× per snapshot older
// than five seconds, floor 0.1. Heuristic only, plain float math.
func confidence(snapshotCount int, observedAts []time.Time, now time.Time) float64 {
	c := 1.0
	if snapshotCount < 3 {
		c *= 0.8
	}
	for _, at := range observedAts {
		if now.Sub(at) > 5*time.Second {
			c *= 0.9
		}
	}
	return math.Max(c, 0.1)
}

// riskFactors derives the advisory tags for a candidate from the venues it
// touches. timing is attached by the triangular and basis strategies
// themselves.
func riskFactors(venues []types.Venue, thinnestVolume decimal.Decimal) []types.RiskFactor {
	var out []types.RiskFactor
	if thinnestVolume.IsPositive() && thinnestVolume.LessThan(liquidityVolumeFloor) {
		out = append(out, types.RiskFactor{
			Kind:     "liquidity",
			Severity: "medium",
			Impact:   "thin 24h volume on at least one venue",
		})
	}
	for _, v := range venues {
		if v.HighRisk {
			out = append(out, types.RiskFactor{
				Kind:     "exchange",
				Severity: "high",
				Impact:   "venue " + v.ID + " flagged high-risk",
			})
			break
		}
	}
	return out
}

// timingRisk is the default tag on multi-step opportunities whose edge
// decays while legs execute.
func timingRisk() types.RiskFactor {
	return types.RiskFactor{Kind: "timing", Severity: "medium", Impact: "edge decays across sequential legs"}
}

// feeFor estimates a leg fee in quote units: notional × the venue taker
// rate (default 0.001 when the venue has no schedule).
func feeFor(venues map[string]types.Venue, venueID string, notional decimal.Decimal) decimal.Decimal {
	rate := types.DefaultFeeRate
	if v, ok := venues[venueID]; ok {
		rate = v.TakerFeeOrDefault()
	}
	return notional.Mul(rate)
}
