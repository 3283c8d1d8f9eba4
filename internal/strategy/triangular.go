package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

// Triangular detects three-leg cycles on a single venue: convert asset A to
// B, B to C, and C back to A. Both cycle directions are priced with the
// correct book side per hop (ask when buying the pair's base, bid when
// selling it); the more profitable direction is kept if it clears the
// threshold after three per-leg fees.
type Triangular struct {
	cfg    config.TriangularStrategyConfig
	venues map[string]types.Venue
}

// NewTriangular builds the triangle strategy from its config block.
func NewTriangular(cfg config.TriangularStrategyConfig, venues map[string]types.Venue) *Triangular {
	return &Triangular{cfg: cfg, venues: venues}
}

func (t *Triangular) Name() string                { return "triangular" }
func (t *Triangular) Kind() types.OpportunityKind { return types.KindTriangular }

// hopQuote prices one conversion step X → Y.
type hopQuote struct {
	symbol     types.Symbol
	side       types.Side
	price      decimal.Decimal // ask for buys, bid for sells
	mult       decimal.Decimal // Y units out per X unit in, after fee
	feeRate    decimal.Decimal
	observedAt time.Time
}

// hop resolves the conversion X → Y on the venue. If pair Y/X trades, the
// hop buys Y at the ask; if pair X/Y trades, it sells X at the bid. Returns
// false when neither orientation has a fresh ticker.
func (t *Triangular) hop(view MarketView, from, to string) (hopQuote, bool) {
	feeRate := types.DefaultFeeRate
	if v, ok := t.venues[t.cfg.Venue]; ok {
		feeRate = v.TakerFeeOrDefault()
	}
	one := decimal.NewFromInt(1)

	buySym := types.Symbol{Base: to, Quote: from, AmountPrecision: 8, PricePrecision: 8}
	if tick, ok := view.GetTicker(t.cfg.Venue, buySym); ok && tick.Ask.IsPositive() {
		return hopQuote{
			symbol:     buySym,
			side:       types.Buy,
			price:      tick.Ask,
			mult:       one.Div(tick.Ask).Mul(one.Sub(feeRate)),
			feeRate:    feeRate,
			observedAt: tick.ObservedAt,
		}, true
	}

	sellSym := types.Symbol{Base: from, Quote: to, AmountPrecision: 8, PricePrecision: 8}
	if tick, ok := view.GetTicker(t.cfg.Venue, sellSym); ok && tick.Bid.IsPositive() {
		return hopQuote{
			symbol:     sellSym,
			side:       types.Sell,
			price:      tick.Bid,
			mult:       tick.Bid.Mul(one.Sub(feeRate)),
			feeRate:    feeRate,
			observedAt: tick.ObservedAt,
		}, true
	}

	return hopQuote{}, false
}

// cycle prices one full direction through the triangle. Returns the three
// hops and the A-units-out per A-unit-in product.
func (t *Triangular) cycle(view MarketView, assets [3]string) ([3]hopQuote, decimal.Decimal, bool) {
	var hops [3]hopQuote
	product := decimal.NewFromInt(1)
	order := [4]string{assets[0], assets[1], assets[2], assets[0]}
	for i := 0; i < 3; i++ {
		h, ok := t.hop(view, order[i], order[i+1])
		if !ok {
			return hops, decimal.Zero, false
		}
		hops[i] = h
		product = product.Mul(h.mult)
	}
	return hops, product, true
}

// Scan implements Strategy.
func (t *Triangular) Scan(view MarketView, now time.Time) []types.Opportunity {
	var out []types.Opportunity
	threshold := decimal.NewFromFloat(t.cfg.MinProfitPct)
	one := decimal.NewFromInt(1)

	for _, tri := range t.cfg.Triangles {
		forward := [3]string{tri.A, tri.B, tri.C}
		reverse := [3]string{tri.A, tri.C, tri.B}

		fwdHops, fwdProduct, fwdOK := t.cycle(view, forward)
		revHops, revProduct, revOK := t.cycle(view, reverse)

		hops, product := fwdHops, fwdProduct
		ok := fwdOK
		if revOK && (!fwdOK || revProduct.GreaterThan(fwdProduct)) {
			hops, product, ok = revHops, revProduct, true
		}
		if !ok {
			continue
		}

		netPct := product.Sub(one).Mul(hundred)
		if netPct.LessThan(threshold) {
			continue
		}

		out = append(out, t.buildOpportunity(hops, product, netPct, now))
	}
	return out
}

// buildOpportunity sizes the cycle from MaxPositionQuote (denominated in the
// triangle's start asset) and propagates proceeds hop to hop, so each leg's
// amount reflects what the prior leg actually yields.
//
// TODO(desk): confirm last-leg sizing; we rescale every leg by intermediate
// proceeds; the legacy scanner reused the first-leg amount on the final hop.
func (t *Triangular) buildOpportunity(hops [3]hopQuote, product, netPct decimal.Decimal, now time.Time) types.Opportunity {
	start := decimal.NewFromFloat(t.cfg.MaxPositionQuote)
	legs := make([]types.Leg, 0, 3)
	holding := start
	observedAts := make([]time.Time, 0, 3)
	totalFees := decimal.Zero

	for i, h := range hops {
		var amount, fee decimal.Decimal
		if h.side == types.Buy {
			// Spending `holding` quote units to buy the pair's base.
			amount = holding.Div(h.price)
			fee = holding.Mul(h.feeRate)
		} else {
			// Selling `holding` base units into the pair's quote.
			amount = holding
			fee = holding.Mul(h.price).Mul(h.feeRate)
		}
		legs = append(legs, types.Leg{
			StepIndex:      i + 1,
			Venue:          t.cfg.Venue,
			Symbol:         h.symbol,
			Side:           h.side,
			Type:           types.OrderTypeLimit,
			Amount:         amount,
			ReferencePrice: h.price,
			FeeEstimate:    fee,
			MaxLatency:     defaultLegLatency,
		})
		totalFees = totalFees.Add(fee)
		observedAts = append(observedAts, h.observedAt)
		holding = holding.Mul(h.mult)
	}

	venue := t.venues[t.cfg.Venue]
	risks := append(riskFactors([]types.Venue{venue}, decimal.Zero), timingRisk())

	return types.Opportunity{
		Kind:                 types.KindTriangular,
		Symbol:               legs[0].Symbol,
		Legs:                 legs,
		ProjectedProfitQuote: holding.Sub(start),
		ProjectedProfitPct:   netPct,
		VolumeQuote:          start,
		Confidence:           confidence(3, observedAts, now),
		Risks:                risks,
		CreatedAt:            now,
		Status:               types.OppDetected,
	}
}
