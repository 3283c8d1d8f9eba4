package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

// Basis captures positive perpetual funding: buy spot, sell the perp, and
// collect funding while the basis converges. A pairing is accepted when the
// annualized funding rate minus the absolute basis clears the threshold and
// funding is positive (shorts get paid).
//
// Detection TTL stays short (the scanner's default); the multi-hour hold is
// modeled as the execution's duration, not the opportunity's.
type Basis struct {
	cfg    config.BasisStrategyConfig
	venues map[string]types.Venue
}

// NewBasis builds the funding strategy from its config block.
func NewBasis(cfg config.BasisStrategyConfig, venues map[string]types.Venue) *Basis {
	return &Basis{cfg: cfg, venues: venues}
}

func (b *Basis) Name() string                { return "basis" }
func (b *Basis) Kind() types.OpportunityKind { return types.KindBasis }

// Scan implements Strategy.
func (b *Basis) Scan(view MarketView, now time.Time) []types.Opportunity {
	var out []types.Opportunity
	threshold := decimal.NewFromFloat(b.cfg.MinAnnualizedPct)

	for _, pair := range b.cfg.Pairs {
		symbol, err := types.ParseSymbol(pair.Symbol)
		if err != nil {
			continue
		}

		spot, ok := view.GetTicker(pair.SpotVenue, symbol)
		if !ok || !spot.Ask.IsPositive() {
			continue
		}
		perp, ok := view.GetTicker(pair.PerpVenue, symbol)
		if !ok || !perp.Bid.IsPositive() {
			continue
		}
		funding, ok := view.GetFunding(pair.PerpVenue, symbol)
		if !ok || !funding.Rate.IsPositive() {
			continue
		}

		annualizedPct := funding.Rate.Mul(decimal.NewFromInt(int64(funding.PeriodsPerYear))).Mul(hundred)
		basisPct := perp.Bid.Sub(spot.Ask).Div(spot.Ask).Mul(hundred).Abs()
		edgePct := annualizedPct.Sub(basisPct)
		if edgePct.LessThan(threshold) {
			continue
		}

		out = append(out, b.buildOpportunity(pair, symbol, spot, perp, funding, edgePct, now))
	}
	return out
}

// buildOpportunity plans the two legs: buy spot, sell perp, size bounded by
// MaxPositionQuote at the spot ask. Projected profit is quoted on a one-year
// horizon: the funding edge net of the basis, applied to the spot notional,
// minus both entry fees. Actual capture depends on how long funding stays
// positive; the tracker records what realizes.
func (b *Basis) buildOpportunity(
	pair config.BasisPair,
	symbol types.Symbol,
	spot, perp types.Ticker,
	funding types.FundingRate,
	edgePct decimal.Decimal,
	now time.Time,
) types.Opportunity {
	size := decimal.NewFromFloat(b.cfg.MaxPositionQuote).Div(spot.Ask)
	spotNotional := size.Mul(spot.Ask)
	perpNotional := size.Mul(perp.Bid)
	spotFee := feeFor(b.venues, pair.SpotVenue, spotNotional)
	perpFee := feeFor(b.venues, pair.PerpVenue, perpNotional)

	legs := []types.Leg{
		{
			StepIndex:      1,
			Venue:          pair.SpotVenue,
			Symbol:         symbol,
			Side:           types.Buy,
			Type:           types.OrderTypeLimit,
			Amount:         size,
			ReferencePrice: spot.Ask,
			FeeEstimate:    spotFee,
			MaxLatency:     defaultLegLatency,
		},
		{
			StepIndex:      2,
			Venue:          pair.PerpVenue,
			Symbol:         symbol,
			Side:           types.Sell,
			Type:           types.OrderTypeLimit,
			Amount:         size,
			ReferencePrice: perp.Bid,
			FeeEstimate:    perpFee,
			MaxLatency:     defaultLegLatency,
		},
	}

	profit := spotNotional.Mul(edgePct).Div(hundred).Sub(spotFee).Sub(perpFee)
	profitPct := decimal.Zero
	if spotNotional.IsPositive() {
		profitPct = profit.Div(spotNotional).Mul(hundred)
	}

	venues := []types.Venue{b.venues[pair.SpotVenue], b.venues[pair.PerpVenue]}
	thinnest := decimal.Min(spot.Volume, perp.Volume)
	risks := append(riskFactors(venues, thinnest), timingRisk())

	return types.Opportunity{
		Kind:                 types.KindBasis,
		Symbol:               symbol,
		Legs:                 legs,
		ProjectedProfitQuote: profit,
		ProjectedProfitPct:   profitPct,
		VolumeQuote:          spotNotional,
		Confidence: confidence(2,
			[]time.Time{spot.ObservedAt, perp.ObservedAt}, now),
		Risks:     risks,
		CreatedAt: now,
		Status:    types.OppDetected,
	}
}
