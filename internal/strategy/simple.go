package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/marketdata"
	"crossarb/pkg/types"
)

// Simple detects cross-venue price gaps: for a symbol quoted on several
// venues, buy where the ask is low and sell where the bid is higher. At most
// one candidate per symbol is produced per scan; competing venue pairs are
// tie-broken by net profit, then snapshot freshness, then lexicographic
// (buyVenue, sellVenue).
type Simple struct {
	cfg     config.SimpleStrategyConfig
	venues  map[string]types.Venue
	symbols []types.Symbol
	allowed map[string]bool // venue filter; empty = all venues
}

// NewSimple builds the cross-venue strategy from its config block.
func NewSimple(cfg config.SimpleStrategyConfig, venues map[string]types.Venue) (*Simple, error) {
	symbols := make([]types.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		sym, err := types.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	allowed := make(map[string]bool, len(cfg.Venues))
	for _, v := range cfg.Venues {
		allowed[v] = true
	}
	return &Simple{cfg: cfg, venues: venues, symbols: symbols, allowed: allowed}, nil
}

func (s *Simple) Name() string                { return "simple" }
func (s *Simple) Kind() types.OpportunityKind { return types.KindSimple }

// pairCandidate is one (buyVenue, sellVenue) evaluation before tie-breaking.
type pairCandidate struct {
	buy, sell    marketdata.FreshPair
	size         decimal.Decimal
	net          decimal.Decimal
	netPct       decimal.Decimal
	buyNotional  decimal.Decimal
	sellNotional decimal.Decimal
	buyFee       decimal.Decimal
	sellFee      decimal.Decimal
}

// freshness is the age of the older of the two snapshots; later is fresher.
func (p pairCandidate) freshness() time.Time {
	b, s := p.buy.Ticker.ObservedAt, p.sell.Ticker.ObservedAt
	if b.Before(s) {
		return b
	}
	return s
}

// Scan implements Strategy.
func (s *Simple) Scan(view MarketView, now time.Time) []types.Opportunity {
	var out []types.Opportunity
	for _, symbol := range s.symbols {
		fresh := s.eligible(view.ListFresh(symbol))
		best := s.bestPair(fresh)
		if best == nil {
			continue
		}
		out = append(out, s.buildOpportunity(symbol, *best, len(fresh), now))
	}
	return out
}

func (s *Simple) eligible(fresh []marketdata.FreshPair) []marketdata.FreshPair {
	if len(s.allowed) == 0 {
		return fresh
	}
	out := fresh[:0:0]
	for _, f := range fresh {
		if s.allowed[f.Venue] {
			out = append(out, f)
		}
	}
	return out
}

// bestPair evaluates every ordered venue pair and returns the winner, or nil
// when no pair clears the profit threshold.
func (s *Simple) bestPair(fresh []marketdata.FreshPair) *pairCandidate {
	var best *pairCandidate
	for i := range fresh {
		for j := range fresh {
			if i == j {
				continue
			}
			cand := s.evaluate(fresh[i], fresh[j])
			if cand == nil {
				continue
			}
			if best == nil || better(*cand, *best) {
				best = cand
			}
		}
	}
	return best
}

// better applies the tie-break order: higher net, then fresher snapshots,
// then lexicographic (buyVenue, sellVenue).
func better(a, b pairCandidate) bool {
	if !a.net.Equal(b.net) {
		return a.net.GreaterThan(b.net)
	}
	af, bf := a.freshness(), b.freshness()
	if !af.Equal(bf) {
		return af.After(bf)
	}
	if a.buy.Venue != b.buy.Venue {
		return a.buy.Venue < b.buy.Venue
	}
	return a.sell.Venue < b.sell.Venue
}

// evaluate prices one (buy, sell) pair. Tradable size is the minimum of the
// liquidity consumable on the buy asks and sell bids within the depth caps
// and the strategy's position cap, scaled by the safety margin.
func (s *Simple) evaluate(buy, sell marketdata.FreshPair) *pairCandidate {
	buyAsk := buy.Ticker.Ask
	sellBid := sell.Ticker.Bid
	if !buyAsk.LessThan(sellBid) || !buyAsk.IsPositive() {
		return nil
	}

	maxPos := decimal.NewFromFloat(s.cfg.MaxPositionQuote)
	size := decimal.Min(
		consumableBase(buy.Book.Asks),
		consumableBase(sell.Book.Bids),
		maxPos.Div(buyAsk),
	).Mul(safetyMargin)
	if !size.IsPositive() {
		return nil
	}

	buyNotional := size.Mul(buyAsk)
	sellNotional := size.Mul(sellBid)
	buyFee := feeFor(s.venues, buy.Venue, buyNotional)
	sellFee := feeFor(s.venues, sell.Venue, sellNotional)

	net := sellNotional.Sub(buyNotional).Sub(buyFee).Sub(sellFee)
	netPct := net.Div(buyNotional).Mul(hundred)
	if netPct.LessThan(decimal.NewFromFloat(s.cfg.MinProfitPct)) {
		return nil
	}

	return &pairCandidate{
		buy: buy, sell: sell,
		size: size, net: net, netPct: netPct,
		buyNotional: buyNotional, sellNotional: sellNotional,
		buyFee: buyFee, sellFee: sellFee,
	}
}

func (s *Simple) buildOpportunity(symbol types.Symbol, c pairCandidate, freshCount int, now time.Time) types.Opportunity {
	legs := []types.Leg{
		{
			StepIndex:      1,
			Venue:          c.buy.Venue,
			Symbol:         symbol,
			Side:           types.Buy,
			Type:           types.OrderTypeLimit,
			Amount:         c.size,
			ReferencePrice: c.buy.Ticker.Ask,
			FeeEstimate:    c.buyFee,
			MaxLatency:     defaultLegLatency,
		},
		{
			StepIndex:      2,
			Venue:          c.sell.Venue,
			Symbol:         symbol,
			Side:           types.Sell,
			Type:           types.OrderTypeLimit,
			Amount:         c.size,
			ReferencePrice: c.sell.Ticker.Bid,
			FeeEstimate:    c.sellFee,
			MaxLatency:     defaultLegLatency,
		},
	}

	venues := []types.Venue{s.venues[c.buy.Venue], s.venues[c.sell.Venue]}
	thinnest := decimal.Min(c.buy.Ticker.Volume, c.sell.Ticker.Volume)

	return types.Opportunity{
		Kind:                 types.KindSimple,
		Symbol:               symbol,
		Legs:                 legs,
		ProjectedProfitQuote: c.net,
		ProjectedProfitPct:   c.netPct,
		VolumeQuote:          c.buyNotional,
		Confidence: confidence(freshCount,
			[]time.Time{c.buy.Ticker.ObservedAt, c.sell.Ticker.ObservedAt}, now),
		Risks:             riskFactors(venues, thinnest),
		AllowPartialFills: s.cfg.EnablePartialFills,
		CreatedAt:         now,
		Status:            types.OppDetected,
	}
}
