package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

// Demo mode backs every venue with an in-memory adapter. This file seeds
// those adapters and keeps their market data moving: each venue walks its
// own mid price with small random steps, which periodically opens
// cross-venue gaps wide enough for the simple strategy to trade.

var demoBasePrices = map[string]float64{
	"BTC": 65000,
	"ETH": 3200,
	"SOL": 150,
}

const demoFundingRate = 0.0003 // per 8h period, attractive enough to detect

// demoState carries one venue's walking mid price per symbol.
type demoState struct {
	adapter *venue.DemoAdapter
	mids    map[string]decimal.Decimal
}

// startDemoFeed seeds the demo adapters and launches the feed loop.
func (e *Engine) startDemoFeed(ctx context.Context) {
	states := make([]*demoState, 0, len(e.adapters))
	for id, ad := range e.adapters {
		demo, ok := ad.(*venue.DemoAdapter)
		if !ok {
			continue
		}
		st := &demoState{adapter: demo, mids: make(map[string]decimal.Decimal)}
		for _, sym := range e.symbols {
			base := demoBasePrices[sym.Base]
			if base == 0 {
				base = 100
			}
			// Venues start at slightly different levels so gaps exist
			// from the first tick.
			st.mids[sym.Key()] = decimal.NewFromFloat(base * (1 + (rand.Float64()-0.5)*0.004))
			demo.SetBalance(sym.Base, decimal.NewFromInt(10))
		}
		demo.SetBalance(e.cfg.Portfolio.QuoteAsset, decimal.NewFromInt(1_000_000))
		if e.venues[id].Category == types.VenuePerpetual {
			for _, sym := range e.symbols {
				demo.SetFunding(types.FundingRate{
					Symbol:         sym,
					Rate:           decimal.NewFromFloat(demoFundingRate),
					PeriodsPerYear: 1095,
					NextFundingAt:  time.Now().Add(8 * time.Hour),
				})
			}
		}
		states = append(states, st)
	}
	if len(states) == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		tick := time.NewTicker(ingestInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				for _, st := range states {
					e.stepDemoVenue(st)
				}
			}
		}
	}()
}

// stepDemoVenue advances one venue's prices and republishes tickers and
// books with a fresh timestamp.
func (e *Engine) stepDemoVenue(st *demoState) {
	now := time.Now()
	for _, sym := range e.symbols {
		mid := st.mids[sym.Key()]
		step := decimal.NewFromFloat((rand.Float64() - 0.5) * 0.003)
		mid = mid.Mul(decimal.NewFromInt(1).Add(step))
		st.mids[sym.Key()] = mid

		halfSpread := mid.Mul(decimal.NewFromFloat(0.0005))
		bid := mid.Sub(halfSpread)
		ask := mid.Add(halfSpread)

		st.adapter.SetTicker(types.Ticker{
			Symbol:     sym,
			Bid:        bid,
			Ask:        ask,
			Last:       mid,
			Volume:     decimal.NewFromInt(5_000_000),
			ObservedAt: now,
		})
		st.adapter.SetBook(demoBook(sym, bid, ask, now))
	}
}

// demoBook builds a five-level two-sided book around the touch.
func demoBook(sym types.Symbol, bid, ask decimal.Decimal, now time.Time) types.OrderBook {
	tickSize := ask.Sub(bid)
	size := decimal.NewFromInt(2)

	book := types.OrderBook{Symbol: sym, ObservedAt: now}
	for i := 0; i < 5; i++ {
		offset := tickSize.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, types.PriceLevel{Price: bid.Sub(offset), Size: size})
		book.Asks = append(book.Asks, types.PriceLevel{Price: ask.Add(offset), Size: size})
	}
	return book
}
