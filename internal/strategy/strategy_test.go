package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/marketdata"
	"crossarb/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcUSDT = types.Symbol{Base: "BTC", Quote: "USDT", AmountPrecision: 8, PricePrecision: 8}

// fakeView is an in-memory MarketView for strategy tests.
type fakeView struct {
	tickers  map[string]types.Ticker
	books    map[string]types.OrderBook
	fundings map[string]types.FundingRate
}

func newFakeView() *fakeView {
	return &fakeView{
		tickers:  make(map[string]types.Ticker),
		books:    make(map[string]types.OrderBook),
		fundings: make(map[string]types.FundingRate),
	}
}

func viewKey(venue string, sym types.Symbol) string { return venue + "|" + sym.Key() }

func (f *fakeView) put(venue string, t types.Ticker, b types.OrderBook) {
	t.Venue, b.Venue = venue, venue
	f.tickers[viewKey(venue, t.Symbol)] = t
	f.books[viewKey(venue, b.Symbol)] = b
}

func (f *fakeView) GetTicker(venue string, sym types.Symbol) (types.Ticker, bool) {
	t, ok := f.tickers[viewKey(venue, sym)]
	return t, ok
}

func (f *fakeView) GetBook(venue string, sym types.Symbol) (types.OrderBook, bool) {
	b, ok := f.books[viewKey(venue, sym)]
	return b, ok
}

func (f *fakeView) GetFunding(venue string, sym types.Symbol) (types.FundingRate, bool) {
	fr, ok := f.fundings[viewKey(venue, sym)]
	return fr, ok
}

func (f *fakeView) ListFresh(sym types.Symbol) []marketdata.FreshPair {
	var out []marketdata.FreshPair
	for key, t := range f.tickers {
		if t.Symbol.Key() != sym.Key() {
			continue
		}
		b, ok := f.books[key]
		if !ok {
			continue
		}
		out = append(out, marketdata.FreshPair{Venue: t.Venue, Ticker: t, Book: b})
	}
	return out
}

func makeTicker(sym types.Symbol, bid, ask string, at time.Time) types.Ticker {
	return types.Ticker{
		Symbol:     sym,
		Bid:        d(bid),
		Ask:        d(ask),
		Last:       d(bid),
		Volume:     d("5000000"),
		ObservedAt: at,
	}
}

func makeBook(sym types.Symbol, bid, bidSize, ask, askSize string, at time.Time) types.OrderBook {
	return types.OrderBook{
		Symbol:     sym,
		Bids:       []types.PriceLevel{{Price: d(bid), Size: d(bidSize)}},
		Asks:       []types.PriceLevel{{Price: d(ask), Size: d(askSize)}},
		ObservedAt: at,
	}
}

func TestConsumableBaseQuoteCap(t *testing.T) {
	t.Parallel()

	// 200 base at price 100 would be 20k quote; the 10k quote cap limits
	// consumption to 100 base, which also equals the base cap.
	levels := []types.PriceLevel{{Price: d("100"), Size: d("200")}}
	got := consumableBase(levels)
	if !got.Equal(d("100")) {
		t.Errorf("consumable = %s, want 100", got)
	}
}

func TestConsumableBaseBaseCap(t *testing.T) {
	t.Parallel()

	// Cheap asset: base cap binds before the quote cap.
	levels := []types.PriceLevel{{Price: d("1"), Size: d("500")}}
	got := consumableBase(levels)
	if !got.Equal(d("100")) {
		t.Errorf("consumable = %s, want 100 (base cap)", got)
	}
}

func TestConsumableBaseWalksLevels(t *testing.T) {
	t.Parallel()

	levels := []types.PriceLevel{
		{Price: d("100"), Size: d("10")},
		{Price: d("101"), Size: d("10")},
	}
	// 10×100 + 10×101 = 2010 quote, well under both caps.
	got := consumableBase(levels)
	if !got.Equal(d("20")) {
		t.Errorf("consumable = %s, want 20", got)
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()
	now := time.Now()
	fresh := []time.Time{now, now}

	if got := confidence(3, fresh, now); got != 1.0 {
		t.Errorf("3 fresh snapshots: confidence = %v, want 1.0", got)
	}
	if got := confidence(2, fresh, now); got != 0.8 {
		t.Errorf("2 snapshots: confidence = %v, want 0.8", got)
	}

	aged := []time.Time{now.Add(-6 * time.Second), now}
	got := confidence(3, aged, now)
	if got < 0.89 || got > 0.91 {
		t.Errorf("one aged snapshot: confidence = %v, want 0.9", got)
	}

	// Floor at 0.1 no matter how bad the inputs.
	veryOld := []time.Time{}
	for i := 0; i < 30; i++ {
		veryOld = append(veryOld, now.Add(-time.Minute))
	}
	if got := confidence(1, veryOld, now); got != 0.1 {
		t.Errorf("confidence floor = %v, want 0.1", got)
	}
}

func TestRiskFactors(t *testing.T) {
	t.Parallel()

	venues := []types.Venue{{ID: "alpha"}, {ID: "shady", HighRisk: true}}
	out := riskFactors(venues, d("50000"))

	var kinds []string
	for _, r := range out {
		kinds = append(kinds, r.Kind)
	}
	if len(out) != 2 {
		t.Fatalf("risk factors = %v, want liquidity and exchange", kinds)
	}
	if out[0].Kind != "liquidity" || out[1].Kind != "exchange" {
		t.Errorf("risk factors = %v", kinds)
	}

	if got := riskFactors([]types.Venue{{ID: "alpha"}}, d("5000000")); len(got) != 0 {
		t.Errorf("healthy venue/volume should carry no risk factors: %v", got)
	}
}

func TestFeeFor(t *testing.T) {
	t.Parallel()

	venues := map[string]types.Venue{
		"alpha": {ID: "alpha", Fees: types.FeeSchedule{TakerRate: d("0.002")}},
	}
	if got := feeFor(venues, "alpha", d("1000")); !got.Equal(d("2")) {
		t.Errorf("fee = %s, want 2", got)
	}
	// Unknown venue falls back to the default 10 bps.
	if got := feeFor(venues, "unknown", d("1000")); !got.Equal(d("1")) {
		t.Errorf("default fee = %s, want 1", got)
	}
}
