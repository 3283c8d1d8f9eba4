package strategy

import (
	"testing"
	"time"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

func testBasisConfig() config.BasisStrategyConfig {
	return config.BasisStrategyConfig{
		Enabled:          true,
		Pairs:            []config.BasisPair{{SpotVenue: "alpha", PerpVenue: "charlieperp", Symbol: "BTC/USDT"}},
		MinAnnualizedPct: 8,
		MaxPositionQuote: 5000,
	}
}

func basisVenues() map[string]types.Venue {
	v := testVenues()
	v["charlieperp"] = types.Venue{
		ID:       "charlieperp",
		Category: types.VenuePerpetual,
		Fees:     types.FeeSchedule{TakerRate: d("0.0005")},
	}
	return v
}

func seedBasis(view *fakeView, rate string, now time.Time) {
	view.put("alpha",
		makeTicker(btcUSDT, "49990", "50000", now),
		makeBook(btcUSDT, "49990", "1", "50000", "1", now))
	view.put("charlieperp",
		makeTicker(btcUSDT, "50100", "50110", now),
		makeBook(btcUSDT, "50100", "1", "50110", "1", now))
	view.fundings[viewKey("charlieperp", btcUSDT)] = types.FundingRate{
		Venue:          "charlieperp",
		Symbol:         btcUSDT,
		Rate:           d(rate),
		PeriodsPerYear: 1095,
	}
}

func TestBasisDetectsFundingCapture(t *testing.T) {
	t.Parallel()
	now := time.Now()

	// Annualized 0.0003 × 1095 = 32.85%; basis 0.2%; edge 32.65% ≥ 8%.
	view := newFakeView()
	seedBasis(view, "0.0003", now)

	b := NewBasis(testBasisConfig(), basisVenues())
	out := b.Scan(view, now)
	if len(out) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(out))
	}
	op := out[0]

	if op.Kind != types.KindBasis {
		t.Errorf("kind = %s", op.Kind)
	}
	if len(op.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(op.Legs))
	}

	spot, perp := op.Legs[0], op.Legs[1]
	if spot.Venue != "alpha" || spot.Side != types.Buy {
		t.Errorf("spot leg = %+v", spot)
	}
	if perp.Venue != "charlieperp" || perp.Side != types.Sell {
		t.Errorf("perp leg = %+v", perp)
	}

	// Size is maxPositionQuote / spotAsk with no safety margin.
	if !spot.Amount.Equal(d("0.1")) {
		t.Errorf("size = %s, want 0.1", spot.Amount)
	}
	if !perp.Amount.Equal(spot.Amount) {
		t.Error("legs must be size-matched")
	}

	// 5000 × 32.65% − 5 spot fee − 2.505 perp fee.
	if !op.ProjectedProfitQuote.Equal(d("1624.995")) {
		t.Errorf("projected profit = %s, want 1624.995", op.ProjectedProfitQuote)
	}
}

func TestBasisRejectsNegativeFunding(t *testing.T) {
	t.Parallel()
	now := time.Now()

	view := newFakeView()
	seedBasis(view, "-0.0003", now)

	b := NewBasis(testBasisConfig(), basisVenues())
	if out := b.Scan(view, now); len(out) != 0 {
		t.Errorf("opportunities = %d, want 0 (shorts pay)", len(out))
	}
}

func TestBasisRejectsThinEdge(t *testing.T) {
	t.Parallel()
	now := time.Now()

	// Annualized 5.475% minus 0.2% basis is under the 8% threshold.
	view := newFakeView()
	seedBasis(view, "0.00005", now)

	b := NewBasis(testBasisConfig(), basisVenues())
	if out := b.Scan(view, now); len(out) != 0 {
		t.Errorf("opportunities = %d, want 0", len(out))
	}
}

func TestBasisRequiresFundingData(t *testing.T) {
	t.Parallel()
	now := time.Now()

	view := newFakeView()
	view.put("alpha",
		makeTicker(btcUSDT, "49990", "50000", now),
		makeBook(btcUSDT, "49990", "1", "50000", "1", now))
	view.put("charlieperp",
		makeTicker(btcUSDT, "50100", "50110", now),
		makeBook(btcUSDT, "50100", "1", "50110", "1", now))

	b := NewBasis(testBasisConfig(), basisVenues())
	if out := b.Scan(view, now); len(out) != 0 {
		t.Errorf("opportunities = %d, want 0 without a funding snapshot", len(out))
	}
}
