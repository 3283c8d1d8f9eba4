package portfolio

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcUSDT = types.Symbol{Base: "BTC", Quote: "USDT", AmountPrecision: 8, PricePrecision: 8}

func newTestPortfolio(adapters map[string]venue.Adapter) *Portfolio {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	cfg := config.PortfolioConfig{QuoteAsset: "USDT", ReconcileInterval: time.Minute}
	return New(cfg, adapters, logger)
}

func crossVenueOp() types.Opportunity {
	return types.Opportunity{
		ID:   "op-1",
		Kind: types.KindSimple,
		Legs: []types.Leg{
			{StepIndex: 1, Venue: "alpha", Symbol: btcUSDT, Side: types.Buy, Amount: d("1"), ReferencePrice: d("100")},
			{StepIndex: 2, Venue: "bravo", Symbol: btcUSDT, Side: types.Sell, Amount: d("1"), ReferencePrice: d("101")},
		},
	}
}

func TestReserveAndReleaseExposure(t *testing.T) {
	t.Parallel()

	p := newTestPortfolio(nil)
	p.Reserve("ex-1", crossVenueOp())

	snap := p.Snapshot()
	if !snap.TotalExposureQuote.Equal(d("201")) {
		t.Errorf("total exposure = %s, want 201", snap.TotalExposureQuote)
	}
	if !snap.VenueExposureQuote["alpha"].Equal(d("100")) {
		t.Errorf("alpha exposure = %s, want 100", snap.VenueExposureQuote["alpha"])
	}
	if !snap.VenueExposureQuote["bravo"].Equal(d("101")) {
		t.Errorf("bravo exposure = %s, want 101", snap.VenueExposureQuote["bravo"])
	}

	exec := types.Execution{ID: "ex-1", Status: types.ExecCompleted, RealizedProfit: d("0.8")}
	p.Release(exec, crossVenueOp())

	snap = p.Snapshot()
	if !snap.TotalExposureQuote.IsZero() {
		t.Errorf("exposure = %s, want 0 after release", snap.TotalExposureQuote)
	}
	if !snap.DailyRealizedPnL.Equal(d("0.8")) {
		t.Errorf("daily pnl = %s, want 0.8", snap.DailyRealizedPnL)
	}
}

func TestDailyRealizedLoss(t *testing.T) {
	t.Parallel()

	losing := Snapshot{DailyRealizedPnL: d("-42")}
	if !losing.DailyRealizedLoss().Equal(d("42")) {
		t.Errorf("loss = %s, want 42", losing.DailyRealizedLoss())
	}
	winning := Snapshot{DailyRealizedPnL: d("42")}
	if !winning.DailyRealizedLoss().IsZero() {
		t.Errorf("loss = %s, want 0 on a winning day", winning.DailyRealizedLoss())
	}
}

func TestReleaseOpensBasisPosition(t *testing.T) {
	t.Parallel()

	p := newTestPortfolio(nil)
	op := crossVenueOp()
	op.Kind = types.KindBasis
	p.Reserve("ex-1", op)
	p.Release(types.Execution{ID: "ex-1", Status: types.ExecCompleted}, op)

	snap := p.Snapshot()
	if len(snap.OpenPositions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(snap.OpenPositions))
	}
	pos := snap.OpenPositions[0]
	if pos.ExecutionID != "ex-1" || pos.Venue != "alpha" || pos.Side != types.Buy {
		t.Errorf("position = %+v", pos)
	}
	if !pos.Notional.Equal(d("100")) {
		t.Errorf("notional = %s, want 100", pos.Notional)
	}
	if !pos.Amount.Equal(d("1")) {
		t.Errorf("amount = %s, want the first leg's 1 base unit", pos.Amount)
	}
	// The residual keeps counting toward exposure.
	if !snap.TotalExposureQuote.Equal(d("100")) {
		t.Errorf("exposure = %s, want 100 while the position is open", snap.TotalExposureQuote)
	}

	p.ClosePosition("ex-1")
	snap = p.Snapshot()
	if len(snap.OpenPositions) != 0 {
		t.Error("position should be gone after ClosePosition")
	}
	if !snap.TotalExposureQuote.IsZero() {
		t.Errorf("exposure = %s, want 0 after close", snap.TotalExposureQuote)
	}
}

func TestFailedExecutionLeavesNoPosition(t *testing.T) {
	t.Parallel()

	p := newTestPortfolio(nil)
	op := crossVenueOp()
	op.Kind = types.KindBasis
	p.Reserve("ex-1", op)
	p.Release(types.Execution{ID: "ex-1", Status: types.ExecFailed, RealizedProfit: d("-1")}, op)

	snap := p.Snapshot()
	if len(snap.OpenPositions) != 0 {
		t.Error("failed basis execution must not open a position")
	}
	if !snap.DailyRealizedPnL.Equal(d("-1")) {
		t.Errorf("daily pnl = %s, want -1", snap.DailyRealizedPnL)
	}
}

func TestReleaseAppliesFillsToBalances(t *testing.T) {
	t.Parallel()

	p := newTestPortfolio(nil)
	exec := types.Execution{
		ID:     "ex-1",
		Status: types.ExecCompleted,
		Trades: []types.Trade{
			{Venue: "alpha", Symbol: btcUSDT, Side: types.Buy, FilledAmount: d("1"), AvgFillPrice: d("100"), Fee: d("0.1"), Status: types.TradeFilled},
			{Venue: "bravo", Symbol: btcUSDT, Side: types.Sell, FilledAmount: d("1"), AvgFillPrice: d("101"), Fee: d("0.101"), Status: types.TradeFilled},
		},
	}
	p.Release(exec, crossVenueOp())

	balances := make(map[string]types.Balance)
	for _, b := range p.Snapshot().Balances {
		balances[b.Venue+"|"+b.Asset] = b
	}
	if got := balances["alpha|BTC"].Free; !got.Equal(d("1")) {
		t.Errorf("alpha BTC = %s, want 1", got)
	}
	if got := balances["alpha|USDT"].Free; !got.Equal(d("-100.1")) {
		t.Errorf("alpha USDT = %s, want -100.1", got)
	}
	if got := balances["bravo|BTC"].Free; !got.Equal(d("-1")) {
		t.Errorf("bravo BTC = %s, want -1", got)
	}
	if got := balances["bravo|USDT"].Free; !got.Equal(d("100.899")) {
		t.Errorf("bravo USDT = %s, want 100.899", got)
	}
}

func TestReconcileOverwritesFromVenue(t *testing.T) {
	t.Parallel()

	alpha := venue.NewDemoAdapter(types.Venue{ID: "alpha"})
	alpha.SetBalance("USDT", d("5000"))
	alpha.SetBalance("BTC", d("2"))
	p := newTestPortfolio(map[string]venue.Adapter{"alpha": alpha})

	p.Reconcile(context.Background())

	balances := make(map[string]types.Balance)
	for _, b := range p.Snapshot().Balances {
		balances[b.Venue+"|"+b.Asset] = b
	}
	if got := balances["alpha|USDT"].Free; !got.Equal(d("5000")) {
		t.Errorf("USDT = %s, want 5000", got)
	}
	if got := balances["alpha|BTC"].Free; !got.Equal(d("2")) {
		t.Errorf("BTC = %s, want 2", got)
	}

	// Local drift is overwritten on the next pass; the venue wins.
	p.Release(types.Execution{
		ID:     "ex-1",
		Status: types.ExecCompleted,
		Trades: []types.Trade{
			{Venue: "alpha", Symbol: btcUSDT, Side: types.Buy, FilledAmount: d("1"), AvgFillPrice: d("100"), Status: types.TradeFilled},
		},
	}, crossVenueOp())
	p.Reconcile(context.Background())

	balances = make(map[string]types.Balance)
	for _, b := range p.Snapshot().Balances {
		balances[b.Venue+"|"+b.Asset] = b
	}
	if got := balances["alpha|BTC"].Free; !got.Equal(d("2")) {
		t.Errorf("BTC = %s, want venue-reported 2 after reconcile", got)
	}
}
