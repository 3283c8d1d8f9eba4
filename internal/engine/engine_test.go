package engine

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/risk"
	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcUSDT = types.Symbol{Base: "BTC", Quote: "USDT", AmountPrecision: 8, PricePrecision: 8}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testEngineConfig() config.Config {
	return config.Config{
		Demo:              true,
		HeartbeatInterval: time.Minute,
		Venues: []config.VenueConfig{
			{ID: "alpha", Name: "Alpha", Category: "demo"},
			{ID: "bravo", Name: "Bravo", Category: "demo"},
		},
		Symbols: []string{"BTC/USDT"},
		Cache: config.CacheConfig{
			StaleAfter:      10 * time.Second,
			PriceAlertPct:   0.01,
			VolumeSpikeMult: 2,
		},
		Scanner: config.ScannerConfig{
			Period:        time.Second,
			SweepInterval: 5 * time.Second,
			MaxActive:     50,
			TTL:           30 * time.Second,
		},
		Strategies: config.StrategySet{
			Simple: config.SimpleStrategyConfig{
				Enabled:          true,
				Symbols:          []string{"BTC/USDT"},
				MinProfitPct:     0.5,
				MaxPositionQuote: 1000,
			},
		},
		Risk: config.RiskConfig{
			GlobalMinProfitPct:    0.1,
			MaxTotalExposureQuote: 50000,
			MaxLossPerDayQuote:    1000,
			Cooldown:              50 * time.Millisecond,
			FlattenOnStop:         true,
		},
		Executor: config.ExecutorConfig{
			MaxConcurrent: 1,
			QueueSize:     2,
			LegTimeout:    time.Second,
			GracePeriod:   time.Second,
		},
		Portfolio: config.PortfolioConfig{QuoteAsset: "USDT", ReconcileInterval: time.Minute},
		Dashboard: config.DashboardConfig{Enabled: false},
	}
}

func TestEmergencyStopFlattensPositions(t *testing.T) {
	t.Parallel()

	eng, err := New(testEngineConfig(), ModeExecute, true, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A market close on the demo venue fills at the standing bid.
	alpha := eng.adapters["alpha"].(*venue.DemoAdapter)
	alpha.SetTicker(types.Ticker{
		Symbol: btcUSDT, Bid: d("100"), Ask: d("101"), Last: d("100"),
		ObservedAt: time.Now(),
	})

	// Book a residual long the way a completed basis execution would.
	op := types.Opportunity{
		ID:   "op-1",
		Kind: types.KindBasis,
		Legs: []types.Leg{{
			StepIndex: 1, Venue: "alpha", Symbol: btcUSDT,
			Side: types.Buy, Amount: d("0.1"), ReferencePrice: d("100"),
		}},
	}
	eng.portfolio.Release(types.Execution{ID: "ex-1", Status: types.ExecCompleted}, op)
	if n := len(eng.portfolio.Snapshot().OpenPositions); n != 1 {
		t.Fatalf("open positions = %d, want 1 before stop", n)
	}

	eng.EmergencyStop("test halt")

	select {
	case <-eng.Fatal():
	default:
		t.Error("fatal channel must close once the emergency stop completes")
	}
	if n := len(eng.portfolio.Snapshot().OpenPositions); n != 0 {
		t.Errorf("open positions = %d, want 0 after flatten", n)
	}
}

func TestDailyLossRebreachEscalates(t *testing.T) {
	t.Parallel()

	eng, err := New(testEngineConfig(), ModeExecute, true, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	breach := types.Event{
		Type:      types.EvRiskLimitBreached,
		Timestamp: time.Now(),
		Payload:   types.RiskLimitPayload{Limit: risk.ReasonDailyLoss, Value: d("1000")},
	}

	// First breach: cooldown only, trading continues.
	eng.handleEvent(breach)
	if eng.isFatal() {
		t.Fatal("first daily-loss breach must not stop the engine")
	}

	// Losses continuing through the cooldown are fatal.
	eng.handleEvent(breach)
	select {
	case <-eng.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("repeated daily-loss breach did not escalate to emergency stop")
	}
}
