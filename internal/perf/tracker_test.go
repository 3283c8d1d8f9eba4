package perf

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func finished(profit, fees string, status types.ExecutionStatus, completedAt time.Time) types.Execution {
	return types.Execution{
		ID:             "ex",
		Status:         status,
		RealizedProfit: d(profit),
		TotalFees:      d(fees),
		StartedAt:      completedAt.Add(-100 * time.Millisecond),
		CompletedAt:    completedAt,
	}
}

func TestTrackerCountsAndSuccessRate(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tr := New()
	tr.ExecutionStarted()
	tr.ExecutionStarted()
	tr.ExecutionStarted()
	tr.ExecutionFinished(finished("1", "0.1", types.ExecCompleted, now))
	tr.ExecutionFinished(finished("-0.5", "0.1", types.ExecFailed, now))
	// Third execution still in flight.

	s := tr.Stats()
	if s.TotalExecutions != 3 {
		t.Errorf("total = %d, want 3", s.TotalExecutions)
	}
	if s.SuccessfulExecutions != 1 {
		t.Errorf("successful = %d, want 1", s.SuccessfulExecutions)
	}
	if want := 1.0 / 3.0; math.Abs(s.SuccessRate-want) > 1e-9 {
		t.Errorf("success rate = %v, want %v", s.SuccessRate, want)
	}
	if !s.CumulativeProfit.Equal(d("0.5")) {
		t.Errorf("cumulative profit = %s, want 0.5", s.CumulativeProfit)
	}
	if !s.CumulativeFees.Equal(d("0.2")) {
		t.Errorf("cumulative fees = %s, want 0.2", s.CumulativeFees)
	}
	if !s.AvgProfit.Equal(d("0.25")) {
		t.Errorf("avg profit = %s, want 0.25", s.AvgProfit)
	}
	if s.AvgLatency != 100*time.Millisecond {
		t.Errorf("avg latency = %v, want 100ms", s.AvgLatency)
	}
}

func TestTrackerDrawdown(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tr := New()
	tr.ExecutionFinished(finished("10", "0", types.ExecCompleted, now))
	tr.ExecutionFinished(finished("-4", "0", types.ExecFailed, now))
	tr.ExecutionFinished(finished("2", "0", types.ExecCompleted, now))

	// Trough equity 6 against peak 10: drawdown 4/10 of peak.
	s := tr.Stats()
	if !s.PeakEquity.Equal(d("10")) {
		t.Errorf("peak = %s, want 10", s.PeakEquity)
	}
	if !s.MaxDrawdown.Equal(d("0.4")) {
		t.Errorf("max drawdown = %s, want 0.4", s.MaxDrawdown)
	}

	// A new peak does not shrink the recorded drawdown.
	tr.ExecutionFinished(finished("5", "0", types.ExecCompleted, now))
	s = tr.Stats()
	if !s.PeakEquity.Equal(d("13")) {
		t.Errorf("peak = %s, want 13", s.PeakEquity)
	}
	if !s.MaxDrawdown.Equal(d("0.4")) {
		t.Errorf("max drawdown = %s, want 0.4 still", s.MaxDrawdown)
	}
}

func TestTrackerDailyBuckets(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	tr := New()
	tr.ExecutionFinished(finished("1", "0", types.ExecCompleted, day1))
	tr.ExecutionFinished(finished("2", "0", types.ExecCompleted, day1))
	tr.ExecutionFinished(finished("4", "0", types.ExecCompleted, day2))

	s := tr.Stats()
	if !s.DailyProfit["2026-08-24"].Equal(d("3")) {
		t.Errorf("day1 = %s, want 3", s.DailyProfit["2026-08-24"])
	}
	if !s.DailyProfit["2026-08-25"].Equal(d("4")) {
		t.Errorf("day2 = %s, want 4", s.DailyProfit["2026-08-25"])
	}
}

func TestTrackerDailyRetention(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := New()
	for i := 0; i < dailyRetention+5; i++ {
		tr.ExecutionFinished(finished("1", "0", types.ExecCompleted, start.Add(time.Duration(i)*24*time.Hour)))
	}

	s := tr.Stats()
	if len(s.DailyProfit) != dailyRetention {
		t.Fatalf("retained days = %d, want %d", len(s.DailyProfit), dailyRetention)
	}
	if _, ok := s.DailyProfit["2026-01-01"]; ok {
		t.Error("oldest day should have been pruned")
	}
	if _, ok := s.DailyProfit["2026-02-04"]; !ok {
		t.Error("newest day missing")
	}
}

func TestTrackerSharpe(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// One day of history: no ratio.
	tr := New()
	tr.ExecutionFinished(finished("5", "0", types.ExecCompleted, day1))
	if got := tr.Stats().SharpeRatio; got != 0 {
		t.Errorf("sharpe with one day = %v, want 0", got)
	}

	// Identical days: zero variance, still no ratio.
	tr.ExecutionFinished(finished("5", "0", types.ExecCompleted, day1.Add(24*time.Hour)))
	if got := tr.Stats().SharpeRatio; got != 0 {
		t.Errorf("sharpe with zero variance = %v, want 0", got)
	}

	// Varied days 5, 5, -2, 4: mean 3, sample variance 34/3, annualized.
	tr.ExecutionFinished(finished("-2", "0", types.ExecCompleted, day1.Add(48*time.Hour)))
	tr.ExecutionFinished(finished("4", "0", types.ExecCompleted, day1.Add(72*time.Hour)))

	got := tr.Stats().SharpeRatio
	mean := (5.0 + 5.0 - 2.0 + 4.0) / 4
	variance := (4.0 + 4.0 + 25.0 + 1.0) / 3
	want := (mean - riskFreeDaily) / math.Sqrt(variance) * math.Sqrt(365)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("sharpe = %v, want %v", got, want)
	}
}
