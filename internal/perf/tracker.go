// Package perf accumulates execution statistics: profit, fees, success
// rate, latency, drawdown, and a Sharpe ratio over recent daily returns.
//
// Money stays in decimals; the ratio statistics (Sharpe, drawdown inputs)
// are computed in float64 since they are descriptive, not accounting.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/types"
)

const (
	// recentWindow bounds the per-execution profit and latency samples.
	recentWindow = 1000
	// dailyRetention is how many days of daily profit are kept.
	dailyRetention = 30
	// riskFreeDaily is the daily risk-free rate used in the Sharpe ratio.
	riskFreeDaily = 0.02 / 365
)

// Stats is a point-in-time summary of tracked performance.
type Stats struct {
	TotalExecutions      int                        `json:"total_executions"`
	SuccessfulExecutions int                        `json:"successful_executions"`
	SuccessRate          float64                    `json:"success_rate"`
	CumulativeProfit     decimal.Decimal            `json:"cumulative_profit"`
	CumulativeFees       decimal.Decimal            `json:"cumulative_fees"`
	AvgProfit            decimal.Decimal            `json:"avg_profit"`
	AvgLatency           time.Duration              `json:"avg_latency"`
	PeakEquity           decimal.Decimal            `json:"peak_equity"`
	MaxDrawdown          decimal.Decimal            `json:"max_drawdown"` // fraction of peak equity
	SharpeRatio          float64                    `json:"sharpe_ratio"`
	DailyProfit          map[string]decimal.Decimal `json:"daily_profit"`
}

// Tracker accumulates execution outcomes.
type Tracker struct {
	mu sync.Mutex

	total      int
	successful int

	cumProfit decimal.Decimal
	cumFees   decimal.Decimal

	profits   []decimal.Decimal // most recent last, capped at recentWindow
	latencies []time.Duration

	daily map[string]decimal.Decimal // UTC date → realized profit

	equity      decimal.Decimal
	peakEquity  decimal.Decimal
	maxDrawdown decimal.Decimal
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{daily: make(map[string]decimal.Decimal)}
}

// ExecutionStarted counts an execution the moment it begins, so the success
// rate's denominator includes in-flight and failed runs.
func (t *Tracker) ExecutionStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
}

// ExecutionFinished books a terminal execution's outcome.
func (t *Tracker) ExecutionFinished(exec types.Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if exec.Status == types.ExecCompleted {
		t.successful++
	}

	t.cumProfit = t.cumProfit.Add(exec.RealizedProfit)
	t.cumFees = t.cumFees.Add(exec.TotalFees)

	t.profits = append(t.profits, exec.RealizedProfit)
	if len(t.profits) > recentWindow {
		t.profits = t.profits[1:]
	}
	t.latencies = append(t.latencies, exec.CompletedAt.Sub(exec.StartedAt))
	if len(t.latencies) > recentWindow {
		t.latencies = t.latencies[1:]
	}

	day := exec.CompletedAt.UTC().Format("2006-01-02")
	t.daily[day] = t.daily[day].Add(exec.RealizedProfit)
	t.pruneDaily()

	t.equity = t.equity.Add(exec.RealizedProfit)
	if t.equity.GreaterThan(t.peakEquity) {
		t.peakEquity = t.equity
	}
	if t.peakEquity.IsPositive() {
		if dd := t.peakEquity.Sub(t.equity).Div(t.peakEquity); dd.GreaterThan(t.maxDrawdown) {
			t.maxDrawdown = dd
		}
	}
}

// pruneDaily drops days beyond the retention window. Caller holds the lock.
func (t *Tracker) pruneDaily() {
	if len(t.daily) <= dailyRetention {
		return
	}
	days := make([]string, 0, len(t.daily))
	for d := range t.daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days[:len(days)-dailyRetention] {
		delete(t.daily, d)
	}
}

// Stats returns the current summary.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		TotalExecutions:      t.total,
		SuccessfulExecutions: t.successful,
		CumulativeProfit:     t.cumProfit,
		CumulativeFees:       t.cumFees,
		PeakEquity:           t.peakEquity,
		MaxDrawdown:          t.maxDrawdown,
		DailyProfit:          make(map[string]decimal.Decimal, len(t.daily)),
	}
	for d, p := range t.daily {
		s.DailyProfit[d] = p
	}

	if t.total > 0 {
		s.SuccessRate = float64(t.successful) / float64(t.total)
	}
	if n := len(t.profits); n > 0 {
		sum := decimal.Zero
		for _, p := range t.profits {
			sum = sum.Add(p)
		}
		s.AvgProfit = sum.Div(decimal.NewFromInt(int64(n)))
	}
	if n := len(t.latencies); n > 0 {
		var total time.Duration
		for _, l := range t.latencies {
			total += l
		}
		s.AvgLatency = total / time.Duration(n)
	}
	s.SharpeRatio = t.sharpeLocked()

	return s
}

// sharpeLocked computes an annualized Sharpe ratio over the retained daily
// profits. Fewer than two days, or zero variance, yields zero. Caller holds
// the lock.
func (t *Tracker) sharpeLocked() float64 {
	if len(t.daily) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(t.daily))
	for _, p := range t.daily {
		f, _ := p.Float64()
		returns = append(returns, f)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	return (mean - riskFreeDaily) / math.Sqrt(variance) * math.Sqrt(365)
}
