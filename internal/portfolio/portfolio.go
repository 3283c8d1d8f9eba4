// Package portfolio tracks balances, exposure, and realized profit across
// venues.
//
// Balances change through two paths only: execution outcomes applied by the
// coordinator, and periodic reconciliation against the venue adapters (the
// venue is authoritative; drift is logged and overwritten). Exposure is
// reserved when an execution starts and released when it finishes, so the
// risk gate always sees committed-but-unfinished capital.
package portfolio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

// Position is residual inventory left open after an execution completes,
// e.g. the spot-long/perp-short pair a basis trade holds while collecting
// funding.
type Position struct {
	ExecutionID string
	Venue       string
	Symbol      types.Symbol
	Side        types.Side
	Amount      decimal.Decimal // base units held
	Notional    decimal.Decimal // quote units at open
	OpenedAt    time.Time
}

// Snapshot is the point-in-time view the risk gate evaluates against. It is
// a plain value: the gate never reaches back into the portfolio.
type Snapshot struct {
	TotalExposureQuote decimal.Decimal
	VenueExposureQuote map[string]decimal.Decimal
	DailyRealizedPnL   decimal.Decimal // today's realized profit, negative when losing
	OpenPositions      []Position
	Balances           []types.Balance
	TakenAt            time.Time
}

// DailyRealizedLoss returns today's loss as a non-negative magnitude.
func (s Snapshot) DailyRealizedLoss() decimal.Decimal {
	if s.DailyRealizedPnL.IsNegative() {
		return s.DailyRealizedPnL.Neg()
	}
	return decimal.Zero
}

// reservation is the exposure committed by one in-flight execution.
type reservation struct {
	total    decimal.Decimal
	perVenue map[string]decimal.Decimal
}

// Portfolio is the balance and exposure ledger.
type Portfolio struct {
	cfg      config.PortfolioConfig
	adapters map[string]venue.Adapter
	logger   *slog.Logger

	mu           sync.Mutex
	balances     map[string]types.Balance // venue|asset
	reservations map[string]reservation   // executionID → reserved exposure
	positions    map[string]Position      // executionID → residual position
	dailyPnL     decimal.Decimal
	pnlDay       string // UTC date the daily figure belongs to
}

// New creates a portfolio over the given venue adapters.
func New(cfg config.PortfolioConfig, adapters map[string]venue.Adapter, logger *slog.Logger) *Portfolio {
	return &Portfolio{
		cfg:          cfg,
		adapters:     adapters,
		logger:       logger.With("component", "portfolio"),
		balances:     make(map[string]types.Balance),
		reservations: make(map[string]reservation),
		positions:    make(map[string]Position),
		pnlDay:       dayOf(time.Now()),
	}
}

func balanceKey(venueID, asset string) string { return venueID + "|" + asset }

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Run reconciles balances on the configured interval until ctx is cancelled.
func (p *Portfolio) Run(ctx context.Context) {
	tick := time.NewTicker(p.cfg.ReconcileInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.Reconcile(ctx)
		}
	}
}

// Reconcile fetches balances from every adapter and overwrites the local
// view. Venue errors degrade to keeping the stale local copy.
func (p *Portfolio) Reconcile(ctx context.Context) {
	for id, ad := range p.adapters {
		balances, err := ad.FetchBalances(ctx)
		if err != nil {
			p.logger.Warn("balance reconciliation failed", "venue", id, "error", err)
			continue
		}
		p.applyVenueBalances(id, balances)
	}
}

func (p *Portfolio) applyVenueBalances(venueID string, balances map[string]types.Balance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range balances {
		key := balanceKey(venueID, b.Asset)
		if prev, ok := p.balances[key]; ok && !prev.Total().Equal(b.Total()) {
			p.logger.Info("balance drift reconciled",
				"venue", venueID,
				"asset", b.Asset,
				"local", prev.Total(),
				"venue_reported", b.Total(),
			)
		}
		b.Venue = venueID
		b.UpdatedAt = time.Now()
		p.balances[key] = b
	}
}

// Reserve commits an opportunity's notional against exposure for the
// lifetime of its execution.
func (p *Portfolio) Reserve(executionID string, op types.Opportunity) {
	perVenue := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, leg := range op.Legs {
		n := leg.Notional()
		perVenue[leg.Venue] = perVenue[leg.Venue].Add(n)
		total = total.Add(n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservations[executionID] = reservation{total: total, perVenue: perVenue}
}

// Release drops an execution's exposure reservation and books its realized
// profit into the daily figure. Basis executions leave a residual position
// that keeps counting toward exposure until ClosePosition.
func (p *Portfolio) Release(exec types.Execution, op types.Opportunity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.reservations, exec.ID)
	p.addRealizedLocked(exec.RealizedProfit, time.Now())

	if exec.Status == types.ExecCompleted && op.Kind == types.KindBasis && len(op.Legs) > 0 {
		first := op.Legs[0]
		p.positions[exec.ID] = Position{
			ExecutionID: exec.ID,
			Venue:       first.Venue,
			Symbol:      first.Symbol,
			Side:        first.Side,
			Amount:      first.Amount,
			Notional:    first.Notional(),
			OpenedAt:    time.Now(),
		}
	}

	for _, t := range exec.Trades {
		p.applyFillLocked(t)
	}
}

// ClosePosition removes a residual position once it is unwound.
func (p *Portfolio) ClosePosition(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, executionID)
}

// applyFillLocked adjusts local balances for a filled or partially filled
// trade. Reconciliation later corrects any drift against the venue.
func (p *Portfolio) applyFillLocked(t types.Trade) {
	if !t.FilledAmount.IsPositive() {
		return
	}
	baseKey := balanceKey(t.Venue, t.Symbol.Base)
	quoteKey := balanceKey(t.Venue, t.Symbol.Quote)
	base := p.balances[baseKey]
	quote := p.balances[quoteKey]
	base.Venue, base.Asset = t.Venue, t.Symbol.Base
	quote.Venue, quote.Asset = t.Venue, t.Symbol.Quote

	notional := t.FilledAmount.Mul(t.AvgFillPrice)
	if t.Side == types.Buy {
		base.Free = base.Free.Add(t.FilledAmount)
		quote.Free = quote.Free.Sub(notional).Sub(t.Fee)
	} else {
		base.Free = base.Free.Sub(t.FilledAmount)
		quote.Free = quote.Free.Add(notional).Sub(t.Fee)
	}
	now := time.Now()
	base.UpdatedAt, quote.UpdatedAt = now, now
	p.balances[baseKey] = base
	p.balances[quoteKey] = quote
}

// addRealizedLocked books realized profit into the current UTC day, rolling
// the figure at midnight.
func (p *Portfolio) addRealizedLocked(profit decimal.Decimal, now time.Time) {
	day := dayOf(now)
	if day != p.pnlDay {
		p.logger.Info("daily pnl rolled", "day", p.pnlDay, "realized", p.dailyPnL)
		p.pnlDay = day
		p.dailyPnL = decimal.Zero
	}
	p.dailyPnL = p.dailyPnL.Add(profit)
}

// Snapshot captures the current exposure and balance view for the risk gate
// and the dashboard.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if dayOf(now) != p.pnlDay {
		p.pnlDay = dayOf(now)
		p.dailyPnL = decimal.Zero
	}

	total := decimal.Zero
	perVenue := make(map[string]decimal.Decimal)
	for _, r := range p.reservations {
		total = total.Add(r.total)
		for v, n := range r.perVenue {
			perVenue[v] = perVenue[v].Add(n)
		}
	}

	positions := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
		total = total.Add(pos.Notional)
		perVenue[pos.Venue] = perVenue[pos.Venue].Add(pos.Notional)
	}

	balances := make([]types.Balance, 0, len(p.balances))
	for _, b := range p.balances {
		balances = append(balances, b)
	}

	return Snapshot{
		TotalExposureQuote: total,
		VenueExposureQuote: perVenue,
		DailyRealizedPnL:   p.dailyPnL,
		OpenPositions:      positions,
		Balances:           balances,
		TakenAt:            now,
	}
}
