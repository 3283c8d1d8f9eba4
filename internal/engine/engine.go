// Package engine is the central orchestrator of the arbitrage system.
//
// It wires together all subsystems:
//
//  1. Venue adapters poll (or stream) tickers, books, and funding into the
//     market data cache.
//  2. The scanner runs the strategy set on a fixed clock and synthesizes
//     opportunities.
//  3. Each candidate passes through the risk gate against a portfolio
//     snapshot; approvals go to the execution coordinator (execute mode) or
//     are logged (monitor mode).
//  4. The coordinator drives legs through the venue adapters and reports
//     outcomes; the tracker and audit store consume them from the event bus.
//  5. The dashboard server reads engine state and relays the event stream.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop(). Shutdown is the
// reverse of startup: market ingestion and the scanner stop first, then the
// coordinator drains in-flight executions within the grace period, then the
// store and dashboard close.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crossarb/internal/api"
	"crossarb/internal/config"
	"crossarb/internal/executor"
	"crossarb/internal/marketdata"
	"crossarb/internal/perf"
	"crossarb/internal/portfolio"
	"crossarb/internal/risk"
	"crossarb/internal/scanner"
	"crossarb/internal/store"
	"crossarb/internal/strategy"
	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

// Mode selects whether approved opportunities are executed or only logged.
const (
	ModeMonitor = "monitor"
	ModeExecute = "execute"
)

// ingestInterval is the polling cadence for venues without a push feed.
const ingestInterval = time.Second

// Engine orchestrates all components of the arbitrage system.
type Engine struct {
	cfg    config.Config
	mode   string
	logger *slog.Logger

	adapters map[string]venue.Adapter
	venues   map[string]types.Venue
	symbols  []types.Symbol

	cache       *marketdata.Cache
	scanner     *scanner.Scanner
	gate        *risk.Gate
	breakers    *risk.Breakers
	portfolio   *portfolio.Portfolio
	coordinator *executor.Coordinator
	tracker     *perf.Tracker
	store       *store.Store
	apiServer   *api.Server

	// healthMu guards the mutable per-venue health marks.
	healthMu    sync.RWMutex
	venueHealth map[string]types.VenueHealth

	// events is the internal bus; dashboardEvents is the read-only relay the
	// API server consumes. Both are drop-on-full: a slow consumer loses
	// events, never blocks trading.
	events          chan types.Event
	dashboardEvents chan types.Event

	// fatal closes when an emergency stop fires; main exits with code 3.
	fatal     chan struct{}
	fatalOnce sync.Once

	// dailyLossBreaches counts edge-triggered daily-loss breach events.
	// Touched only from the event loop.
	dailyLossBreaches int

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	execCtx    context.Context
	execCancel context.CancelFunc
	execWg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, mode string, noDashboard bool, logger *slog.Logger) (*Engine, error) {
	if mode != ModeMonitor && mode != ModeExecute {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	symbols := make([]types.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		sym, err := types.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}

	adapters := make(map[string]venue.Adapter, len(cfg.Venues))
	venues := make(map[string]types.Venue, len(cfg.Venues))
	health := make(map[string]types.VenueHealth, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		info := venue.VenueFromConfig(vc)
		var ad venue.Adapter
		if cfg.Demo || vc.Category == "demo" {
			ad = venue.NewDemoAdapter(info)
		} else {
			ad = venue.NewRESTAdapter(vc)
		}
		adapters[vc.ID] = ad
		venues[vc.ID] = ad.Info()
		health[vc.ID] = types.VenueActive
	}

	e := &Engine{
		cfg:             cfg,
		mode:            mode,
		logger:          logger.With("component", "engine"),
		adapters:        adapters,
		venues:          venues,
		symbols:         symbols,
		venueHealth:     health,
		tracker:         perf.New(),
		events:          make(chan types.Event, 256),
		dashboardEvents: make(chan types.Event, 100),
		fatal:           make(chan struct{}),
	}

	e.cache = marketdata.NewCache(cfg.Cache, logger)
	e.cache.Subscribe(e.emit)

	e.breakers = risk.NewBreakers(e.emit, logger)
	e.portfolio = portfolio.New(cfg.Portfolio, adapters, logger)
	e.gate = risk.NewGate(cfg.Risk, venues, e.cache, e.breakers, e.emit, logger)

	strategies, err := buildStrategies(cfg.Strategies, venues)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies enabled")
	}
	e.scanner = scanner.New(cfg.Scanner, strategies, e.cache, e.emit, logger)

	e.coordinator = executor.New(cfg.Executor, adapters, e.breakers, e.portfolio, e.emit, logger)

	st, err := store.Open(cfg.Store.DSN, logger)
	if err != nil {
		return nil, err
	}
	e.store = st

	if cfg.Dashboard.Enabled && !noDashboard {
		e.apiServer = api.NewServer(cfg.Dashboard, e, logger)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.execCtx, e.execCancel = context.WithCancel(context.Background())

	return e, nil
}

// buildStrategies instantiates the enabled strategies in their fixed scan
// order: simple, triangular, basis.
func buildStrategies(set config.StrategySet, venues map[string]types.Venue) ([]strategy.Strategy, error) {
	var out []strategy.Strategy
	if set.Simple.Enabled {
		s, err := strategy.NewSimple(set.Simple, venues)
		if err != nil {
			return nil, fmt.Errorf("simple strategy: %w", err)
		}
		out = append(out, s)
	}
	if set.Triangular.Enabled {
		out = append(out, strategy.NewTriangular(set.Triangular, venues))
	}
	if set.Basis.Enabled {
		out = append(out, strategy.NewBasis(set.Basis, venues))
	}
	return out, nil
}

// Start launches all background goroutines: ingestion, portfolio
// reconciliation, scanner, coordinator, event loop, candidate loop,
// heartbeat, and the dashboard server.
func (e *Engine) Start() error {
	e.startedAt = time.Now()

	if err := e.checkVenues(); err != nil {
		return err
	}

	if e.cfg.Demo {
		e.startDemoFeed(e.ctx)
	}

	// Baseline balances before anything trades.
	reconCtx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	e.portfolio.Reconcile(reconCtx)
	cancel()

	for id, ad := range e.adapters {
		id, ad := id, ad
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.ingestVenue(e.ctx, id, ad)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.portfolio.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scanner.Run(e.ctx)
	}()

	e.execWg.Add(1)
	go func() {
		defer e.execWg.Done()
		e.coordinator.Run(e.execCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.eventLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.candidateLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.heartbeatLoop()
	}()

	if e.apiServer != nil {
		go func() {
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("dashboard server failed", "error", err)
			}
		}()
	}

	e.logger.Info("engine started",
		"mode", e.mode,
		"venues", len(e.adapters),
		"symbols", len(e.symbols),
		"demo", e.cfg.Demo,
	)
	return nil
}

// HealthCheck probes every configured venue and reports whether at least
// one is reachable. Used by the --health-check flag.
func (e *Engine) HealthCheck() error {
	return e.checkVenues()
}

// checkVenues probes every adapter concurrently. Unreachable venues are
// marked down but only an all-venues failure aborts startup.
func (e *Engine) checkVenues() error {
	g, ctx := errgroup.WithContext(e.ctx)
	var mu sync.Mutex
	reachable := 0

	for id, ad := range e.adapters {
		id, ad := id, ad
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := ad.HealthCheck(probeCtx); err != nil {
				e.logger.Warn("venue unreachable at startup", "venue", id, "error", err)
				e.setVenueHealth(id, types.VenueDown)
				return nil
			}
			mu.Lock()
			reachable++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if reachable == 0 {
		return fmt.Errorf("no venue reachable")
	}
	return nil
}

// Stop gracefully shuts down in reverse startup order.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	// Phase 1: stop producing work (ingestion, scanner, candidate loop).
	e.cancel()
	e.wg.Wait()

	// Phase 2: drain in-flight executions within the grace period.
	e.execCancel()
	e.execWg.Wait()

	// Phase 3: close the outer surfaces.
	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("dashboard stop failed", "error", err)
		}
	}
	close(e.dashboardEvents)

	e.persistBalances()
	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// persistBalances writes the final balance view to the audit store.
func (e *Engine) persistBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, b := range e.portfolio.Snapshot().Balances {
		e.store.UpsertBalance(ctx, b)
	}
}

// EmergencyStop halts all trading immediately: the scanner is paused for
// good, the coordinator discards its queue and cancels in-flight work, and
// residual positions are market-closed when flatten_on_stop is set. The
// fatal channel closes so main exits with code 3.
func (e *Engine) EmergencyStop(reason string) {
	e.scanner.Pause()
	e.coordinator.EmergencyStop(reason)
	if e.cfg.Risk.FlattenOnStop {
		e.flattenPositions()
	}
	e.fatalOnce.Do(func() { close(e.fatal) })
}

// Fatal closes after an emergency stop has completed.
func (e *Engine) Fatal() <-chan struct{} { return e.fatal }

func (e *Engine) isFatal() bool {
	select {
	case <-e.fatal:
		return true
	default:
		return false
	}
}

// flattenPositions market-closes every residual position, best effort. A
// venue that refuses the order keeps its position on the books for manual
// intervention.
func (e *Engine) flattenPositions() {
	snap := e.portfolio.Snapshot()
	if len(snap.OpenPositions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Executor.GracePeriod)
	defer cancel()

	for _, pos := range snap.OpenPositions {
		ad, ok := e.adapters[pos.Venue]
		if !ok || !pos.Amount.IsPositive() {
			continue
		}
		err := e.breakers.Do(pos.Venue, func() error {
			_, perr := ad.PlaceOrder(ctx, venue.OrderRequest{
				ClientID: pos.ExecutionID + "-flatten",
				Symbol:   pos.Symbol,
				Side:     pos.Side.Opposite(),
				Type:     types.OrderTypeMarket,
				Amount:   pos.Amount,
			})
			return perr
		})
		if err != nil {
			e.logger.Error("flatten order failed",
				"venue", pos.Venue, "symbol", pos.Symbol.Key(), "error", err)
			continue
		}
		e.portfolio.ClosePosition(pos.ExecutionID)
		e.logger.Warn("position flattened",
			"venue", pos.Venue, "symbol", pos.Symbol.Key(), "amount", pos.Amount)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market data ingestion
// ————————————————————————————————————————————————————————————————————————

// ingestVenue feeds one venue's market data into the cache, via the push
// feed when the adapter has one, otherwise by polling.
func (e *Engine) ingestVenue(ctx context.Context, id string, ad venue.Adapter) {
	if streamer, ok := ad.(venue.Streamer); ok {
		e.streamVenue(ctx, id, streamer)
		return
	}

	tick := time.NewTicker(ingestInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			e.pollVenue(ctx, id, ad)
		}
	}
}

func (e *Engine) streamVenue(ctx context.Context, id string, streamer venue.Streamer) {
	for _, sym := range e.symbols {
		sym := sym
		ch, err := streamer.Subscribe(ctx, sym)
		if err != nil {
			e.logger.Error("subscribe failed", "venue", id, "symbol", sym.Key(), "error", err)
			continue
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for snap := range ch {
				if snap.Ticker != nil {
					if err := e.cache.PutTicker(*snap.Ticker); err != nil {
						e.logger.Warn("ticker rejected", "venue", id, "error", err)
					}
				}
				if snap.Book != nil {
					if err := e.cache.PutBook(*snap.Book); err != nil {
						e.logger.Warn("book rejected", "venue", id, "error", err)
					}
				}
			}
		}()
	}
	<-ctx.Done()
}

// pollVenue fetches one round of tickers, books, and funding for all symbols
// through the venue's breaker. A failure degrades the venue's health mark; a
// clean round restores it.
func (e *Engine) pollVenue(ctx context.Context, id string, ad venue.Adapter) {
	failed := false
	for _, sym := range e.symbols {
		err := e.breakers.Do(id, func() error {
			t, ferr := ad.FetchTicker(ctx, sym)
			if ferr != nil {
				return ferr
			}
			if perr := e.cache.PutTicker(t); perr != nil {
				e.logger.Warn("ticker rejected", "venue", id, "error", perr)
			}
			b, ferr := ad.FetchBook(ctx, sym, types.MaxBookLevels)
			if ferr != nil {
				return ferr
			}
			if perr := e.cache.PutBook(b); perr != nil {
				e.logger.Warn("book rejected", "venue", id, "error", perr)
			}
			return nil
		})
		if err != nil {
			failed = true
			e.logger.Debug("poll failed", "venue", id, "symbol", sym.Key(), "error", err)
			continue
		}

		if e.venues[id].Category == types.VenuePerpetual {
			if fr, ferr := ad.FundingRate(ctx, sym); ferr == nil {
				e.cache.PutFunding(fr)
			} else if ferr != venue.ErrNotApplicable {
				e.logger.Debug("funding fetch failed", "venue", id, "error", ferr)
			}
		}
	}

	if failed {
		e.setVenueHealth(id, types.VenueDegraded)
	} else {
		e.setVenueHealth(id, types.VenueActive)
	}
}

func (e *Engine) setVenueHealth(id string, h types.VenueHealth) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	e.venueHealth[id] = h
}

// ————————————————————————————————————————————————————————————————————————
// Candidate flow
// ————————————————————————————————————————————————————————————————————————

// candidateLoop evaluates scanner candidates against the risk gate and
// dispatches approvals.
func (e *Engine) candidateLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case op := <-e.scanner.Candidates():
			e.handleCandidate(op)
		}
	}
}

func (e *Engine) handleCandidate(op types.Opportunity) {
	now := time.Now()
	decision := e.gate.Evaluate(op, e.portfolio.Snapshot(), now)

	if !decision.Approved {
		rejected, ok := e.scanner.Resolve(op.ID, types.OppRejected)
		if !ok {
			return
		}
		e.logger.Info("opportunity rejected",
			"id", op.ID, "kind", op.Kind, "reason", decision.Reason)
		e.store.RecordOpportunity(e.ctx, rejected, decision.Reason)
		return
	}

	approved, ok := e.scanner.Resolve(op.ID, types.OppApproved)
	if !ok {
		// Expired or evicted between detection and evaluation.
		return
	}
	e.store.RecordOpportunity(e.ctx, approved, "")

	if e.mode == ModeMonitor {
		e.logger.Info("opportunity approved (monitor mode, not executing)",
			"id", approved.ID,
			"kind", approved.Kind,
			"net", approved.ProjectedProfitQuote,
			"net_pct", approved.ProjectedProfitPct,
		)
		return
	}

	if err := e.coordinator.Submit(approved); err != nil {
		reason := risk.ReasonShutdown
		if err == executor.ErrBackpressure {
			reason = risk.ReasonBackpressure
		}
		e.logger.Warn("submission rejected",
			"id", approved.ID, "reason", reason)
		approved.Status = types.OppRejected
		e.store.RecordOpportunity(e.ctx, approved, reason)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Event bus
// ————————————————————————————————————————————————————————————————————————

// emit places an event on the internal bus without ever blocking the
// producer; when the bus is full the oldest event is dropped.
func (e *Engine) emit(ev types.Event) {
	select {
	case e.events <- ev:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ev:
		default:
		}
	}
}

// eventLoop reacts to bus events and relays them to the dashboard.
func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev types.Event) {
	switch ev.Type {
	case types.EvExecutionStarted:
		e.tracker.ExecutionStarted()

	case types.EvExecutionCompleted, types.EvExecutionFailed:
		if exec, ok := ev.Payload.(types.Execution); ok {
			e.tracker.ExecutionFinished(exec)
			e.store.RecordExecution(e.ctx, exec)
		}

	case types.EvRiskLimitBreached:
		e.handleRiskBreach(ev)

	case types.EvVenueConnectionLost:
		if id, ok := ev.Payload.(string); ok {
			e.setVenueHealth(id, types.VenueDown)
		}

	case types.EvVenueConnectionRestored:
		if id, ok := ev.Payload.(string); ok {
			e.setVenueHealth(id, types.VenueActive)
		}
	}

	// Relay everything to the dashboard; a full relay drops the event.
	select {
	case e.dashboardEvents <- ev:
	default:
	}
}

// handleRiskBreach applies the cooldown on a first daily-loss breach and
// escalates to an emergency stop when the limit breaches again after a
// cooldown already ran: losses continuing through the pause are fatal.
func (e *Engine) handleRiskBreach(ev types.Event) {
	if payload, ok := ev.Payload.(types.RiskLimitPayload); ok && payload.Limit == risk.ReasonDailyLoss {
		e.dailyLossBreaches++
		if e.dailyLossBreaches > 1 {
			e.logger.Error("daily loss limit re-breached after cooldown, stopping",
				"loss", payload.Value)
			go e.EmergencyStop("daily loss limit re-breached")
			return
		}
	}
	e.applyCooldown()
}

// applyCooldown pauses the scanner for the configured cooldown after a risk
// limit breach, then resumes it.
func (e *Engine) applyCooldown() {
	cooldown := e.gate.Cooldown()
	e.logger.Warn("risk limit breached, pausing scanner", "cooldown", cooldown)
	e.scanner.Pause()

	time.AfterFunc(cooldown, func() {
		if e.ctx.Err() == nil && !e.isFatal() {
			e.scanner.Resume()
		}
	})
}

// ————————————————————————————————————————————————————————————————————————
// Heartbeat
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) heartbeatLoop() {
	tick := time.NewTicker(e.cfg.HeartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-tick.C:
			e.heartbeat()
		}
	}
}

func (e *Engine) heartbeat() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	payload := types.HeartbeatPayload{
		Uptime:      time.Since(e.startedAt),
		HeapBytes:   mem.HeapAlloc,
		Goroutines:  runtime.NumGoroutine(),
		ActiveOpps:  e.scanner.ActiveCount(),
		InFlightExe: e.coordinator.InFlight(),
	}
	e.logger.Info("heartbeat",
		"uptime", payload.Uptime.Round(time.Second),
		"heap_bytes", payload.HeapBytes,
		"goroutines", payload.Goroutines,
		"active_opportunities", payload.ActiveOpps,
		"in_flight_executions", payload.InFlightExe,
	)
	e.emit(types.Event{Type: types.EvHeartbeat, Timestamp: time.Now(), Payload: payload})
}

// ————————————————————————————————————————————————————————————————————————
// Dashboard provider
// ————————————————————————————————————————————————————————————————————————

// Mode implements api.Provider.
func (e *Engine) Mode() string { return e.mode }

// Uptime implements api.Provider.
func (e *Engine) Uptime() time.Duration { return time.Since(e.startedAt) }

// VenueStatuses implements api.Provider.
func (e *Engine) VenueStatuses() []api.VenueStatus {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	out := make([]api.VenueStatus, 0, len(e.venues))
	for id, v := range e.venues {
		out = append(out, api.VenueStatus{
			ID:       id,
			Name:     v.Name,
			Category: string(v.Category),
			Health:   e.venueHealth[id],
		})
	}
	return out
}

// ActiveOpportunities implements api.Provider.
func (e *Engine) ActiveOpportunities() []types.Opportunity { return e.scanner.Snapshot() }

// PerfStats implements api.Provider.
func (e *Engine) PerfStats() perf.Stats { return e.tracker.Stats() }

// PortfolioSnapshot implements api.Provider.
func (e *Engine) PortfolioSnapshot() portfolio.Snapshot { return e.portfolio.Snapshot() }

// Events implements api.Provider.
func (e *Engine) Events() <-chan types.Event { return e.dashboardEvents }
