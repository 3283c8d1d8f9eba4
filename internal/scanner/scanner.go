// Package scanner drives the strategy set on a periodic clock and owns the
// working set of live opportunities.
//
// On every tick it runs the enabled strategies in configuration order,
// deduplicates candidates by fingerprint (keeping the higher net), caps the
// active set by evicting the lowest-net live candidate, and hands newly
// stored candidates to the engine for risk evaluation. A slower sweep timer
// expires candidates whose TTL has passed.
//
// Opportunities are owned by the scanner only while status is detected;
// Resolve transfers ownership out when the risk gate decides.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/strategy"
	"crossarb/pkg/types"
)

// Scanner is the periodic opportunity synthesizer.
type Scanner struct {
	cfg        config.ScannerConfig
	strategies []strategy.Strategy
	view       strategy.MarketView
	emit       func(types.Event)
	logger     *slog.Logger

	mu      sync.Mutex
	active  map[string]*types.Opportunity // id → live opportunity
	byPrint map[string]string             // fingerprint → id
	paused  bool

	candidateCh chan types.Opportunity // engine reads newly stored candidates
}

// New creates a scanner. Strategies run in the given order each tick; emit
// receives opportunityDetected / opportunityExpired events.
func New(
	cfg config.ScannerConfig,
	strategies []strategy.Strategy,
	view strategy.MarketView,
	emit func(types.Event),
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		cfg:         cfg,
		strategies:  strategies,
		view:        view,
		emit:        emit,
		logger:      logger.With("component", "scanner"),
		active:      make(map[string]*types.Opportunity),
		byPrint:     make(map[string]string),
		candidateCh: make(chan types.Opportunity, 64),
	}
}

// Candidates returns the channel the engine reads newly stored candidates from.
func (s *Scanner) Candidates() <-chan types.Opportunity {
	return s.candidateCh
}

// Run starts the tick and sweep loops. Blocks until ctx is cancelled; on
// exit the active set is cleared (stop semantics).
func (s *Scanner) Run(ctx context.Context) {
	tick := time.NewTicker(s.cfg.Period)
	defer tick.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	s.logger.Info("scanner started",
		"period", s.cfg.Period,
		"max_active", s.cfg.MaxActive,
		"ttl", s.cfg.TTL,
	)

	for {
		select {
		case <-ctx.Done():
			s.clear()
			s.logger.Info("scanner stopped")
			return
		case <-tick.C:
			s.scan(time.Now())
		case <-sweep.C:
			s.sweepExpired(time.Now())
		}
	}
}

// Pause suspends ticks. The active set is preserved; no new opportunities
// are detected while paused.
func (s *Scanner) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.logger.Warn("scanner paused")
	}
}

// Resume lifts a pause; scanning continues on the next tick.
func (s *Scanner) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		s.logger.Info("scanner resumed")
	}
}

// Paused reports whether ticks are currently suspended.
func (s *Scanner) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ActiveCount returns the live opportunity count.
func (s *Scanner) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Snapshot returns copies of the live opportunities for observers.
func (s *Scanner) Snapshot() []types.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Opportunity, 0, len(s.active))
	for _, op := range s.active {
		out = append(out, *op)
	}
	return out
}

// Resolve transfers an opportunity out of the scanner when the risk gate
// decides. The stored candidate is removed from the working set and returned
// with the new status. Returns false when the opportunity already expired or
// was evicted.
func (s *Scanner) Resolve(id string, status types.OpportunityStatus) (types.Opportunity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.active[id]
	if !ok || op.Status != types.OppDetected {
		return types.Opportunity{}, false
	}
	op.Status = status
	delete(s.active, id)
	delete(s.byPrint, op.Fingerprint())
	return *op, true
}

// scan runs one synthesis pass. Holding the lock across the strategy calls
// is fine: strategies are pure in-memory computations against the cache.
func (s *Scanner) scan(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}

	for _, st := range s.strategies {
		for _, cand := range st.Scan(s.view, now) {
			s.admit(cand, now)
		}
	}
}

// admit stamps, deduplicates, and stores one candidate, enforcing the
// MaxActive cap. Caller holds the lock.
func (s *Scanner) admit(cand types.Opportunity, now time.Time) {
	cand.ID = uuid.NewString()
	cand.Status = types.OppDetected
	if cand.ExpiresAt.IsZero() {
		cand.ExpiresAt = now.Add(s.cfg.TTL)
	}

	print := cand.Fingerprint()
	if existingID, ok := s.byPrint[print]; ok {
		existing := s.active[existingID]
		if !cand.ProjectedProfitQuote.GreaterThan(existing.ProjectedProfitQuote) {
			return
		}
		// Higher-net duplicate replaces the stored candidate.
		delete(s.active, existingID)
	} else if len(s.active) >= s.cfg.MaxActive {
		if !s.evictLowest(cand.ProjectedProfitQuote) {
			return // candidate is itself the lowest-net; drop it
		}
	}

	stored := cand
	s.active[cand.ID] = &stored
	s.byPrint[print] = cand.ID

	s.publish(cand)
}

// evictLowest removes the lowest-net live candidate, but only when the
// incoming candidate would rank above it. Caller holds the lock.
func (s *Scanner) evictLowest(incomingNet decimal.Decimal) bool {
	var lowestID string
	var lowest *types.Opportunity
	for id, op := range s.active {
		if lowest == nil || op.ProjectedProfitQuote.LessThan(lowest.ProjectedProfitQuote) {
			lowestID, lowest = id, op
		}
	}
	if lowest == nil || !incomingNet.GreaterThan(lowest.ProjectedProfitQuote) {
		return false
	}

	delete(s.active, lowestID)
	delete(s.byPrint, lowest.Fingerprint())
	s.logger.Debug("evicted lowest-net opportunity",
		"id", lowestID,
		"net", lowest.ProjectedProfitQuote,
	)
	return true
}

// publish hands a newly stored candidate to the engine and emits the
// detection event. The channel send never blocks the scan loop: when the
// engine falls behind, the oldest queued candidate is dropped in favor of
// the new one.
func (s *Scanner) publish(op types.Opportunity) {
	select {
	case s.candidateCh <- op:
	default:
		select {
		case stale := <-s.candidateCh:
			s.logger.Warn("candidate queue full, dropping oldest", "dropped_id", stale.ID)
		default:
		}
		select {
		case s.candidateCh <- op:
		default:
		}
	}

	s.logger.Info("opportunity detected",
		"id", op.ID,
		"kind", op.Kind,
		"symbol", op.Symbol.String(),
		"net", op.ProjectedProfitQuote,
		"net_pct", op.ProjectedProfitPct,
		"confidence", op.Confidence,
	)
	s.emit(types.Event{
		Type:      types.EvOpportunityDetected,
		Timestamp: time.Now(),
		Payload:   op,
	})
}

// sweepExpired removes live candidates whose TTL has passed and emits an
// expiry event for each.
func (s *Scanner) sweepExpired(now time.Time) {
	s.mu.Lock()
	var expired []types.Opportunity
	for id, op := range s.active {
		if op.Status == types.OppDetected && op.Expired(now) {
			op.Status = types.OppExpired
			expired = append(expired, *op)
			delete(s.active, id)
			delete(s.byPrint, op.Fingerprint())
		}
	}
	s.mu.Unlock()

	for _, op := range expired {
		s.logger.Debug("opportunity expired", "id", op.ID, "kind", op.Kind)
		s.emit(types.Event{
			Type:      types.EvOpportunityExpired,
			Timestamp: now,
			Payload:   op,
		})
	}
}

// clear drops the whole working set. Called on shutdown.
func (s *Scanner) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]*types.Opportunity)
	s.byPrint = make(map[string]string)
}
