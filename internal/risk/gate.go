// Package risk admits or rejects detected opportunities before execution and
// houses the per-venue circuit breakers.
//
// The gate is deterministic: for a fixed opportunity, portfolio snapshot,
// book view, and breaker state, Evaluate always returns the same decision,
// and checks run in a fixed order so the reported reason is stable.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/portfolio"
	"crossarb/pkg/types"
)

// Reject reasons, reported on the decision and in audit records.
const (
	ReasonMinProfit       = "minProfit"
	ReasonExposure        = "exposure"
	ReasonVenueExposure   = "venueExposure"
	ReasonOrderSize       = "orderSize"
	ReasonDailyLoss       = "dailyLoss"
	ReasonVenueCircuit    = "venueCircuitOpen"
	ReasonDepth           = "depth"
	ReasonPositionAge     = "positionAge"
	ReasonCorrelation     = "correlation"
	ReasonExpired         = "expired"
	ReasonEmergencyStop   = "emergencyStop"
	ReasonBackpressure    = "backpressure"
	ReasonMonitorOnly     = "monitorOnly"
	ReasonShutdown        = "shutdown"
	ReasonVenueUnknown    = "venueUnknown"
	ReasonBookUnavailable = "bookUnavailable"
)

// depthCheckLevels bounds the depth check to the top of the book; liquidity
// further down is too likely to fade before the order lands.
const depthCheckLevels = 5

// Decision is the gate's verdict on one opportunity.
type Decision struct {
	Approved bool
	Reason   string // empty when approved
}

func approve() Decision             { return Decision{Approved: true} }
func reject(reason string) Decision { return Decision{Reason: reason} }

// BookSource supplies fresh order books for the depth check.
type BookSource interface {
	GetBook(venueID string, symbol types.Symbol) (types.OrderBook, bool)
}

// BreakerState reports whether a venue's circuit is currently open.
type BreakerState interface {
	Open(venueID string) bool
}

// Gate evaluates opportunities against the configured limits. The daily-loss
// breach event is edge-triggered: it emits once when the limit transitions
// into breach and re-arms when the limit clears. Other rejections reject
// silently; only the loss halt pauses scanning upstream.
type Gate struct {
	cfg      config.RiskConfig
	venues   map[string]types.Venue
	books    BookSource
	breakers BreakerState
	emit     func(types.Event)
	logger   *slog.Logger

	mu       sync.Mutex
	breached map[string]bool // limit name → currently in breach
}

// NewGate builds the admission gate.
func NewGate(
	cfg config.RiskConfig,
	venues map[string]types.Venue,
	books BookSource,
	breakers BreakerState,
	emit func(types.Event),
	logger *slog.Logger,
) *Gate {
	return &Gate{
		cfg:      cfg,
		venues:   venues,
		books:    books,
		breakers: breakers,
		emit:     emit,
		logger:   logger.With("component", "risk"),
		breached: make(map[string]bool),
	}
}

// Cooldown returns the scanner pause applied after a limit breach.
func (g *Gate) Cooldown() time.Duration { return g.cfg.Cooldown }

// Evaluate runs the ordered admission checks. Snapshot exposure excludes the
// opportunity under evaluation; the gate adds it before comparing to caps.
func (g *Gate) Evaluate(op types.Opportunity, snap portfolio.Snapshot, now time.Time) Decision {
	if op.Expired(now) {
		return reject(ReasonExpired)
	}

	if op.ProjectedProfitPct.LessThan(decimal.NewFromFloat(g.cfg.GlobalMinProfitPct)) {
		return reject(ReasonMinProfit)
	}

	perVenue := make(map[string]decimal.Decimal)
	opNotional := decimal.Zero
	for _, leg := range op.Legs {
		n := leg.Notional()
		perVenue[leg.Venue] = perVenue[leg.Venue].Add(n)
		opNotional = opNotional.Add(n)
	}

	maxTotal := decimal.NewFromFloat(g.cfg.MaxTotalExposureQuote)
	if snap.TotalExposureQuote.Add(opNotional).GreaterThan(maxTotal) {
		return reject(ReasonExposure)
	}

	for venueID, n := range perVenue {
		v, ok := g.venues[venueID]
		if !ok {
			return reject(ReasonVenueUnknown)
		}
		venueCap := v.Limits.MaxPositionQuote
		if venueCap.IsPositive() && snap.VenueExposureQuote[venueID].Add(n).GreaterThan(venueCap) {
			return reject(ReasonVenueExposure)
		}
	}

	// Per-asset order-size bounds from the venue's trade limits.
	for _, leg := range op.Legs {
		limits := g.venues[leg.Venue].Limits
		if min, ok := limits.MinAmount[leg.Symbol.Base]; ok && leg.Amount.LessThan(min) {
			return reject(ReasonOrderSize)
		}
		if max, ok := limits.MaxAmount[leg.Symbol.Base]; ok && leg.Amount.GreaterThan(max) {
			return reject(ReasonOrderSize)
		}
	}

	maxLoss := decimal.NewFromFloat(g.cfg.MaxLossPerDayQuote)
	if loss := snap.DailyRealizedLoss(); loss.GreaterThanOrEqual(maxLoss) {
		g.markBreach(ReasonDailyLoss, loss)
		return reject(ReasonDailyLoss)
	}
	g.clearBreach(ReasonDailyLoss)

	for venueID := range perVenue {
		if g.breakers != nil && g.breakers.Open(venueID) {
			return reject(ReasonVenueCircuit)
		}
	}

	for _, leg := range op.Legs {
		book, ok := g.books.GetBook(leg.Venue, leg.Symbol)
		if !ok {
			return reject(ReasonBookUnavailable)
		}
		if !book.DepthCovers(leg.Side, leg.Amount, depthCheckLevels) {
			return reject(ReasonDepth)
		}
	}

	if d := g.checkPositions(snap, now); !d.Approved {
		return d
	}

	return approve()
}

// checkPositions enforces the open-position age cap and the concentration
// limit on residual inventory.
func (g *Gate) checkPositions(snap portfolio.Snapshot, now time.Time) Decision {
	if g.cfg.MaxPositionAgeHours > 0 {
		maxAge := time.Duration(g.cfg.MaxPositionAgeHours * float64(time.Hour))
		for _, pos := range snap.OpenPositions {
			if now.Sub(pos.OpenedAt) > maxAge {
				return reject(ReasonPositionAge)
			}
		}
	}

	if g.cfg.CorrelationThreshold > 0 && len(snap.OpenPositions) > 1 {
		total := decimal.Zero
		byBase := make(map[string]decimal.Decimal)
		for _, pos := range snap.OpenPositions {
			total = total.Add(pos.Notional)
			byBase[pos.Symbol.Base] = byBase[pos.Symbol.Base].Add(pos.Notional)
		}
		if total.IsPositive() {
			threshold := decimal.NewFromFloat(g.cfg.CorrelationThreshold)
			for _, n := range byBase {
				if n.Div(total).GreaterThan(threshold) {
					return reject(ReasonCorrelation)
				}
			}
		}
	}

	return approve()
}

// markBreach emits riskLimitBreached once per transition into breach.
func (g *Gate) markBreach(limit string, value decimal.Decimal) {
	g.mu.Lock()
	already := g.breached[limit]
	g.breached[limit] = true
	g.mu.Unlock()
	if already {
		return
	}

	g.logger.Warn("risk limit breached", "limit", limit, "value", value)
	g.emit(types.Event{
		Type:      types.EvRiskLimitBreached,
		Timestamp: time.Now(),
		Payload:   types.RiskLimitPayload{Limit: limit, Value: value},
	})
}

func (g *Gate) clearBreach(limit string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breached[limit] {
		g.logger.Info("risk limit cleared", "limit", limit)
		g.breached[limit] = false
	}
}
