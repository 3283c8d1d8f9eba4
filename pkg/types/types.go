// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine: venues, symbols,
// market snapshots, opportunities, executions, and event payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
//
// Price and amount arithmetic uses shopspring/decimal throughout; binary
// floating point is reserved for heuristics (confidence, ratios) that never
// feed fee or profit accounting.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order leg.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the compensating side (used when unwinding filled legs).
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// VenueCategory classifies a trading venue.
type VenueCategory string

const (
	VenueSpot      VenueCategory = "spot"
	VenuePerpetual VenueCategory = "perpetual"
	VenueDEX       VenueCategory = "dex"
	VenueDemo      VenueCategory = "demo"
)

// VenueHealth is the mutable health status of a venue. Everything else on a
// Venue is immutable once loaded.
type VenueHealth string

const (
	VenueActive   VenueHealth = "active"
	VenueDegraded VenueHealth = "degraded"
	VenueDown     VenueHealth = "down"
)

// OpportunityKind identifies the strategy family that produced an opportunity.
type OpportunityKind string

const (
	KindSimple     OpportunityKind = "simple"     // cross-venue price gap
	KindTriangular OpportunityKind = "triangular" // three-leg cycle on one venue
	KindBasis      OpportunityKind = "basis"      // spot vs perpetual funding capture
)

// OpportunityStatus is the opportunity lifecycle:
//
//	detected → approved → executing → completed | failed | expired | rejected
//
// Terminal states are final; once status leaves detected the opportunity is
// no longer scannable-over.
type OpportunityStatus string

const (
	OppDetected  OpportunityStatus = "detected"
	OppApproved  OpportunityStatus = "approved"
	OppExecuting OpportunityStatus = "executing"
	OppCompleted OpportunityStatus = "completed"
	OppFailed    OpportunityStatus = "failed"
	OppExpired   OpportunityStatus = "expired"
	OppRejected  OpportunityStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OpportunityStatus) Terminal() bool {
	switch s {
	case OppCompleted, OppFailed, OppExpired, OppRejected:
		return true
	}
	return false
}

// ExecutionStatus is the execution state machine:
//
//	pending → executing → completed | failed | cancelled
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecExecuting ExecutionStatus = "executing"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// TradeStatus tracks a single venue order through its lifecycle.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeOpen      TradeStatus = "open"
	TradeFilled    TradeStatus = "filled"
	TradePartial   TradeStatus = "partial"
	TradeCancelled TradeStatus = "cancelled"
	TradeRejected  TradeStatus = "rejected"
)

// TerminalTrade reports whether the status ends the order's life on the venue.
func (s TradeStatus) TerminalTrade() bool {
	switch s {
	case TradeFilled, TradeCancelled, TradeRejected:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Venues and symbols
// ————————————————————————————————————————————————————————————————————————

// DefaultFeeRate is used when a venue's fee schedule is not configured.
var DefaultFeeRate = decimal.NewFromFloat(0.001)

// FeeSchedule holds a venue's trading fee rates and per-asset withdraw fees.
// Rates are fractions (0.001 = 10 bps).
type FeeSchedule struct {
	MakerRate    decimal.Decimal
	TakerRate    decimal.Decimal
	WithdrawFees map[string]decimal.Decimal // asset → flat withdraw fee
}

// TradeLimits bounds order sizes and exposure on a venue.
type TradeLimits struct {
	MinAmount        map[string]decimal.Decimal // asset → minimum order amount
	MaxAmount        map[string]decimal.Decimal // asset → maximum order amount
	MaxPositionQuote decimal.Decimal            // per-venue exposure cap in quote units
}

// Venue is the identity and static configuration of a trading marketplace.
type Venue struct {
	ID       string // stable short string, e.g. "binance"
	Name     string
	Category VenueCategory
	Health   VenueHealth
	Fees     FeeSchedule
	Limits   TradeLimits
	HighRisk bool // flagged venues attach an "exchange" risk factor to opportunities
}

// TakerFeeOrDefault returns the venue's taker rate, or DefaultFeeRate when
// the schedule is absent.
func (v Venue) TakerFeeOrDefault() decimal.Decimal {
	if v.Fees.TakerRate.IsZero() {
		return DefaultFeeRate
	}
	return v.Fees.TakerRate
}

// Symbol identifies a trading pair.
type Symbol struct {
	Base            string // e.g. "BTC"
	Quote           string // e.g. "USDT"
	AmountPrecision int32  // decimal digits for amounts
	PricePrecision  int32  // decimal digits for prices
}

// String returns the display form, e.g. "BTC/USDT".
func (s Symbol) String() string { return s.Base + "/" + s.Quote }

// Key returns the display form without precisions, safe for map keys.
func (s Symbol) Key() string { return s.Base + "/" + s.Quote }

// ParseSymbol parses "BTC/USDT" into a Symbol with default precisions.
func ParseSymbol(display string) (Symbol, error) {
	parts := strings.Split(display, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("invalid symbol %q", display)
	}
	return Symbol{Base: parts[0], Quote: parts[1], AmountPrecision: 8, PricePrecision: 8}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Market snapshots
// ————————————————————————————————————————————————————————————————————————

// Ticker is a point-in-time top-of-book snapshot for one (venue, symbol).
// Invariant: 0 < Bid ≤ Ask. ObservedAt must increase monotonically per pair;
// the market data cache drops out-of-order updates.
type Ticker struct {
	Venue      string
	Symbol     Symbol
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	Volume     decimal.Decimal // trailing 24 h volume in quote units
	Change24h  decimal.Decimal // 24 h price change fraction
	ObservedAt time.Time
}

// Validate checks the price invariant.
func (t Ticker) Validate() error {
	if !t.Bid.IsPositive() {
		return fmt.Errorf("ticker %s %s: bid %s not positive", t.Venue, t.Symbol, t.Bid)
	}
	if t.Bid.GreaterThan(t.Ask) {
		return fmt.Errorf("ticker %s %s: bid %s > ask %s", t.Venue, t.Symbol, t.Bid, t.Ask)
	}
	return nil
}

// PriceLevel is a single bid or ask level in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MaxBookLevels caps the depth retained per book side.
const MaxBookLevels = 20

// OrderBook is a depth snapshot for one (venue, symbol), truncated to at most
// MaxBookLevels per side. Invariant: bids strictly decreasing, asks strictly
// increasing, and best bid below best ask.
type OrderBook struct {
	Venue      string
	Symbol     Symbol
	Bids       []PriceLevel // sorted descending by price
	Asks       []PriceLevel // sorted ascending by price
	ObservedAt time.Time
}

// Validate checks the ordering invariant on both sides.
func (b OrderBook) Validate() error {
	for i := 1; i < len(b.Bids); i++ {
		if !b.Bids[i].Price.LessThan(b.Bids[i-1].Price) {
			return fmt.Errorf("book %s %s: bids not strictly decreasing at level %d", b.Venue, b.Symbol, i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if !b.Asks[i].Price.GreaterThan(b.Asks[i-1].Price) {
			return fmt.Errorf("book %s %s: asks not strictly increasing at level %d", b.Venue, b.Symbol, i)
		}
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && !b.Bids[0].Price.LessThan(b.Asks[0].Price) {
		return fmt.Errorf("book %s %s: crossed (bid %s >= ask %s)", b.Venue, b.Symbol, b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}

// DepthCovers reports whether the first maxLevels levels of the side an order
// would consume hold at least amount base units. A buy consumes asks, a sell
// consumes bids. The risk gate calls this with five levels.
func (b OrderBook) DepthCovers(side Side, amount decimal.Decimal, maxLevels int) bool {
	levels := b.Asks
	if side == Sell {
		levels = b.Bids
	}
	if maxLevels < len(levels) {
		levels = levels[:maxLevels]
	}
	avail := decimal.Zero
	for _, lvl := range levels {
		avail = avail.Add(lvl.Size)
		if avail.GreaterThanOrEqual(amount) {
			return true
		}
	}
	return false
}

// FundingRate is a perpetual venue's current funding snapshot.
type FundingRate struct {
	Venue          string
	Symbol         Symbol
	Rate           decimal.Decimal // per-period rate (e.g. 0.0001)
	PeriodsPerYear int             // e.g. 1095 for 8-hour funding
	NextFundingAt  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities
// ————————————————————————————————————————————————————————————————————————

// RiskFactor is an advisory tag attached to an opportunity by the strategy
// that produced it.
type RiskFactor struct {
	Kind     string // "liquidity", "exchange", "timing"
	Severity string // "low", "medium", "high"
	Impact   string
}

// Leg is one atomic order within a multi-step opportunity. Legs are numbered
// consecutively from 1 and executed strictly in StepIndex order.
type Leg struct {
	StepIndex      int
	Venue          string
	Symbol         Symbol
	Side           Side
	Type           OrderType
	Amount         decimal.Decimal // base units
	ReferencePrice decimal.Decimal // expected execution price
	FeeEstimate    decimal.Decimal // quote units
	MaxLatency     time.Duration   // per-leg fill deadline
}

// Notional returns the leg's quote-unit value at the reference price.
func (l Leg) Notional() decimal.Decimal {
	return l.Amount.Mul(l.ReferencePrice)
}

// Opportunity is a candidate multi-leg trade synthesized by a strategy.
// ProjectedProfitQuote is net of the sum of leg fee estimates.
type Opportunity struct {
	ID                   string
	Kind                 OpportunityKind
	Symbol               Symbol // primary symbol (first leg's symbol)
	Legs                 []Leg
	ProjectedProfitQuote decimal.Decimal
	ProjectedProfitPct   decimal.Decimal // percent of invested quote
	VolumeQuote          decimal.Decimal // quote committed across buy legs
	Confidence           float64         // [0,1] heuristic, floor 0.1
	Risks                []RiskFactor
	AllowPartialFills    bool // strategy opts legs into proportional rescale on partial fills
	CreatedAt            time.Time
	ExpiresAt            time.Time
	Status               OpportunityStatus
}

// Fingerprint identifies structurally equivalent opportunities for dedupe:
// kind, symbol, and the ordered leg venues and sides.
func (o Opportunity) Fingerprint() string {
	var sb strings.Builder
	sb.WriteString(string(o.Kind))
	sb.WriteByte('|')
	sb.WriteString(o.Symbol.Key())
	for _, leg := range o.Legs {
		sb.WriteByte('|')
		sb.WriteString(leg.Venue)
		sb.WriteByte(':')
		sb.WriteString(string(leg.Side))
	}
	return sb.String()
}

// Expired reports whether the opportunity's TTL has passed at the given time.
func (o Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// ————————————————————————————————————————————————————————————————————————
// Executions and trades
// ————————————————————————————————————————————————————————————————————————

// Trade records a single venue order issued while executing an opportunity,
// including best-effort compensating trades issued during recovery.
type Trade struct {
	ID              string
	Venue           string
	Symbol          Symbol
	Side            Side
	RequestedAmount decimal.Decimal
	RequestedPrice  decimal.Decimal // zero for market orders
	FilledAmount    decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Fee             decimal.Decimal
	Status          TradeStatus
	ExternalOrderID string
	ClientOrderID   string // idempotency key derived from (executionID, stepIndex)
	Compensation    bool   // true for recovery trades unwinding a filled leg
	CreatedAt       time.Time
	FilledAt        *time.Time
}

// Execution is the record of driving one approved opportunity through its
// legs. On completed status every leg has a filled trade and
// RealizedProfit = Σ sell proceeds − Σ buy costs − TotalFees.
type Execution struct {
	ID             string
	OpportunityID  string
	Status         ExecutionStatus
	Trades         []Trade
	RealizedProfit decimal.Decimal
	TotalFees      decimal.Decimal
	StartedAt      time.Time
	CompletedAt    time.Time
	Errors         []string
}

// ————————————————————————————————————————————————————————————————————————
// Balances
// ————————————————————————————————————————————————————————————————————————

// Balance is the holdings of one asset on one venue. Mutated only by
// execution outcomes and scheduled reconciliation against the venue adapter.
type Balance struct {
	Venue      string
	Asset      string
	Free       decimal.Decimal
	Locked     decimal.Decimal
	QuoteValue decimal.Decimal
	UpdatedAt  time.Time
}

// Total returns free + locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// ————————————————————————————————————————————————————————————————————————
// Event stream
// ————————————————————————————————————————————————————————————————————————

// EventType names an event on the engine's observer stream.
type EventType string

const (
	EvOpportunityDetected     EventType = "opportunityDetected"
	EvOpportunityExpired      EventType = "opportunityExpired"
	EvExecutionStarted        EventType = "executionStarted"
	EvExecutionCompleted      EventType = "executionCompleted"
	EvExecutionFailed         EventType = "executionFailed"
	EvRiskAlert               EventType = "riskAlert"
	EvRiskLimitBreached       EventType = "riskLimitBreached"
	EvEmergencyStop           EventType = "emergencyStop"
	EvPriceAlert              EventType = "priceAlert"
	EvVolumeSpike             EventType = "volumeSpike"
	EvVenueConnectionLost     EventType = "venueConnectionLost"
	EvVenueConnectionRestored EventType = "venueConnectionRestored"
	EvHeartbeat               EventType = "heartbeat"
)

// Event is the envelope carried on the engine's event channel. Observers
// (dashboard, notifications) are read-only consumers; payloads must be
// treated as immutable.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// PriceAlertPayload reports a large relative move in a venue's last price.
type PriceAlertPayload struct {
	Venue     string          `json:"venue"`
	Symbol    string          `json:"symbol"`
	PrevPrice decimal.Decimal `json:"prev_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangePct decimal.Decimal `json:"change_pct"`
}

// VolumeSpikePayload reports a volume jump beyond the spike multiplier.
type VolumeSpikePayload struct {
	Venue      string          `json:"venue"`
	Symbol     string          `json:"symbol"`
	PrevVolume decimal.Decimal `json:"prev_volume"`
	NewVolume  decimal.Decimal `json:"new_volume"`
}

// RiskLimitPayload carries the limit name and observed value when a risk
// limit transitions into breach.
type RiskLimitPayload struct {
	Limit string          `json:"limit"`
	Value decimal.Decimal `json:"value"`
}

// HeartbeatPayload carries liveness figures emitted every heartbeat interval.
type HeartbeatPayload struct {
	Uptime      time.Duration `json:"uptime"`
	HeapBytes   uint64        `json:"heap_bytes"`
	Goroutines  int           `json:"goroutines"`
	ActiveOpps  int           `json:"active_opportunities"`
	InFlightExe int           `json:"in_flight_executions"`
}
