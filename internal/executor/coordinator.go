// Package executor drives approved opportunities through their legs.
//
// A fixed worker pool consumes a bounded FIFO queue of approved
// opportunities. Legs execute strictly in step order; each leg is submitted
// with an idempotent client order ID and polled until terminal or its
// deadline passes. A failed leg triggers recovery: every previously filled
// amount is unwound with a best-effort compensating market order, so the
// engine is never left with untracked one-sided inventory.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/internal/portfolio"
	"crossarb/internal/risk"
	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

// ErrBackpressure is returned by Submit when the approval queue is full.
var ErrBackpressure = errors.New("backpressure")

// ErrStopped is returned by Submit after an emergency stop or shutdown.
var ErrStopped = errors.New("executor stopped")

// pollInterval is how often an open order's status is re-fetched.
const pollInterval = 200 * time.Millisecond

// Coordinator owns the execution pipeline: queue, workers, and recovery.
type Coordinator struct {
	cfg       config.ExecutorConfig
	adapters  map[string]venue.Adapter
	breakers  *risk.Breakers
	portfolio *portfolio.Portfolio
	emit      func(types.Event)
	logger    *slog.Logger

	queue chan types.Opportunity

	mu       sync.Mutex
	stopped  bool
	inFlight map[string]context.CancelFunc // executionID → cancel

	wg sync.WaitGroup
}

// New creates a coordinator over the given venue adapters.
func New(
	cfg config.ExecutorConfig,
	adapters map[string]venue.Adapter,
	breakers *risk.Breakers,
	pf *portfolio.Portfolio,
	emit func(types.Event),
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		adapters:  adapters,
		breakers:  breakers,
		portfolio: pf,
		emit:      emit,
		logger:    logger.With("component", "executor"),
		queue:     make(chan types.Opportunity, cfg.QueueSize),
		inFlight:  make(map[string]context.CancelFunc),
	}
}

// Submit enqueues an approved opportunity. Returns ErrBackpressure when the
// queue is full; the caller records the rejection and moves on.
func (c *Coordinator) Submit(op types.Opportunity) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	select {
	case c.queue <- op:
		return nil
	default:
		return ErrBackpressure
	}
}

// InFlight returns the number of executions currently running.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight executions have drained, bounded by the configured grace period.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("executor started",
		"workers", c.cfg.MaxConcurrent,
		"queue_size", c.cfg.QueueSize,
	)

	for i := 0; i < c.cfg.MaxConcurrent; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	<-ctx.Done()
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("executor drained")
	case <-time.After(c.cfg.GracePeriod):
		c.logger.Warn("executor drain timed out", "grace", c.cfg.GracePeriod)
	}
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	c.logger.Debug("worker started", "worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.queue:
			c.execute(op)
		}
	}
}

// EmergencyStop halts all trading: no new submissions are accepted, queued
// opportunities are discarded, and in-flight executions are cancelled (their
// workers cancel open orders and run recovery).
func (c *Coordinator) EmergencyStop(reason string) {
	c.mu.Lock()
	c.stopped = true
	cancels := make([]context.CancelFunc, 0, len(c.inFlight))
	for _, cancel := range c.inFlight {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	drained := 0
	for {
		select {
		case <-c.queue:
			drained++
			continue
		default:
		}
		break
	}
	for _, cancel := range cancels {
		cancel()
	}

	c.logger.Error("emergency stop",
		"reason", reason,
		"discarded_queued", drained,
		"cancelled_in_flight", len(cancels),
	)
	c.emit(types.Event{
		Type:      types.EvEmergencyStop,
		Timestamp: time.Now(),
		Payload:   reason,
	})
}

// ————————————————————————————————————————————————————————————————————————
// Execution of one opportunity
// ————————————————————————————————————————————————————————————————————————

// execute drives one opportunity through its legs and finalizes the record.
// Opportunities dequeued after a stop are discarded; no execution begins and
// no executionStarted is emitted once trading has halted.
func (c *Coordinator) execute(op types.Opportunity) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		c.logger.Warn("discarding opportunity, executor stopped", "opportunity_id", op.ID)
		return
	}

	exec := types.Execution{
		ID:            uuid.NewString(),
		OpportunityID: op.ID,
		Status:        types.ExecPending,
		StartedAt:     time.Now(),
	}
	logger := c.logger.With("execution_id", exec.ID, "opportunity_id", op.ID, "kind", op.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.mu.Lock()
	c.inFlight[exec.ID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, exec.ID)
		c.mu.Unlock()
	}()

	c.portfolio.Reserve(exec.ID, op)
	exec.Status = types.ExecExecuting
	c.emit(types.Event{Type: types.EvExecutionStarted, Timestamp: exec.StartedAt, Payload: exec})
	logger.Info("execution started", "legs", len(op.Legs), "projected_net", op.ProjectedProfitQuote)

	scale := decimal.NewFromInt(1)
	failed := false
	for _, leg := range op.Legs {
		trade, err := c.runLeg(ctx, exec.ID, leg, scale)
		if err != nil {
			if trade.ID != "" {
				exec.Trades = append(exec.Trades, trade)
			}
			exec.Errors = append(exec.Errors, fmt.Sprintf("leg %d: %v", leg.StepIndex, err))
			logger.Error("leg failed", "step", leg.StepIndex, "venue", leg.Venue, "error", err)
			failed = true
			break
		}

		// A partial fill either rescales the rest of the plan or fails the
		// execution, depending on what the strategy opted into.
		requested := trade.RequestedAmount
		if trade.FilledAmount.LessThan(requested) {
			if !op.AllowPartialFills || !trade.FilledAmount.IsPositive() {
				exec.Trades = append(exec.Trades, trade)
				exec.Errors = append(exec.Errors, fmt.Sprintf("leg %d: partial fill %s of %s",
					leg.StepIndex, trade.FilledAmount, requested))
				failed = true
				break
			}
			// The venue closed the remainder, so the leg is settled at the
			// reduced amount and the rest of the plan shrinks to match.
			scale = scale.Mul(trade.FilledAmount.Div(requested))
			trade.Status = types.TradeFilled
			now := time.Now()
			trade.FilledAt = &now
			logger.Warn("partial fill, rescaling remaining legs",
				"step", leg.StepIndex, "filled", trade.FilledAmount, "requested", requested)
		}
		exec.Trades = append(exec.Trades, trade)
	}

	if failed {
		c.recover(ctx, &exec, logger)
		exec.Status = types.ExecFailed
	} else {
		exec.Status = types.ExecCompleted
	}
	c.finalize(&exec, op, logger)
}

// runLeg submits one leg and polls until its order is terminal or the leg
// deadline passes, cancelling on timeout. The returned trade reflects the
// final venue state even on error, so recovery can unwind partial fills.
func (c *Coordinator) runLeg(ctx context.Context, execID string, leg types.Leg, scale decimal.Decimal) (types.Trade, error) {
	adapter, ok := c.adapters[leg.Venue]
	if !ok {
		return types.Trade{}, fmt.Errorf("no adapter for venue %s", leg.Venue)
	}

	deadline := leg.MaxLatency
	if deadline <= 0 {
		deadline = c.cfg.LegTimeout
	}

	amount := leg.Amount.Mul(scale)
	trade := types.Trade{
		ID:              uuid.NewString(),
		Venue:           leg.Venue,
		Symbol:          leg.Symbol,
		Side:            leg.Side,
		RequestedAmount: amount,
		RequestedPrice:  leg.ReferencePrice,
		Status:          types.TradePending,
		ClientOrderID:   execID + "-" + strconv.Itoa(leg.StepIndex),
		CreatedAt:       time.Now(),
	}

	var externalID string
	err := c.breakers.Do(leg.Venue, func() error {
		var perr error
		externalID, perr = adapter.PlaceOrder(ctx, venue.OrderRequest{
			ClientID: trade.ClientOrderID,
			Symbol:   leg.Symbol,
			Side:     leg.Side,
			Type:     leg.Type,
			Amount:   amount,
			Price:    leg.ReferencePrice,
		})
		return perr
	})
	if err != nil {
		trade.Status = types.TradeRejected
		return trade, fmt.Errorf("place order: %w", err)
	}
	trade.ExternalOrderID = externalID
	trade.Status = types.TradeOpen

	state, err := c.awaitTerminal(ctx, adapter, leg, externalID, deadline)
	c.applyState(&trade, state)
	if err != nil {
		return trade, err
	}
	if trade.Status == types.TradeRejected || (trade.Status == types.TradeCancelled && !trade.FilledAmount.IsPositive()) {
		return trade, fmt.Errorf("order %s on %s: %s", externalID, leg.Venue, trade.Status)
	}
	return trade, nil
}

// awaitTerminal polls order status until terminal or deadline. On deadline it
// cancels the order and returns the post-cancel state, so partial fills that
// landed before the cancel are never lost.
func (c *Coordinator) awaitTerminal(
	ctx context.Context,
	adapter venue.Adapter,
	leg types.Leg,
	externalID string,
	deadline time.Duration,
) (venue.OrderState, error) {
	legCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	var last venue.OrderState
	for {
		select {
		case <-legCtx.Done():
			return c.cancelAndSettle(adapter, leg, externalID, last)
		case <-tick.C:
			state, err := adapter.OrderStatus(legCtx, externalID, leg.Symbol)
			if err != nil {
				if venue.Retryable(err) {
					continue
				}
				return last, fmt.Errorf("order status: %w", err)
			}
			last = state
			// A partial report means the venue closed the remainder; the
			// caller decides whether the plan rescales or fails.
			if state.Status.TerminalTrade() || state.Status == types.TradePartial {
				return state, nil
			}
		}
	}
}

// cancelAndSettle cancels a timed-out order and fetches its final state with
// a short independent deadline (the leg context is already done).
func (c *Coordinator) cancelAndSettle(
	adapter venue.Adapter,
	leg types.Leg,
	externalID string,
	last venue.OrderState,
) (venue.OrderState, error) {
	settleCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := adapter.CancelOrder(settleCtx, externalID, leg.Symbol); err != nil {
		c.logger.Error("cancel after timeout failed",
			"venue", leg.Venue, "external_id", externalID, "error", err)
	}
	if state, err := adapter.OrderStatus(settleCtx, externalID, leg.Symbol); err == nil {
		last = state
	}
	return last, fmt.Errorf("leg deadline exceeded on %s", leg.Venue)
}

func (c *Coordinator) applyState(trade *types.Trade, state venue.OrderState) {
	if state.ExternalID != "" {
		trade.ExternalOrderID = state.ExternalID
	}
	if state.Status != "" {
		trade.Status = state.Status
	}
	trade.FilledAmount = state.FilledAmount
	trade.AvgFillPrice = state.AvgFillPrice
	trade.Fee = state.Fee
	if trade.Status == types.TradeFilled {
		now := time.Now()
		trade.FilledAt = &now
	}
}

// recover unwinds every filled amount with compensating market orders on the
// opposite side. Best effort: a failed compensation is recorded on the
// execution and surfaced, never retried forever.
func (c *Coordinator) recover(ctx context.Context, exec *types.Execution, logger *slog.Logger) {
	if ctx.Err() != nil {
		// Emergency stop cancelled the execution context; compensation gets
		// its own bounded window.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), c.cfg.GracePeriod)
		defer cancel()
	}

	var compensations []types.Trade
	for _, t := range exec.Trades {
		if !t.FilledAmount.IsPositive() || t.Compensation {
			continue
		}
		logger.Warn("unwinding filled leg",
			"venue", t.Venue, "side", t.Side, "filled", t.FilledAmount)
		comp := c.compensate(ctx, t)
		compensations = append(compensations, comp)
		if comp.Status != types.TradeFilled {
			exec.Errors = append(exec.Errors,
				fmt.Sprintf("compensation on %s %s: %s", t.Venue, t.Symbol, comp.Status))
		}
	}
	exec.Trades = append(exec.Trades, compensations...)
}

// compensate issues one market order reversing a fill, capped at the filled
// amount.
func (c *Coordinator) compensate(ctx context.Context, filled types.Trade) types.Trade {
	comp := types.Trade{
		ID:              uuid.NewString(),
		Venue:           filled.Venue,
		Symbol:          filled.Symbol,
		Side:            filled.Side.Opposite(),
		RequestedAmount: filled.FilledAmount,
		Status:          types.TradePending,
		ClientOrderID:   filled.ClientOrderID + "-comp",
		Compensation:    true,
		CreatedAt:       time.Now(),
	}

	adapter, ok := c.adapters[filled.Venue]
	if !ok {
		comp.Status = types.TradeRejected
		return comp
	}

	var externalID string
	err := c.breakers.Do(filled.Venue, func() error {
		var perr error
		externalID, perr = adapter.PlaceOrder(ctx, venue.OrderRequest{
			ClientID: comp.ClientOrderID,
			Symbol:   comp.Symbol,
			Side:     comp.Side,
			Type:     types.OrderTypeMarket,
			Amount:   comp.RequestedAmount,
		})
		return perr
	})
	if err != nil {
		comp.Status = types.TradeRejected
		return comp
	}
	comp.ExternalOrderID = externalID
	comp.Status = types.TradeOpen

	state, err := c.awaitTerminal(ctx, adapter, types.Leg{
		Venue:      comp.Venue,
		Symbol:     comp.Symbol,
		Side:       comp.Side,
		Amount:     comp.RequestedAmount,
		MaxLatency: c.cfg.LegTimeout,
	}, externalID, c.cfg.LegTimeout)
	c.applyState(&comp, state)
	if err != nil {
		c.logger.Error("compensation did not settle",
			"venue", comp.Venue, "external_id", externalID, "error", err)
	}
	return comp
}

// finalize computes realized figures, releases exposure, and emits the
// terminal event.
func (c *Coordinator) finalize(exec *types.Execution, op types.Opportunity, logger *slog.Logger) {
	exec.CompletedAt = time.Now()
	exec.RealizedProfit, exec.TotalFees = settle(exec.Trades)

	c.portfolio.Release(*exec, op)

	evType := types.EvExecutionCompleted
	if exec.Status != types.ExecCompleted {
		evType = types.EvExecutionFailed
	}
	c.emit(types.Event{Type: evType, Timestamp: exec.CompletedAt, Payload: *exec})

	logger.Info("execution finished",
		"status", exec.Status,
		"realized_profit", exec.RealizedProfit,
		"total_fees", exec.TotalFees,
		"trades", len(exec.Trades),
		"latency", exec.CompletedAt.Sub(exec.StartedAt),
	)
}

// settle computes realized profit (sell proceeds minus buy costs minus fees)
// and total fees across all trades, compensations included.
func settle(trades []types.Trade) (profit, fees decimal.Decimal) {
	for _, t := range trades {
		if !t.FilledAmount.IsPositive() {
			continue
		}
		notional := t.FilledAmount.Mul(t.AvgFillPrice)
		if t.Side == types.Sell {
			profit = profit.Add(notional)
		} else {
			profit = profit.Sub(notional)
		}
		profit = profit.Sub(t.Fee)
		fees = fees.Add(t.Fee)
	}
	return profit, fees
}
