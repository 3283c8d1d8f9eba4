// demo.go implements an in-memory simulated venue. It honors the full
// Adapter contract without any network I/O, which makes it the backing for
// --mode with the demo flag and for coordinator tests.
//
// Order behavior is configurable per venue instance: immediate fills at the
// requested (or top-of-book) price, delayed fills, partial fills, and
// injected rejections. Duplicate ClientIDs return the original order,
// matching the gateway's idempotency guarantee.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/types"
)

// DemoAdapter is a simulated venue holding synthetic market data and
// balances in memory.
type DemoAdapter struct {
	info types.Venue

	mu       sync.Mutex
	tickers  map[string]types.Ticker
	books    map[string]types.OrderBook
	balances map[string]types.Balance
	funding  map[string]types.FundingRate
	orders   map[string]*demoOrder // external ID → order
	byClient map[string]string     // client ID → external ID
	seq      int

	// Behavior knobs. Zero values give immediate full fills.
	fillDelay   time.Duration // orders stay open this long before filling
	partialFrac decimal.Decimal
	rejectNext  int  // reject this many upcoming orders
	holdOrders  bool // keep orders open until cancelled
}

type demoOrder struct {
	req       OrderRequest
	state     OrderState
	placedAt  time.Time
	fillPrice decimal.Decimal
}

// NewDemoAdapter creates a simulated venue with the given identity.
func NewDemoAdapter(info types.Venue) *DemoAdapter {
	info.Category = types.VenueDemo
	if info.Health == "" {
		info.Health = types.VenueActive
	}
	return &DemoAdapter{
		info:     info,
		tickers:  make(map[string]types.Ticker),
		books:    make(map[string]types.OrderBook),
		balances: make(map[string]types.Balance),
		funding:  make(map[string]types.FundingRate),
		orders:   make(map[string]*demoOrder),
		byClient: make(map[string]string),
	}
}

func (d *DemoAdapter) ID() string        { return d.info.ID }
func (d *DemoAdapter) Info() types.Venue { return d.info }

// SetTicker seeds or replaces a ticker snapshot.
func (d *DemoAdapter) SetTicker(t types.Ticker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.Venue = d.info.ID
	d.tickers[t.Symbol.Key()] = t
}

// SetBook seeds or replaces an order book snapshot.
func (d *DemoAdapter) SetBook(b types.OrderBook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.Venue = d.info.ID
	d.books[b.Symbol.Key()] = b
}

// SetBalance seeds an asset balance.
func (d *DemoAdapter) SetBalance(asset string, free decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[asset] = types.Balance{
		Venue: d.info.ID, Asset: asset, Free: free, UpdatedAt: time.Now(),
	}
}

// SetFunding seeds a funding rate snapshot.
func (d *DemoAdapter) SetFunding(fr types.FundingRate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fr.Venue = d.info.ID
	d.funding[fr.Symbol.Key()] = fr
}

// SetFillDelay makes orders rest open for the given duration before filling.
func (d *DemoAdapter) SetFillDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fillDelay = delay
}

// SetPartialFraction makes orders fill only the given fraction of the
// requested amount (terminal status partial).
func (d *DemoAdapter) SetPartialFraction(frac decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partialFrac = frac
}

// RejectNext makes the next n orders come back rejected.
func (d *DemoAdapter) RejectNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectNext = n
}

// HoldOrders keeps every order open until it is cancelled, for exercising
// leg timeouts.
func (d *DemoAdapter) HoldOrders(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdOrders = hold
}

// FetchTicker implements Adapter.
func (d *DemoAdapter) FetchTicker(_ context.Context, symbol types.Symbol) (types.Ticker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tickers[symbol.Key()]
	if !ok {
		return types.Ticker{}, NewError(KindNotFound, d.info.ID, "fetch_ticker", fmt.Errorf("no ticker for %s", symbol))
	}
	return t, nil
}

// FetchBook implements Adapter.
func (d *DemoAdapter) FetchBook(_ context.Context, symbol types.Symbol, depth int) (types.OrderBook, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.books[symbol.Key()]
	if !ok {
		return types.OrderBook{}, NewError(KindNotFound, d.info.ID, "fetch_book", fmt.Errorf("no book for %s", symbol))
	}
	if depth > 0 {
		if depth < len(b.Bids) {
			b.Bids = b.Bids[:depth]
		}
		if depth < len(b.Asks) {
			b.Asks = b.Asks[:depth]
		}
	}
	return b, nil
}

// FetchBalances implements Adapter.
func (d *DemoAdapter) FetchBalances(_ context.Context) (map[string]types.Balance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]types.Balance, len(d.balances))
	for k, v := range d.balances {
		out[k] = v
	}
	return out, nil
}

// PlaceOrder implements Adapter. Duplicate ClientIDs return the previously
// created order's external ID.
func (d *DemoAdapter) PlaceOrder(_ context.Context, req OrderRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ext, ok := d.byClient[req.ClientID]; ok {
		return ext, nil
	}

	if d.rejectNext > 0 {
		d.rejectNext--
		return "", NewError(KindPermanent, d.info.ID, "place_order", fmt.Errorf("order rejected"))
	}

	d.seq++
	ext := fmt.Sprintf("%s-%d", d.info.ID, d.seq)

	price := req.Price
	if req.Type == types.OrderTypeMarket || price.IsZero() {
		price = d.marketPriceLocked(req.Symbol, req.Side)
	}

	ord := &demoOrder{
		req:       req,
		placedAt:  time.Now(),
		fillPrice: price,
		state: OrderState{
			ExternalID: ext,
			Status:     types.TradeOpen,
		},
	}
	d.orders[ext] = ord
	d.byClient[req.ClientID] = ext
	return ext, nil
}

// marketPriceLocked returns the touch price an aggressive order would trade
// at: ask for buys, bid for sells. Falls back to the last ticker price.
func (d *DemoAdapter) marketPriceLocked(symbol types.Symbol, side types.Side) decimal.Decimal {
	if t, ok := d.tickers[symbol.Key()]; ok {
		if side == types.Buy {
			return t.Ask
		}
		return t.Bid
	}
	return decimal.Zero
}

// OrderStatus implements Adapter. Fill simulation happens lazily here so
// callers polling for a terminal status observe the configured behavior.
func (d *DemoAdapter) OrderStatus(_ context.Context, externalID string, _ types.Symbol) (OrderState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ord, ok := d.orders[externalID]
	if !ok {
		return OrderState{}, NewError(KindNotFound, d.info.ID, "order_status", fmt.Errorf("unknown order %s", externalID))
	}

	if ord.state.Status == types.TradeOpen && !d.holdOrders {
		if time.Since(ord.placedAt) >= d.fillDelay {
			d.fillLocked(ord)
		}
	}
	return ord.state, nil
}

// fillLocked settles an open order as filled (or partial).
func (d *DemoAdapter) fillLocked(ord *demoOrder) {
	amount := ord.req.Amount
	status := types.TradeFilled
	if d.partialFrac.IsPositive() && d.partialFrac.LessThan(decimal.NewFromInt(1)) {
		amount = amount.Mul(d.partialFrac)
		status = types.TradePartial
	}

	fee := amount.Mul(ord.fillPrice).Mul(d.info.TakerFeeOrDefault())
	ord.state.Status = status
	ord.state.FilledAmount = amount
	ord.state.AvgFillPrice = ord.fillPrice
	ord.state.Fee = fee
}

// CancelOrder implements Adapter. Cancelling an already-terminal order is a
// no-op.
func (d *DemoAdapter) CancelOrder(_ context.Context, externalID string, _ types.Symbol) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ord, ok := d.orders[externalID]
	if !ok {
		return NewError(KindNotFound, d.info.ID, "cancel_order", fmt.Errorf("unknown order %s", externalID))
	}
	if !ord.state.Status.TerminalTrade() {
		ord.state.Status = types.TradeCancelled
	}
	return nil
}

// FundingRate implements Adapter.
func (d *DemoAdapter) FundingRate(_ context.Context, symbol types.Symbol) (types.FundingRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fr, ok := d.funding[symbol.Key()]
	if !ok {
		return types.FundingRate{}, ErrNotApplicable
	}
	return fr, nil
}

// HealthCheck implements Adapter.
func (d *DemoAdapter) HealthCheck(context.Context) error { return nil }

// OpenOrderCount reports orders still resting on the venue, for tests
// asserting no orphans remain.
func (d *DemoAdapter) OpenOrderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ord := range d.orders {
		if !ord.state.Status.TerminalTrade() && ord.state.Status != types.TradePartial {
			n++
		}
	}
	return n
}
