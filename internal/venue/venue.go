// Package venue defines the uniform adapter contract the core consumes and
// the two concrete adapters shipped with the engine: a generic REST gateway
// client and an in-memory demo venue.
//
// Adapters are the only component allowed to talk to a marketplace. They
// enforce per-venue rate limits with a token bucket, retry transient and
// rate-limited errors with bounded exponential backoff, and translate every
// failure into a typed *Error so the coordinator and risk gate can apply the
// propagation policy without string matching.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"crossarb/pkg/types"
)

// OrderRequest is the adapter-level order submission. ClientID is the
// idempotency key: submitting the same ClientID twice must not create a
// second venue order.
type OrderRequest struct {
	ClientID string
	Symbol   types.Symbol
	Side     types.Side
	Type     types.OrderType
	Amount   decimal.Decimal
	Price    decimal.Decimal // ignored for market orders
}

// OrderState is the venue's view of one order, polled by the coordinator
// while waiting for a terminal status.
type OrderState struct {
	ExternalID   string
	Status       types.TradeStatus
	FilledAmount decimal.Decimal
	AvgFillPrice decimal.Decimal
	Fee          decimal.Decimal
}

// Adapter is the uniform venue contract consumed by the core.
// All methods honor ctx deadlines; errors are typed (*Error).
type Adapter interface {
	// ID returns the stable venue identifier.
	ID() string
	// Info returns the venue's static configuration.
	Info() types.Venue

	FetchTicker(ctx context.Context, symbol types.Symbol) (types.Ticker, error)
	FetchBook(ctx context.Context, symbol types.Symbol, depth int) (types.OrderBook, error)
	FetchBalances(ctx context.Context) (map[string]types.Balance, error)

	// PlaceOrder submits an order and returns the external order ID.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	// OrderStatus reports the current state of a previously placed order.
	OrderStatus(ctx context.Context, externalID string, symbol types.Symbol) (OrderState, error)
	CancelOrder(ctx context.Context, externalID string, symbol types.Symbol) error

	// FundingRate returns the current funding snapshot on perpetual venues,
	// or ErrNotApplicable elsewhere.
	FundingRate(ctx context.Context, symbol types.Symbol) (types.FundingRate, error)

	HealthCheck(ctx context.Context) error
}

// Snapshot is one push from a streaming adapter: a ticker, a book, or both.
type Snapshot struct {
	Ticker *types.Ticker
	Book   *types.OrderBook
}

// Streamer is implemented by adapters with native push feeds. When an
// adapter does not implement it, the engine polls FetchTicker/FetchBook on
// an interval instead.
type Streamer interface {
	Subscribe(ctx context.Context, symbol types.Symbol) (<-chan Snapshot, error)
}
