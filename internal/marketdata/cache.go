// Package marketdata provides the per-(venue, symbol) snapshot cache feeding
// the scanner and the risk gate.
//
// The cache never polls: venue adapters push tickers and books into it, and
// the scanner reads fresh pairs out of it. It is the single multi-reader
// shared resource in the system, so the critical section per snapshot is kept
// short (one map write under a lock).
//
// Two derived events are emitted from ticker updates:
//   - priceAlert when the last price moves more than PriceAlertPct relative
//     to the previous snapshot
//   - volumeSpike when volume exceeds VolumeSpikeMult × the previous volume
//
// Observer callbacks are dispatched on their own goroutines and must not
// mutate cache state.
package marketdata

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

// Observer receives derived cache events (priceAlert, volumeSpike).
type Observer func(types.Event)

// FreshPair is one venue's non-stale ticker+book pairing for a symbol,
// as returned by ListFresh.
type FreshPair struct {
	Venue  string
	Ticker types.Ticker
	Book   types.OrderBook
}

// Cache stores the latest ticker and order book per (venue, symbol).
// Concurrency-safe; writers are the venue adapters, readers are the scanner
// and the risk gate.
type Cache struct {
	mu       sync.RWMutex
	cfg      config.CacheConfig
	tickers  map[string]types.Ticker
	books    map[string]types.OrderBook
	fundings map[string]types.FundingRate

	obsMu     sync.RWMutex
	observers []Observer

	logger *slog.Logger
}

// NewCache creates an empty cache.
func NewCache(cfg config.CacheConfig, logger *slog.Logger) *Cache {
	return &Cache{
		cfg:      cfg,
		tickers:  make(map[string]types.Ticker),
		books:    make(map[string]types.OrderBook),
		fundings: make(map[string]types.FundingRate),
		logger:   logger.With("component", "marketdata"),
	}
}

// Subscribe registers an observer for derived events.
func (c *Cache) Subscribe(obs Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, obs)
}

func pairKey(venue string, symbol types.Symbol) string {
	return venue + "|" + symbol.Key()
}

// PutTicker stores a ticker snapshot. Snapshots that do not advance
// ObservedAt for their (venue, symbol) are dropped, preserving per-pair
// monotonicity. Invalid tickers are rejected with an error.
func (c *Cache) PutTicker(t types.Ticker) error {
	if err := t.Validate(); err != nil {
		return err
	}

	key := pairKey(t.Venue, t.Symbol)

	c.mu.Lock()
	prior, hadPrior := c.tickers[key]
	if hadPrior && !t.ObservedAt.After(prior.ObservedAt) {
		c.mu.Unlock()
		return nil
	}
	c.tickers[key] = t
	c.mu.Unlock()

	if hadPrior {
		c.deriveAlerts(prior, t)
	}
	return nil
}

// deriveAlerts compares the new ticker against the prior one and emits
// priceAlert / volumeSpike events. Called outside the cache lock.
func (c *Cache) deriveAlerts(prior, t types.Ticker) {
	if prior.Last.IsPositive() && t.Last.IsPositive() {
		change := t.Last.Sub(prior.Last).Div(prior.Last).Abs()
		if change.GreaterThan(decimal.NewFromFloat(c.cfg.PriceAlertPct)) {
			c.notify(types.Event{
				Type:      types.EvPriceAlert,
				Timestamp: t.ObservedAt,
				Payload: types.PriceAlertPayload{
					Venue:     t.Venue,
					Symbol:    t.Symbol.Key(),
					PrevPrice: prior.Last,
					NewPrice:  t.Last,
					ChangePct: change.Mul(decimal.NewFromInt(100)),
				},
			})
		}
	}
	if prior.Volume.IsPositive() {
		threshold := prior.Volume.Mul(decimal.NewFromFloat(c.cfg.VolumeSpikeMult))
		if t.Volume.GreaterThan(threshold) {
			c.notify(types.Event{
				Type:      types.EvVolumeSpike,
				Timestamp: t.ObservedAt,
				Payload: types.VolumeSpikePayload{
					Venue:      t.Venue,
					Symbol:     t.Symbol.Key(),
					PrevVolume: prior.Volume,
					NewVolume:  t.Volume,
				},
			})
		}
	}
}

// PutBook stores an order book snapshot, truncated to MaxBookLevels per
// side. Books violating the ordering invariant are rejected with an error
// (the caller logs and discards). The same monotonicity rule as tickers
// applies.
func (c *Cache) PutBook(b types.OrderBook) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("put book: %w", err)
	}

	if len(b.Bids) > types.MaxBookLevels {
		b.Bids = b.Bids[:types.MaxBookLevels]
	}
	if len(b.Asks) > types.MaxBookLevels {
		b.Asks = b.Asks[:types.MaxBookLevels]
	}

	key := pairKey(b.Venue, b.Symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prior, ok := c.books[key]; ok && !b.ObservedAt.After(prior.ObservedAt) {
		return nil
	}
	c.books[key] = b
	return nil
}

// GetTicker returns the latest ticker for (venue, symbol), or false if
// missing or stale.
func (c *Cache) GetTicker(venue string, symbol types.Symbol) (types.Ticker, bool) {
	c.mu.RLock()
	t, ok := c.tickers[pairKey(venue, symbol)]
	c.mu.RUnlock()
	if !ok || c.stale(t.ObservedAt) {
		return types.Ticker{}, false
	}
	return t, true
}

// GetBook returns the latest book for (venue, symbol), or false if missing
// or stale.
func (c *Cache) GetBook(venue string, symbol types.Symbol) (types.OrderBook, bool) {
	c.mu.RLock()
	b, ok := c.books[pairKey(venue, symbol)]
	c.mu.RUnlock()
	if !ok || c.stale(b.ObservedAt) {
		return types.OrderBook{}, false
	}
	return b, true
}

// ListFresh returns every venue holding a non-stale ticker AND book for the
// symbol. This is the scanner's read path.
func (c *Cache) ListFresh(symbol types.Symbol) []FreshPair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	suffix := "|" + symbol.Key()
	var out []FreshPair
	for key, t := range c.tickers {
		if len(key) <= len(suffix) || key[len(key)-len(suffix):] != suffix {
			continue
		}
		if c.stale(t.ObservedAt) {
			continue
		}
		b, ok := c.books[key]
		if !ok || c.stale(b.ObservedAt) {
			continue
		}
		out = append(out, FreshPair{Venue: t.Venue, Ticker: t, Book: b})
	}
	return out
}

// PutFunding stores a funding-rate snapshot for a perpetual venue. Funding
// updates on hour-scale periods, so no staleness window applies.
func (c *Cache) PutFunding(fr types.FundingRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fundings[pairKey(fr.Venue, fr.Symbol)] = fr
}

// GetFunding returns the latest funding snapshot for (venue, symbol).
func (c *Cache) GetFunding(venue string, symbol types.Symbol) (types.FundingRate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fr, ok := c.fundings[pairKey(venue, symbol)]
	return fr, ok
}

func (c *Cache) stale(observedAt time.Time) bool {
	return time.Since(observedAt) > c.cfg.StaleAfter
}

// notify dispatches an event to every observer asynchronously. Observers
// must not call back into the cache's write path.
func (c *Cache) notify(ev types.Event) {
	c.obsMu.RLock()
	obs := make([]Observer, len(c.observers))
	copy(obs, c.observers)
	c.obsMu.RUnlock()

	for _, o := range obs {
		go o(ev)
	}
}
