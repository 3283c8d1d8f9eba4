package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"crossarb/internal/venue"
	"crossarb/pkg/types"
)

// Breakers holds one circuit breaker per venue. A venue's breaker opens
// after five API failures within a five-minute window and probes again
// after ten minutes; while open, the risk gate rejects opportunities
// touching the venue and the executor fails fast instead of calling out.
type Breakers struct {
	emit   func(types.Event)
	logger *slog.Logger

	mu  sync.Mutex
	cbs map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates the per-venue breaker registry. emit receives
// venueConnectionLost / venueConnectionRestored on state transitions.
func NewBreakers(emit func(types.Event), logger *slog.Logger) *Breakers {
	return &Breakers{
		emit:   emit,
		logger: logger.With("component", "breakers"),
		cbs:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) forVenue(venueID string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.cbs[venueID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venueID,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= 5
		},
		// Rejections and not-founds mean the venue answered; only errors
		// suggesting the venue is unreachable or failing count.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch venue.KindOf(err) {
			case venue.KindPermanent, venue.KindNotFound, venue.KindAuth:
				return true
			}
			return false
		},
		OnStateChange: b.onStateChange,
	})
	b.cbs[venueID] = cb
	return cb
}

func (b *Breakers) onStateChange(name string, from, to gobreaker.State) {
	b.logger.Warn("venue breaker state change",
		"venue", name, "from", from.String(), "to", to.String())

	switch {
	case to == gobreaker.StateOpen:
		b.emit(types.Event{
			Type:      types.EvVenueConnectionLost,
			Timestamp: time.Now(),
			Payload:   name,
		})
	case from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed:
		b.emit(types.Event{
			Type:      types.EvVenueConnectionRestored,
			Timestamp: time.Now(),
			Payload:   name,
		})
	}
}

// Do runs a venue API call through the venue's breaker. Permanent-class
// venue errors do not count as breaker failures: the venue answered, it
// just said no.
func (b *Breakers) Do(venueID string, fn func() error) error {
	_, err := b.forVenue(venueID).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Open reports whether the venue's breaker currently rejects calls.
func (b *Breakers) Open(venueID string) bool {
	b.mu.Lock()
	cb, ok := b.cbs[venueID]
	b.mu.Unlock()
	return ok && cb.State() == gobreaker.StateOpen
}
