package marketdata

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcUSDT = types.Symbol{Base: "BTC", Quote: "USDT"}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		StaleAfter:      10 * time.Second,
		PriceAlertPct:   0.01,
		VolumeSpikeMult: 2,
	}
}

func newTestCache() *Cache {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewCache(testCacheConfig(), logger)
}

func ticker(venue string, bid, ask string, at time.Time) types.Ticker {
	return types.Ticker{
		Venue:      venue,
		Symbol:     btcUSDT,
		Bid:        d(bid),
		Ask:        d(ask),
		Last:       d(bid),
		Volume:     d("1000000"),
		ObservedAt: at,
	}
}

func book(venue string, bid, ask string, at time.Time) types.OrderBook {
	return types.OrderBook{
		Venue:      venue,
		Symbol:     btcUSDT,
		Bids:       []types.PriceLevel{{Price: d(bid), Size: d("5")}},
		Asks:       []types.PriceLevel{{Price: d(ask), Size: d("5")}},
		ObservedAt: at,
	}
}

func TestPutTickerMonotonicity(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	if err := c.PutTicker(ticker("alpha", "100", "101", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// An older snapshot must be dropped silently.
	if err := c.PutTicker(ticker("alpha", "90", "91", now.Add(-time.Second))); err != nil {
		t.Fatalf("out-of-order put should not error: %v", err)
	}

	got, ok := c.GetTicker("alpha", btcUSDT)
	if !ok {
		t.Fatal("ticker missing")
	}
	if !got.Bid.Equal(d("100")) {
		t.Errorf("stale update overwrote newer snapshot: bid = %s", got.Bid)
	}

	// Same-timestamp updates are also dropped.
	if err := c.PutTicker(ticker("alpha", "95", "96", now)); err != nil {
		t.Fatalf("same-timestamp put should not error: %v", err)
	}
	got, _ = c.GetTicker("alpha", btcUSDT)
	if !got.Bid.Equal(d("100")) {
		t.Error("same-timestamp update should be dropped")
	}
}

func TestPutTickerRejectsInvalid(t *testing.T) {
	t.Parallel()
	c := newTestCache()

	crossed := ticker("alpha", "102", "101", time.Now())
	if err := c.PutTicker(crossed); err == nil {
		t.Error("crossed ticker accepted")
	}
	if _, ok := c.GetTicker("alpha", btcUSDT); ok {
		t.Error("rejected ticker should not be stored")
	}
}

func TestStaleness(t *testing.T) {
	t.Parallel()
	c := newTestCache()

	old := time.Now().Add(-11 * time.Second)
	if err := c.PutTicker(ticker("alpha", "100", "101", old)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := c.GetTicker("alpha", btcUSDT); ok {
		t.Error("stale ticker should not be readable")
	}
}

func TestListFreshExcludesStaleVenues(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	// Three venues; charlie's data is 15s old and must be excluded.
	for _, v := range []string{"alpha", "bravo"} {
		if err := c.PutTicker(ticker(v, "100", "101", now)); err != nil {
			t.Fatalf("put ticker %s: %v", v, err)
		}
		if err := c.PutBook(book(v, "100", "101", now)); err != nil {
			t.Fatalf("put book %s: %v", v, err)
		}
	}
	old := now.Add(-15 * time.Second)
	if err := c.PutTicker(ticker("charlie", "100", "101", old)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.PutBook(book("charlie", "100", "101", old)); err != nil {
		t.Fatalf("put: %v", err)
	}

	fresh := c.ListFresh(btcUSDT)
	if len(fresh) != 2 {
		t.Fatalf("fresh venues = %d, want 2", len(fresh))
	}
	for _, f := range fresh {
		if f.Venue == "charlie" {
			t.Error("stale venue included in fresh set")
		}
	}
}

func TestListFreshRequiresTickerAndBook(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	// Ticker without a book does not qualify.
	if err := c.PutTicker(ticker("alpha", "100", "101", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := c.ListFresh(btcUSDT); len(got) != 0 {
		t.Errorf("venue without a book listed as fresh: %d", len(got))
	}
}

func TestPriceAlertEmitted(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	var mu sync.Mutex
	var events []types.Event
	done := make(chan struct{}, 1)
	c.Subscribe(func(ev types.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		done <- struct{}{}
	})

	if err := c.PutTicker(ticker("alpha", "100", "101", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// +2% move on last price.
	next := ticker("alpha", "102", "103", now.Add(time.Second))
	if err := c.PutTicker(next); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no event within 1s")
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, ev := range events {
		if ev.Type == types.EvPriceAlert {
			found = true
			payload := ev.Payload.(types.PriceAlertPayload)
			if payload.Venue != "alpha" {
				t.Errorf("alert venue = %s", payload.Venue)
			}
		}
	}
	if !found {
		t.Error("expected a priceAlert event")
	}
}

func TestVolumeSpikeEmitted(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	got := make(chan types.Event, 4)
	c.Subscribe(func(ev types.Event) { got <- ev })

	first := ticker("alpha", "100", "101", now)
	if err := c.PutTicker(first); err != nil {
		t.Fatalf("put: %v", err)
	}
	spike := ticker("alpha", "100.5", "101.5", now.Add(time.Second))
	spike.Volume = d("2500000") // 2.5× prior
	if err := c.PutTicker(spike); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-got:
			if ev.Type == types.EvVolumeSpike {
				return
			}
		case <-deadline:
			t.Fatal("expected a volumeSpike event")
		}
	}
}

func TestNoAlertOnSmallMove(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	got := make(chan types.Event, 4)
	c.Subscribe(func(ev types.Event) { got <- ev })

	if err := c.PutTicker(ticker("alpha", "100", "101", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// +0.5% move stays under the 1% threshold.
	if err := c.PutTicker(ticker("alpha", "100.5", "101.5", now.Add(time.Second))); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case ev := <-got:
		t.Errorf("unexpected event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPutBookTruncatesDepth(t *testing.T) {
	t.Parallel()
	c := newTestCache()
	now := time.Now()

	b := types.OrderBook{Venue: "alpha", Symbol: btcUSDT, ObservedAt: now}
	for i := 0; i < 30; i++ {
		b.Bids = append(b.Bids, types.PriceLevel{
			Price: d("100").Sub(decimal.NewFromInt(int64(i))), Size: d("1"),
		})
		b.Asks = append(b.Asks, types.PriceLevel{
			Price: d("101").Add(decimal.NewFromInt(int64(i))), Size: d("1"),
		})
	}
	if err := c.PutBook(b); err != nil {
		t.Fatalf("put book: %v", err)
	}

	got, ok := c.GetBook("alpha", btcUSDT)
	if !ok {
		t.Fatal("book missing")
	}
	if len(got.Bids) != types.MaxBookLevels || len(got.Asks) != types.MaxBookLevels {
		t.Errorf("book not truncated: %d bids, %d asks", len(got.Bids), len(got.Asks))
	}
}

func TestFundingRoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCache()

	c.PutFunding(types.FundingRate{
		Venue: "charlieperp", Symbol: btcUSDT,
		Rate: d("0.0003"), PeriodsPerYear: 1095,
	})

	fr, ok := c.GetFunding("charlieperp", btcUSDT)
	if !ok {
		t.Fatal("funding missing")
	}
	if !fr.Rate.Equal(d("0.0003")) || fr.PeriodsPerYear != 1095 {
		t.Errorf("funding = %+v", fr)
	}
}
