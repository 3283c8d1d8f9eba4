package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseSymbol(t *testing.T) {
	t.Parallel()

	sym, err := ParseSymbol("BTC/USDT")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if sym.Base != "BTC" || sym.Quote != "USDT" {
		t.Errorf("parsed %q/%q, want BTC/USDT", sym.Base, sym.Quote)
	}
	if sym.String() != "BTC/USDT" {
		t.Errorf("String() = %q", sym.String())
	}

	for _, bad := range []string{"", "BTC", "BTC/", "/USDT", "BTC/USDT/X"} {
		if _, err := ParseSymbol(bad); err == nil {
			t.Errorf("ParseSymbol(%q) should fail", bad)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite is not an involution over {buy, sell}")
	}
}

func TestTickerValidate(t *testing.T) {
	t.Parallel()
	sym := Symbol{Base: "BTC", Quote: "USDT"}

	ok := Ticker{Venue: "alpha", Symbol: sym, Bid: d("100"), Ask: d("101")}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid ticker rejected: %v", err)
	}

	crossed := Ticker{Venue: "alpha", Symbol: sym, Bid: d("102"), Ask: d("101")}
	if err := crossed.Validate(); err == nil {
		t.Error("crossed ticker accepted")
	}

	zero := Ticker{Venue: "alpha", Symbol: sym, Bid: d("0"), Ask: d("101")}
	if err := zero.Validate(); err == nil {
		t.Error("zero bid accepted")
	}

	// Bid == ask is legal (locked market).
	locked := Ticker{Venue: "alpha", Symbol: sym, Bid: d("100"), Ask: d("100")}
	if err := locked.Validate(); err != nil {
		t.Errorf("locked ticker rejected: %v", err)
	}
}

func TestOrderBookValidate(t *testing.T) {
	t.Parallel()
	sym := Symbol{Base: "BTC", Quote: "USDT"}

	good := OrderBook{
		Venue: "alpha", Symbol: sym,
		Bids: []PriceLevel{{d("100"), d("1")}, {d("99"), d("2")}},
		Asks: []PriceLevel{{d("101"), d("1")}, {d("102"), d("2")}},
	}
	if err := good.Validate(); err != nil {
		t.Errorf("valid book rejected: %v", err)
	}

	badBids := good
	badBids.Bids = []PriceLevel{{d("99"), d("1")}, {d("100"), d("2")}}
	if err := badBids.Validate(); err == nil {
		t.Error("ascending bids accepted")
	}

	crossed := good
	crossed.Bids = []PriceLevel{{d("101"), d("1")}}
	if err := crossed.Validate(); err == nil {
		t.Error("crossed book accepted")
	}
}

func TestDepthCovers(t *testing.T) {
	t.Parallel()
	book := OrderBook{
		Asks: []PriceLevel{
			{d("101"), d("1")},
			{d("102"), d("1")},
			{d("103"), d("1")},
			{d("104"), d("1")},
			{d("105"), d("1")},
			{d("106"), d("100")},
		},
		Bids: []PriceLevel{{d("100"), d("3")}},
	}

	if !book.DepthCovers(Buy, d("5"), 5) {
		t.Error("5 units across 5 ask levels should be covered")
	}
	// The deep sixth level must not rescue an oversized order.
	if book.DepthCovers(Buy, d("6"), 5) {
		t.Error("6 units should exceed the first 5 ask levels")
	}
	if !book.DepthCovers(Sell, d("3"), 5) {
		t.Error("sell should consume bids")
	}
	if book.DepthCovers(Sell, d("4"), 5) {
		t.Error("bids hold only 3 units")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	sym := Symbol{Base: "BTC", Quote: "USDT"}
	legs := []Leg{
		{StepIndex: 1, Venue: "alpha", Side: Buy},
		{StepIndex: 2, Venue: "bravo", Side: Sell},
	}

	a := Opportunity{ID: "a", Kind: KindSimple, Symbol: sym, Legs: legs}
	b := Opportunity{ID: "b", Kind: KindSimple, Symbol: sym, Legs: legs}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("structurally equal opportunities should share a fingerprint")
	}

	flipped := a
	flipped.Legs = []Leg{
		{StepIndex: 1, Venue: "bravo", Side: Buy},
		{StepIndex: 2, Venue: "alpha", Side: Sell},
	}
	if a.Fingerprint() == flipped.Fingerprint() {
		t.Error("different venue routing must change the fingerprint")
	}

	otherKind := a
	otherKind.Kind = KindTriangular
	if a.Fingerprint() == otherKind.Fingerprint() {
		t.Error("kind must be part of the fingerprint")
	}
}

func TestOpportunityExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	op := Opportunity{ExpiresAt: now.Add(30 * time.Second)}

	if op.Expired(now) {
		t.Error("not yet expired")
	}
	if !op.Expired(now.Add(30 * time.Second)) {
		t.Error("expiry boundary is inclusive")
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []OpportunityStatus{OppCompleted, OppFailed, OppExpired, OppRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OpportunityStatus{OppDetected, OppApproved, OppExecuting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	for _, s := range []TradeStatus{TradeFilled, TradeCancelled, TradeRejected} {
		if !s.TerminalTrade() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if TradeOpen.TerminalTrade() || TradePartial.TerminalTrade() {
		t.Error("open and partial are not terminal")
	}
}

func TestLegNotional(t *testing.T) {
	t.Parallel()
	leg := Leg{Amount: d("0.5"), ReferencePrice: d("60000")}
	if !leg.Notional().Equal(d("30000")) {
		t.Errorf("notional = %s, want 30000", leg.Notional())
	}
}

func TestTakerFeeOrDefault(t *testing.T) {
	t.Parallel()
	v := Venue{}
	if !v.TakerFeeOrDefault().Equal(DefaultFeeRate) {
		t.Error("missing schedule should fall back to the default rate")
	}
	v.Fees.TakerRate = d("0.002")
	if !v.TakerFeeOrDefault().Equal(d("0.002")) {
		t.Error("configured rate should win")
	}
}
