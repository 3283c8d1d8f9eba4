package api

import (
	"time"

	"github.com/shopspring/decimal"

	"crossarb/internal/perf"
	"crossarb/internal/portfolio"
	"crossarb/pkg/types"
)

// Provider is the read-only slice of engine state the dashboard serves. The
// engine implements it; the API layer never mutates anything behind it.
type Provider interface {
	Mode() string
	Uptime() time.Duration
	VenueStatuses() []VenueStatus
	ActiveOpportunities() []types.Opportunity
	PerfStats() perf.Stats
	PortfolioSnapshot() portfolio.Snapshot
	Events() <-chan types.Event
}

// VenueStatus is one venue's health line on the dashboard.
type VenueStatus struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Health   types.VenueHealth `json:"health"`
}

// BalanceView is one (venue, asset) balance row.
type BalanceView struct {
	Venue  string          `json:"venue"`
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Snapshot is the full dashboard state returned by /api/snapshot and pushed
// to WebSocket clients on connect.
type Snapshot struct {
	Mode          string              `json:"mode"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Venues        []VenueStatus       `json:"venues"`
	Opportunities []types.Opportunity `json:"opportunities"`
	Stats         perf.Stats          `json:"stats"`
	Exposure      decimal.Decimal     `json:"exposure_quote"`
	DailyPnL      decimal.Decimal     `json:"daily_pnl"`
	OpenPositions int                 `json:"open_positions"`
	Balances      []BalanceView       `json:"balances"`
	GeneratedAt   time.Time           `json:"generated_at"`
}

// BuildSnapshot assembles the dashboard state from the provider.
func BuildSnapshot(p Provider) Snapshot {
	pf := p.PortfolioSnapshot()

	balances := make([]BalanceView, 0, len(pf.Balances))
	for _, b := range pf.Balances {
		balances = append(balances, BalanceView{
			Venue:  b.Venue,
			Asset:  b.Asset,
			Free:   b.Free,
			Locked: b.Locked,
		})
	}

	return Snapshot{
		Mode:          p.Mode(),
		UptimeSeconds: p.Uptime().Seconds(),
		Venues:        p.VenueStatuses(),
		Opportunities: p.ActiveOpportunities(),
		Stats:         p.PerfStats(),
		Exposure:      pf.TotalExposureQuote,
		DailyPnL:      pf.DailyRealizedPnL,
		OpenPositions: len(pf.OpenPositions),
		Balances:      balances,
		GeneratedAt:   time.Now(),
	}
}
