// rest.go implements the generic REST gateway adapter. It speaks the common
// exchange-gateway API we deploy in front of each venue:
//
//	GET    /api/v1/ping                 health probe
//	GET    /api/v1/ticker?symbol=       top-of-book snapshot
//	GET    /api/v1/depth?symbol=&limit= order book
//	GET    /api/v1/balances             per-asset balances
//	POST   /api/v1/order                place order (idempotent on client_id)
//	GET    /api/v1/order/{id}?symbol=   order status
//	DELETE /api/v1/order/{id}?symbol=   cancel order
//	GET    /api/v1/funding?symbol=      funding rate (perpetual gateways)
//
// Every request passes the venue token bucket first, then runs under the
// bounded retry policy. Authenticated endpoints carry an HMAC-SHA256
// signature over timestamp+method+path.
package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"crossarb/internal/config"
	"crossarb/pkg/types"
)

// RESTAdapter talks to one venue through its exchange gateway.
type RESTAdapter struct {
	info   types.Venue
	http   *resty.Client
	bucket *TokenBucket
	apiKey string
	secret string
}

// NewRESTAdapter builds an adapter from venue configuration.
func NewRESTAdapter(vc config.VenueConfig) *RESTAdapter {
	httpClient := resty.New().
		SetBaseURL(vc.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &RESTAdapter{
		info:   VenueFromConfig(vc),
		http:   httpClient,
		bucket: newBucketFromConfig(vc.RequestsPerSec, vc.Burst),
		apiKey: vc.APIKey,
		secret: vc.APISecret,
	}
}

// VenueFromConfig converts a config block into the immutable venue record.
func VenueFromConfig(vc config.VenueConfig) types.Venue {
	return types.Venue{
		ID:       vc.ID,
		Name:     vc.Name,
		Category: types.VenueCategory(vc.Category),
		Health:   types.VenueActive,
		Fees: types.FeeSchedule{
			MakerRate:    decimal.NewFromFloat(vc.MakerRate),
			TakerRate:    decimal.NewFromFloat(vc.TakerRate),
			WithdrawFees: decimalsByAsset(vc.WithdrawFees),
		},
		Limits: types.TradeLimits{
			MinAmount:        decimalsByAsset(vc.MinAmounts),
			MaxAmount:        decimalsByAsset(vc.MaxAmounts),
			MaxPositionQuote: decimal.NewFromFloat(vc.MaxPositionQuote),
		},
		HighRisk: vc.HighRisk,
	}
}

func decimalsByAsset(in map[string]float64) map[string]decimal.Decimal {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for asset, v := range in {
		out[asset] = decimal.NewFromFloat(v)
	}
	return out
}

func (a *RESTAdapter) ID() string        { return a.info.ID }
func (a *RESTAdapter) Info() types.Venue { return a.info }

// wire shapes returned by the gateway. Prices and amounts are strings to
// preserve decimal precision.
type wireTicker struct {
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Last      string `json:"last"`
	Volume    string `json:"volume"`
	Change24h string `json:"change_24h"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type wireLevel [2]string // [price, size]

type wireDepth struct {
	Symbol    string      `json:"symbol"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

type wireBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type wireOrder struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledAmount string `json:"filled_amount"`
	AvgFillPrice string `json:"avg_fill_price"`
	Fee          string `json:"fee"`
}

type wireFunding struct {
	Rate           string `json:"rate"`
	PeriodsPerYear int    `json:"periods_per_year"`
	NextFundingAt  int64  `json:"next_funding_at"`
}

// FetchTicker implements Adapter.
func (a *RESTAdapter) FetchTicker(ctx context.Context, symbol types.Symbol) (types.Ticker, error) {
	var w wireTicker
	err := a.do(ctx, "fetch_ticker", func() (*resty.Response, error) {
		return a.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol.Key()).
			SetResult(&w).
			Get("/api/v1/ticker")
	})
	if err != nil {
		return types.Ticker{}, err
	}

	t := types.Ticker{
		Venue:      a.info.ID,
		Symbol:     symbol,
		Bid:        mustDec(w.Bid),
		Ask:        mustDec(w.Ask),
		Last:       mustDec(w.Last),
		Volume:     mustDec(w.Volume),
		Change24h:  mustDec(w.Change24h),
		ObservedAt: time.UnixMilli(w.Timestamp),
	}
	if err := t.Validate(); err != nil {
		return types.Ticker{}, NewError(KindPermanent, a.info.ID, "fetch_ticker", err)
	}
	return t, nil
}

// FetchBook implements Adapter.
func (a *RESTAdapter) FetchBook(ctx context.Context, symbol types.Symbol, depth int) (types.OrderBook, error) {
	if depth <= 0 || depth > types.MaxBookLevels {
		depth = types.MaxBookLevels
	}
	var w wireDepth
	err := a.do(ctx, "fetch_book", func() (*resty.Response, error) {
		return a.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol": symbol.Key(),
				"limit":  strconv.Itoa(depth),
			}).
			SetResult(&w).
			Get("/api/v1/depth")
	})
	if err != nil {
		return types.OrderBook{}, err
	}

	book := types.OrderBook{
		Venue:      a.info.ID,
		Symbol:     symbol,
		Bids:       convertLevels(w.Bids),
		Asks:       convertLevels(w.Asks),
		ObservedAt: time.UnixMilli(w.Timestamp),
	}
	if err := book.Validate(); err != nil {
		return types.OrderBook{}, NewError(KindPermanent, a.info.ID, "fetch_book", err)
	}
	return book, nil
}

// FetchBalances implements Adapter.
func (a *RESTAdapter) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	var ws []wireBalance
	err := a.do(ctx, "fetch_balances", func() (*resty.Response, error) {
		return a.signed(a.http.R().SetContext(ctx).SetResult(&ws), http.MethodGet, "/api/v1/balances").
			Get("/api/v1/balances")
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]types.Balance, len(ws))
	for _, w := range ws {
		out[w.Asset] = types.Balance{
			Venue:     a.info.ID,
			Asset:     w.Asset,
			Free:      mustDec(w.Free),
			Locked:    mustDec(w.Locked),
			UpdatedAt: time.Now(),
		}
	}
	return out, nil
}

// PlaceOrder implements Adapter. The gateway deduplicates on client_id, so
// a retried submission never produces a second venue order.
func (a *RESTAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := map[string]string{
		"client_id": req.ClientID,
		"symbol":    req.Symbol.Key(),
		"side":      string(req.Side),
		"type":      string(req.Type),
		"amount":    req.Amount.String(),
	}
	if req.Type == types.OrderTypeLimit {
		body["price"] = req.Price.String()
	}

	var w wireOrder
	err := a.do(ctx, "place_order", func() (*resty.Response, error) {
		return a.signed(a.http.R().SetContext(ctx).SetBody(body).SetResult(&w), http.MethodPost, "/api/v1/order").
			Post("/api/v1/order")
	})
	if err != nil {
		return "", err
	}
	return w.OrderID, nil
}

// OrderStatus implements Adapter.
func (a *RESTAdapter) OrderStatus(ctx context.Context, externalID string, symbol types.Symbol) (OrderState, error) {
	var w wireOrder
	path := "/api/v1/order/" + externalID
	err := a.do(ctx, "order_status", func() (*resty.Response, error) {
		return a.signed(a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol.Key()).SetResult(&w), http.MethodGet, path).
			Get(path)
	})
	if err != nil {
		return OrderState{}, err
	}
	return OrderState{
		ExternalID:   w.OrderID,
		Status:       types.TradeStatus(w.Status),
		FilledAmount: mustDec(w.FilledAmount),
		AvgFillPrice: mustDec(w.AvgFillPrice),
		Fee:          mustDec(w.Fee),
	}, nil
}

// CancelOrder implements Adapter.
func (a *RESTAdapter) CancelOrder(ctx context.Context, externalID string, symbol types.Symbol) error {
	path := "/api/v1/order/" + externalID
	return a.do(ctx, "cancel_order", func() (*resty.Response, error) {
		return a.signed(a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol.Key()), http.MethodDelete, path).
			Delete(path)
	})
}

// FundingRate implements Adapter. Only perpetual gateways expose funding.
func (a *RESTAdapter) FundingRate(ctx context.Context, symbol types.Symbol) (types.FundingRate, error) {
	if a.info.Category != types.VenuePerpetual {
		return types.FundingRate{}, ErrNotApplicable
	}
	var w wireFunding
	err := a.do(ctx, "funding_rate", func() (*resty.Response, error) {
		return a.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol.Key()).
			SetResult(&w).
			Get("/api/v1/funding")
	})
	if err != nil {
		return types.FundingRate{}, err
	}
	return types.FundingRate{
		Venue:          a.info.ID,
		Symbol:         symbol,
		Rate:           mustDec(w.Rate),
		PeriodsPerYear: w.PeriodsPerYear,
		NextFundingAt:  time.UnixMilli(w.NextFundingAt),
	}, nil
}

// HealthCheck implements Adapter.
func (a *RESTAdapter) HealthCheck(ctx context.Context) error {
	return a.do(ctx, "ping", func() (*resty.Response, error) {
		return a.http.R().SetContext(ctx).Get("/api/v1/ping")
	})
}

// do runs one gateway call through the rate limiter and retry policy,
// translating HTTP outcomes into typed errors.
func (a *RESTAdapter) do(ctx context.Context, op string, call func() (*resty.Response, error)) error {
	return withRetry(ctx, func() error {
		if err := a.bucket.Wait(ctx); err != nil {
			return NewError(KindTransient, a.info.ID, op, err)
		}
		resp, err := call()
		if err != nil {
			return NewError(KindTransient, a.info.ID, op, err)
		}
		return a.classify(op, resp)
	})
}

// classify maps an HTTP response to the error taxonomy.
func (a *RESTAdapter) classify(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		e := NewError(KindRateLimited, a.info.ID, op, fmt.Errorf("status 429: %s", resp.String()))
		if ra, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			e.RetryAfter = time.Duration(ra) * time.Second
		}
		return e
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewError(KindAuth, a.info.ID, op, fmt.Errorf("status %d: %s", code, resp.String()))
	case code == http.StatusNotFound:
		return NewError(KindNotFound, a.info.ID, op, fmt.Errorf("status 404: %s", resp.String()))
	case code >= 500:
		return NewError(KindTransient, a.info.ID, op, fmt.Errorf("status %d: %s", code, resp.String()))
	default:
		return NewError(KindPermanent, a.info.ID, op, fmt.Errorf("status %d: %s", code, resp.String()))
	}
}

// signed attaches API key, timestamp, and an HMAC-SHA256 signature over
// timestamp+method+path.
func (a *RESTAdapter) signed(r *resty.Request, method, path string) *resty.Request {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(ts + method + path))
	return r.
		SetHeader("X-API-Key", a.apiKey).
		SetHeader("X-Timestamp", ts).
		SetHeader("X-Signature", hex.EncodeToString(mac.Sum(nil)))
}

func convertLevels(ws []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(ws))
	for _, w := range ws {
		out = append(out, types.PriceLevel{Price: mustDec(w[0]), Size: mustDec(w[1])})
	}
	return out
}

// mustDec parses a gateway decimal string; malformed values become zero and
// get caught by snapshot validation downstream.
func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
