// Package store persists an append-only audit trail of opportunities,
// executions, and trades to Postgres, plus a last-writer-wins balance table.
//
// Persistence is optional: with an empty DSN Open returns a nil *Store, and
// every method is nil-receiver safe, so callers never branch on whether
// auditing is enabled. Write failures are logged and swallowed; the trading
// path never blocks on the database.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"crossarb/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	net_quote    NUMERIC NOT NULL,
	net_pct      NUMERIC NOT NULL,
	volume_quote NUMERIC NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS executions (
	id              TEXT PRIMARY KEY,
	opportunity_id  TEXT NOT NULL,
	status          TEXT NOT NULL,
	realized_profit NUMERIC NOT NULL,
	total_fees      NUMERIC NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	errors          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS trades (
	id                TEXT PRIMARY KEY,
	execution_id      TEXT NOT NULL,
	venue             TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	requested_amount  NUMERIC NOT NULL,
	requested_price   NUMERIC NOT NULL,
	filled_amount     NUMERIC NOT NULL,
	avg_fill_price    NUMERIC NOT NULL,
	fee               NUMERIC NOT NULL,
	status            TEXT NOT NULL,
	external_order_id TEXT NOT NULL DEFAULT '',
	client_order_id   TEXT NOT NULL,
	compensation      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
	venue      TEXT NOT NULL,
	asset      TEXT NOT NULL,
	free       NUMERIC NOT NULL,
	locked     NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (venue, asset)
);

CREATE INDEX IF NOT EXISTS idx_trades_execution ON trades (execution_id);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions (started_at);
`

// Store is the Postgres audit writer.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to Postgres and applies the schema. An empty DSN disables
// persistence: Open returns (nil, nil) and nil-receiver methods no-op.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		logger.Info("audit store disabled (no DSN)")
		return nil, nil
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	logger.Info("audit store connected")
	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordOpportunity appends one opportunity row with its gate outcome.
// reason is empty for approved opportunities.
func (s *Store) RecordOpportunity(ctx context.Context, op types.Opportunity, reason string) {
	if s == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities
			(id, kind, symbol, net_quote, net_pct, volume_quote, confidence,
			 status, reason, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, reason = EXCLUDED.reason`,
		op.ID, op.Kind, op.Symbol.Key(),
		op.ProjectedProfitQuote, op.ProjectedProfitPct, op.VolumeQuote,
		op.Confidence, op.Status, reason, op.CreatedAt, op.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("record opportunity failed", "id", op.ID, "error", err)
	}
}

// RecordExecution appends the execution row and its trades in one
// transaction.
func (s *Store) RecordExecution(ctx context.Context, exec types.Execution) {
	if s == nil {
		return
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Error("record execution failed", "id", exec.ID, "error", err)
		return
	}
	defer tx.Rollback()

	var completedAt interface{}
	if !exec.CompletedAt.IsZero() {
		completedAt = exec.CompletedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions
			(id, opportunity_id, status, realized_profit, total_fees,
			 started_at, completed_at, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			realized_profit = EXCLUDED.realized_profit,
			total_fees = EXCLUDED.total_fees,
			completed_at = EXCLUDED.completed_at,
			errors = EXCLUDED.errors`,
		exec.ID, exec.OpportunityID, exec.Status,
		exec.RealizedProfit, exec.TotalFees,
		exec.StartedAt, completedAt, strings.Join(exec.Errors, "; "),
	)
	if err != nil {
		s.logger.Error("record execution failed", "id", exec.ID, "error", err)
		return
	}

	for _, t := range exec.Trades {
		if err := insertTrade(ctx, tx, exec.ID, t); err != nil {
			s.logger.Error("record trade failed",
				"execution_id", exec.ID, "trade_id", t.ID, "error", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("record execution failed", "id", exec.ID, "error", err)
	}
}

func insertTrade(ctx context.Context, tx *sqlx.Tx, executionID string, t types.Trade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, execution_id, venue, symbol, side, requested_amount,
			 requested_price, filled_amount, avg_fill_price, fee, status,
			 external_order_id, client_order_id, compensation, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			filled_amount = EXCLUDED.filled_amount,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fee = EXCLUDED.fee,
			status = EXCLUDED.status`,
		t.ID, executionID, t.Venue, t.Symbol.Key(), t.Side,
		t.RequestedAmount, t.RequestedPrice, t.FilledAmount, t.AvgFillPrice,
		t.Fee, t.Status, t.ExternalOrderID, t.ClientOrderID, t.Compensation,
		t.CreatedAt,
	)
	return err
}

// UpsertBalance writes the latest balance for one (venue, asset); the most
// recent write wins.
func (s *Store) UpsertBalance(ctx context.Context, b types.Balance) {
	if s == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (venue, asset, free, locked, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (venue, asset) DO UPDATE SET
			free = EXCLUDED.free,
			locked = EXCLUDED.locked,
			updated_at = EXCLUDED.updated_at`,
		b.Venue, b.Asset, b.Free, b.Locked, b.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("upsert balance failed",
			"venue", b.Venue, "asset", b.Asset, "error", err)
	}
}
