package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS funding_latest (
  exchange TEXT NOT NULL,
  base TEXT NOT NULL,
  quote TEXT NOT NULL,
  settle TEXT NOT NULL,
  rate DOUBLE PRECISION NOT NULL,
  next_funding_ms BIGINT,
  interval_hours DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY(exchange, base, quote, settle)
);

CREATE TABLE IF NOT EXISTS opportunities_latest (
  base TEXT PRIMARY KEY,
  cycle_id TEXT NOT NULL,
  long_exchange TEXT NOT NULL,
  short_exchange TEXT NOT NULL,
  price_spread_pct DOUBLE PRECISION NOT NULL,
  funding_spread DOUBLE PRECISION NOT NULL,
  payload JSONB NOT NULL,
  ts_ms BIGINT NOT NULL
);
`)
	return err
}

func (r *Repo) UpsertFunding(ctx context.Context, exchange string, fs []model.FundingSnapshot) error {
	if len(fs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range fs {
		if !f.Valid() {
			continue
		}
		var next sql.NullInt64
		if f.NextFundingTime != nil {
			next = sql.NullInt64{Int64: *f.NextFundingTime, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO funding_latest(exchange, base, quote, settle, rate, next_funding_ms, interval_hours, ts_ms)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT(exchange, base, quote, settle) DO UPDATE SET
			rate=EXCLUDED.rate, next_funding_ms=EXCLUDED.next_funding_ms,
			interval_hours=EXCLUDED.interval_hours, ts_ms=EXCLUDED.ts_ms, updated_at=now()
		`, exchange, f.Symbol.Base, f.Symbol.Quote, f.Symbol.Settle, f.Rate, next, f.IntervalHours, f.Timestamp)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) LoadFunding(ctx context.Context, exchange string) ([]model.FundingSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT base, quote, settle, rate, next_funding_ms, interval_hours, ts_ms
		FROM funding_latest WHERE exchange=$1 ORDER BY base, quote, settle
	`, exchange)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FundingSnapshot
	for rows.Next() {
		var (
			f            model.FundingSnapshot
			base, q, stl string
			next         sql.NullInt64
		)
		if err := rows.Scan(&base, &q, &stl, &f.Rate, &next, &f.IntervalHours, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Exchange = exchange
		f.Symbol = model.NewSymbol(base, q, stl)
		if next.Valid {
			v := next.Int64
			f.NextFundingTime = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repo) PublishOpportunities(ctx context.Context, res *model.Result) error {
	if res == nil {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunities_latest`); err != nil {
		return err
	}
	ts := res.UpdatedAt.UnixMilli()
	for _, o := range res.Opportunities {
		b, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opportunities_latest(base, cycle_id, long_exchange, short_exchange, price_spread_pct, funding_spread, payload, ts_ms)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.Base, res.CycleID, o.LongExchange, o.ShortExchange, o.PriceSpreadPct, o.FundingSpread, string(b), ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ port.Repository = (*Repo)(nil)
