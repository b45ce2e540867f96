package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"perparb/internal/application/port"
	"perparb/internal/domain/model"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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
  rate REAL NOT NULL,
  next_funding_ms INTEGER,
  interval_hours REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(exchange, base, quote, settle)
);

CREATE TABLE IF NOT EXISTS opportunities_latest (
  base TEXT PRIMARY KEY,
  cycle_id TEXT NOT NULL,
  long_exchange TEXT NOT NULL,
  short_exchange TEXT NOT NULL,
  price_spread_pct REAL NOT NULL,
  funding_spread REAL NOT NULL,
  payload TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opp_spread ON opportunities_latest(price_spread_pct);
`)
	return err
}

// UpsertFunding 覆盖写入某交易所的最新资金费率（只保留最新一行）
func (r *Repo) UpsertFunding(ctx context.Context, exchange string, fs []model.FundingSnapshot) error {
	if len(fs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO funding_latest(exchange, base, quote, settle, rate, next_funding_ms, interval_hours, ts_ms, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, base, quote, settle) DO UPDATE SET
		rate=excluded.rate, next_funding_ms=excluded.next_funding_ms,
		interval_hours=excluded.interval_hours, ts_ms=excluded.ts_ms, updated_at=excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := r.now().UnixMilli()
	for _, f := range fs {
		if !f.Valid() {
			continue
		}
		var next sql.NullInt64
		if f.NextFundingTime != nil {
			next = sql.NullInt64{Int64: *f.NextFundingTime, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, exchange, f.Symbol.Base, f.Symbol.Quote, f.Symbol.Settle,
			f.Rate, next, f.IntervalHours, f.Timestamp, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) LoadFunding(ctx context.Context, exchange string) ([]model.FundingSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT base, quote, settle, rate, next_funding_ms, interval_hours, ts_ms
		FROM funding_latest WHERE exchange=? ORDER BY base, quote, settle
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

// PublishOpportunities replaces the whole table with the given cycle.
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
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opportunities_latest(base, cycle_id, long_exchange, short_exchange, price_spread_pct, funding_spread, payload, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := res.UpdatedAt.UnixMilli()
	for _, o := range res.Opportunities {
		b, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, o.Base, res.CycleID, o.LongExchange, o.ShortExchange,
			o.PriceSpreadPct, o.FundingSpread, string(b), ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestOpportunities reads back the last published cycle, widest spread first.
func (r *Repo) LatestOpportunities(ctx context.Context) (cycleID string, out []model.Opportunity, err error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cycle_id, payload FROM opportunities_latest ORDER BY price_spread_pct DESC, base
	`)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&cycleID, &payload); err != nil {
			return "", nil, err
		}
		var o model.Opportunity
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return "", nil, err
		}
		out = append(out, o)
	}
	return cycleID, out, rows.Err()
}

var _ port.Repository = (*Repo)(nil)
