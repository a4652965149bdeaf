// Package calendar maintains the per-root expiry calendar used to resolve
// continuous, positional and explicit futures (spec.md §4.1), persisting a
// compact record per contract in SQLite and refreshing it on a TTL with a
// per-root single-flight, following the pooled-connection idiom of
// internal/database and the single-flight-via-channel pattern used
// elsewhere in the stack in place of a direct golang.org/x/sync/singleflight
// dependency (the teacher only pulls that package in transitively, never
// imports it directly).
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/apperr"
	"github.com/aristath/quantlab/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	root             TEXT NOT NULL,
	code             TEXT NOT NULL,
	month_code       TEXT NOT NULL,
	year             INTEGER NOT NULL,
	listing_date     INTEGER NOT NULL,
	last_trading_day INTEGER NOT NULL,
	PRIMARY KEY (root, code)
);
CREATE TABLE IF NOT EXISTS refresh_state (
	root         TEXT PRIMARY KEY,
	refreshed_at INTEGER NOT NULL
);
`

// Contract is one futures contract's listing/expiry record.
type Contract struct {
	Root           string
	Code           string // e.g. "ESU26"
	MonthCode      byte
	Year           int
	ListingDate    time.Time
	LastTradingDay time.Time
}

// Lister discovers live and near-past contracts for a root from the
// upstream session. Implemented by internal/upstream.
type Lister interface {
	ListContracts(ctx context.Context, root string) ([]Contract, error)
}

// Calendar is the per-root expiry calendar cache.
type Calendar struct {
	db     *database.DB
	lister Lister
	ttl    time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New opens (creating if necessary) the calendar's SQLite-backed store.
func New(db *database.DB, lister Lister, ttl time.Duration, log zerolog.Logger) (*Calendar, error) {
	if err := db.Exec(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("calendar: failed to apply schema: %w", err)
	}
	return &Calendar{
		db:       db,
		lister:   lister,
		ttl:      ttl,
		log:      log.With().Str("component", "calendar").Logger(),
		inflight: make(map[string]chan struct{}),
	}, nil
}

// Chain returns the root's contracts sorted by last trading day ascending,
// refreshing from the upstream if the cached record is stale or missing.
func (c *Calendar) Chain(ctx context.Context, root string) ([]Contract, error) {
	stale, err := c.isStale(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvariant, "calendar: failed to check staleness", err)
	}
	if stale {
		if err := c.refreshOnce(ctx, root); err != nil {
			contracts, readErr := c.read(root)
			if readErr == nil && len(contracts) > 0 {
				c.log.Warn().Err(err).Str("root", root).Msg("calendar refresh failed, serving stale chain")
				return contracts, nil
			}
			return nil, err
		}
	}
	contracts, err := c.read(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvariant, "calendar: failed to read contracts", err)
	}
	if len(contracts) == 0 {
		return nil, apperr.Newf(apperr.KindUnknownRoot, "no contracts known for root %q", root)
	}
	return contracts, nil
}

// refreshOnce performs a single-flight refresh for root: concurrent callers
// for the same root wait on the first caller's result instead of issuing
// redundant upstream calls (spec.md §5 "the expiry calendar cache: guarded
// by a per-root single-flight").
func (c *Calendar) refreshOnce(ctx context.Context, root string) error {
	c.mu.Lock()
	if ch, ok := c.inflight[root]; ok {
		c.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindCancelled, "calendar: refresh wait cancelled", ctx.Err())
		}
	}
	ch := make(chan struct{})
	c.inflight[root] = ch
	c.mu.Unlock()

	err := c.refresh(ctx, root)

	c.mu.Lock()
	delete(c.inflight, root)
	c.mu.Unlock()
	close(ch)

	return err
}

func (c *Calendar) refresh(ctx context.Context, root string) error {
	contracts, err := c.lister.ListContracts(ctx, root)
	if err != nil {
		return apperr.Wrap(apperr.KindUnknownRoot, fmt.Sprintf("calendar: failed to list contracts for root %q", root), err)
	}
	if len(contracts) == 0 {
		return apperr.Newf(apperr.KindUnknownRoot, "upstream returned no contracts for root %q", root)
	}

	tx, err := c.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("calendar: failed to begin refresh transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE root = ?`, root); err != nil {
		return fmt.Errorf("calendar: failed to clear old contracts: %w", err)
	}
	for _, ct := range contracts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contracts (root, code, month_code, year, listing_date, last_trading_day)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(root, code) DO UPDATE SET
				month_code=excluded.month_code, year=excluded.year,
				listing_date=excluded.listing_date, last_trading_day=excluded.last_trading_day
		`, ct.Root, ct.Code, string(ct.MonthCode), ct.Year, ct.ListingDate.Unix(), ct.LastTradingDay.Unix()); err != nil {
			return fmt.Errorf("calendar: failed to insert contract %s: %w", ct.Code, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_state (root, refreshed_at) VALUES (?, ?)
		ON CONFLICT(root) DO UPDATE SET refreshed_at=excluded.refreshed_at
	`, root, time.Now().Unix()); err != nil {
		return fmt.Errorf("calendar: failed to record refresh timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("calendar: failed to commit refresh: %w", err)
	}
	c.log.Info().Str("root", root).Int("contracts", len(contracts)).Msg("refreshed expiry calendar")
	return nil
}

func (c *Calendar) isStale(root string) (bool, error) {
	var refreshedAt int64
	err := c.db.Conn().QueryRow(`SELECT refreshed_at FROM refresh_state WHERE root = ?`, root).Scan(&refreshedAt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(time.Unix(refreshedAt, 0)) > c.ttl, nil
}

func (c *Calendar) read(root string) ([]Contract, error) {
	rows, err := c.db.Conn().Query(`
		SELECT root, code, month_code, year, listing_date, last_trading_day
		FROM contracts WHERE root = ? ORDER BY last_trading_day ASC
	`, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var ct Contract
		var monthCode string
		var listing, lastTrading int64
		if err := rows.Scan(&ct.Root, &ct.Code, &monthCode, &ct.Year, &listing, &lastTrading); err != nil {
			return nil, err
		}
		if len(monthCode) > 0 {
			ct.MonthCode = monthCode[0]
		}
		ct.ListingDate = time.Unix(listing, 0).UTC()
		ct.LastTradingDay = time.Unix(lastTrading, 0).UTC()
		out = append(out, ct)
	}
	return out, rows.Err()
}
