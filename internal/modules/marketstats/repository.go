// Package marketstats is the write-side snapshot store: the append-only raw
// tick table plus the minute and hour aggregate tiers.
package marketstats

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
)

// Repository provides access to the write store tables.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new write-store repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "marketstats_repo").Logger(),
	}
}

// decimalFields lists the string-encoded numeric fields of a tick, in the
// order they are validated.
func decimalFields(t *domain.RawTick) []*string {
	return []*string{
		&t.MarkPrice, &t.IndexPrice, &t.LastPrice,
		&t.OpenInterest, &t.OpenInterestUSD, &t.FundingRate,
	}
}

// ValidateTick checks that every numeric-string field parses as a decimal,
// defaulting empty fields to "0". A tick that fails validation is rejected
// before it reaches the batch.
func ValidateTick(t *domain.RawTick) error {
	if t.Exchange == "" || t.Symbol == "" {
		return fmt.Errorf("tick missing exchange or symbol")
	}
	for _, f := range decimalFields(t) {
		if *f == "" {
			*f = "0"
			continue
		}
		if _, err := decimal.NewFromString(*f); err != nil {
			return fmt.Errorf("tick %s/%s has non-decimal field %q: %w", t.Exchange, t.Symbol, *f, err)
		}
	}
	if t.RecordedAt <= 0 {
		return fmt.Errorf("tick %s/%s has no recorded_at", t.Exchange, t.Symbol)
	}
	t.CreatedAt = t.RecordedAt / 1000
	return nil
}

// InsertBatch writes one snapshot's worth of ticks in a single transaction.
// Invalid ticks abort the whole batch; the tracker does not retry, fresher
// observations will supersede it.
func (r *Repository) InsertBatch(ticks []domain.RawTick) error {
	if len(ticks) == 0 {
		return nil
	}

	for i := range ticks {
		if err := ValidateTick(&ticks[i]); err != nil {
			return err
		}
	}

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO market_stats (
				exchange, symbol, market_id, mark_price, index_price, last_price,
				open_interest, open_interest_usd, funding_rate, next_funding_at,
				volume_24h, quote_volume_24h, low_24h, high_24h, price_change_24h,
				recorded_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range ticks {
			_, err := stmt.Exec(
				t.Exchange, t.Symbol, t.MarketID, t.MarkPrice, t.IndexPrice, t.LastPrice,
				t.OpenInterest, t.OpenInterestUSD, t.FundingRate, t.NextFundingAt,
				t.Volume24h, t.QuoteVolume24h, t.Low24h, t.High24h, t.PriceChange24h,
				t.RecordedAt, t.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert tick %s/%s: %w", t.Exchange, t.Symbol, err)
			}
		}
		return nil
	})
}

// OldestUnaggregated returns the created_at of the oldest raw tick, or
// (0, false) when the table is empty.
func (r *Repository) OldestUnaggregated() (int64, bool, error) {
	var ts sql.NullInt64
	err := r.db.QueryRow(`SELECT MIN(created_at) FROM market_stats`).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query oldest raw tick: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// TicksBetween returns raw ticks with created_at in [from, to), ordered by
// exchange, symbol, created_at so bucket grouping is deterministic.
func (r *Repository) TicksBetween(from, to int64) ([]domain.RawTick, error) {
	rows, err := r.db.Query(`
		SELECT exchange, symbol, market_id, mark_price, index_price, last_price,
		       open_interest, open_interest_usd, funding_rate, next_funding_at,
		       volume_24h, quote_volume_24h, low_24h, high_24h, price_change_24h,
		       recorded_at, created_at
		FROM market_stats
		WHERE created_at >= ? AND created_at < ?
		ORDER BY exchange, symbol, created_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw ticks: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// LatestSince returns, for each (exchange, symbol) seen since the cutoff,
// its newest raw tick. Used by the latest-projection materializer.
func (r *Repository) LatestSince(cutoff int64) ([]domain.RawTick, error) {
	// The covering index on (exchange, symbol, created_at) makes the
	// correlated MAX cheap enough at this table's size.
	rows, err := r.db.Query(`
		SELECT m.exchange, m.symbol, m.market_id, m.mark_price, m.index_price, m.last_price,
		       m.open_interest, m.open_interest_usd, m.funding_rate, m.next_funding_at,
		       m.volume_24h, m.quote_volume_24h, m.low_24h, m.high_24h, m.price_change_24h,
		       m.recorded_at, m.created_at
		FROM market_stats m
		JOIN (
			SELECT exchange, symbol, MAX(id) AS max_id
			FROM market_stats
			WHERE created_at >= ?
			GROUP BY exchange, symbol
		) newest ON newest.max_id = m.id
		ORDER BY m.exchange, m.symbol
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest ticks: %w", err)
	}
	defer rows.Close()

	return scanTicks(rows)
}

// DeleteBefore removes raw ticks older than the horizon. Returns the number
// of deleted rows.
func (r *Repository) DeleteBefore(horizon int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM market_stats WHERE created_at < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aged raw ticks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountRaw returns the number of raw tick rows.
func (r *Repository) CountRaw() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM market_stats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count raw ticks: %w", err)
	}
	return n, nil
}

func scanTicks(rows *sql.Rows) ([]domain.RawTick, error) {
	var ticks []domain.RawTick
	for rows.Next() {
		var t domain.RawTick
		var nextFunding sql.NullInt64
		err := rows.Scan(
			&t.Exchange, &t.Symbol, &t.MarketID, &t.MarkPrice, &t.IndexPrice, &t.LastPrice,
			&t.OpenInterest, &t.OpenInterestUSD, &t.FundingRate, &nextFunding,
			&t.Volume24h, &t.QuoteVolume24h, &t.Low24h, &t.High24h, &t.PriceChange24h,
			&t.RecordedAt, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raw tick: %w", err)
		}
		if nextFunding.Valid {
			t.NextFundingAt = &nextFunding.Int64
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw ticks: %w", err)
	}
	return ticks, nil
}
