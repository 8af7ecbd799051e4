// Package materialize moves data from the write store into the read store:
// the latest-markets projection on a short cadence and the aggregate
// backfill on a daily one.
package materialize

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
)

// Repository is the write side of the read store.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "materialize_repo").Logger(),
	}
}

// UpsertLatest replaces rows of the normalized_tokens projection in one
// transaction. The volatility columns are left untouched on conflict: the
// analytics job fills them on its own cadence.
func (r *Repository) UpsertLatest(markets []domain.LatestMarket) error {
	if len(markets) == 0 {
		return nil
	}

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO normalized_tokens
				(symbol, exchange, original_symbol, mark_price, index_price,
				 open_interest_usd, volume_24h,
				 funding_rate, funding_rate_hourly, funding_rate_annual, next_funding_at,
				 price_change_24h, low_24h, high_24h, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, exchange) DO UPDATE SET
				original_symbol = excluded.original_symbol,
				mark_price = excluded.mark_price,
				index_price = excluded.index_price,
				open_interest_usd = excluded.open_interest_usd,
				volume_24h = excluded.volume_24h,
				funding_rate = excluded.funding_rate,
				funding_rate_hourly = excluded.funding_rate_hourly,
				funding_rate_annual = excluded.funding_rate_annual,
				next_funding_at = excluded.next_funding_at,
				price_change_24h = excluded.price_change_24h,
				low_24h = excluded.low_24h,
				high_24h = excluded.high_24h,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare latest upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range markets {
			var nextFundingAt sql.NullInt64
			if m.NextFundingAt != nil {
				nextFundingAt = sql.NullInt64{Int64: *m.NextFundingAt, Valid: true}
			}
			_, err := stmt.Exec(
				m.Symbol, m.Exchange, m.OriginalSymbol, m.MarkPrice, m.IndexPrice,
				m.OpenInterestUSD, m.Volume24h,
				m.FundingRate, m.FundingRateHourly, m.FundingRateAnnual, nextFundingAt,
				m.PriceChange24h, m.Low24h, m.High24h, m.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert latest %s/%s: %w", m.Symbol, m.Exchange, err)
			}
		}
		return nil
	})
}

// UpdateVolatility writes only the analytics columns of one projection row.
func (r *Repository) UpdateVolatility(symbol, exchange string, vol24h, vol7d, atr14, bbWidth *float64) error {
	_, err := r.db.Exec(`
		UPDATE normalized_tokens
		SET volatility_24h = ?, volatility_7d = ?, atr_14 = ?, bollinger_width = ?
		WHERE symbol = ? AND exchange = ?`,
		nullFloat(vol24h), nullFloat(vol7d), nullFloat(atr14), nullFloat(bbWidth),
		symbol, exchange,
	)
	if err != nil {
		return fmt.Errorf("failed to update volatility for %s/%s: %w", symbol, exchange, err)
	}
	return nil
}

// CopyAggregates mirrors aggregate rows into the read-side copy of table.
func (r *Repository) CopyAggregates(table string, aggs []domain.Aggregate) error {
	if table != "market_stats_1m" && table != "market_history" {
		return fmt.Errorf("unknown read aggregate table %q", table)
	}
	if len(aggs) == 0 {
		return nil
	}

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(fmt.Sprintf(`
			INSERT OR REPLACE INTO %s
				(exchange, symbol, normalized_symbol, bucket,
				 avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
				 volume, quote_volume,
				 avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
				 avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
				 sample_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))
		if err != nil {
			return fmt.Errorf("failed to prepare aggregate copy: %w", err)
		}
		defer stmt.Close()

		for _, a := range aggs {
			_, err := stmt.Exec(
				a.Exchange, a.Symbol, a.NormalizedSymbol, a.Bucket,
				a.AvgMarkPrice, a.AvgIndexPrice, a.MinPrice, a.MaxPrice, a.PriceVolatility,
				a.Volume, a.QuoteVolume,
				a.AvgOpenInterest, a.MaxOpenInterest, a.AvgOpenInterestUSD, a.MaxOpenInterestUSD,
				a.AvgFundingRate, a.MinFundingRate, a.MaxFundingRate, a.AvgFundingRateAnnual,
				a.SampleCount, a.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to copy aggregate %s/%s@%d: %w", a.Exchange, a.Symbol, a.Bucket, err)
			}
		}
		return nil
	})
}

// Checkpoint returns the last fully copied bucket for a backfill job.
func (r *Repository) Checkpoint(job string) (int64, bool, error) {
	var bucket int64
	err := r.db.QueryRow(`SELECT last_bucket FROM backfill_checkpoints WHERE job = ?`, job).Scan(&bucket)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read checkpoint %s: %w", job, err)
	}
	return bucket, true, nil
}

// SetCheckpoint records the last fully copied bucket for a backfill job.
func (r *Repository) SetCheckpoint(job string, bucket int64) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO backfill_checkpoints (job, last_bucket, updated_at)
		VALUES (?, ?, ?)`, job, bucket, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", job, err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
