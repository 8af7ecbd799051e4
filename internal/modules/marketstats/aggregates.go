package marketstats

import (
	"database/sql"
	"fmt"

	"github.com/aristath/perptrack/internal/domain"
)

// aggregate tier table names in the write store
const (
	MinuteTable = "market_stats_1m"
	HourTable   = "market_history"
)

// UpsertAggregates replaces aggregate rows keyed by (exchange, symbol,
// bucket). The same statement serves both tiers.
func (r *Repository) UpsertAggregates(table string, aggs []domain.Aggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	if table != MinuteTable && table != HourTable {
		return fmt.Errorf("unknown aggregate table %q", table)
	}

	return withAggregateUpsert(r.db.Conn(), table, aggs)
}

func withAggregateUpsert(db *sql.DB, table string, aggs []domain.Aggregate) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin aggregate upsert: %w", err)
	}

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (
			exchange, symbol, normalized_symbol, bucket,
			avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
			volume, quote_volume,
			avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
			avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
			sample_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare aggregate upsert: %w", err)
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
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert aggregate %s/%s@%d: %w", a.Exchange, a.Symbol, a.Bucket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aggregate upsert: %w", err)
	}
	return nil
}

// AggregatesBetween returns aggregate rows with bucket in [from, to),
// ordered for deterministic folding.
func (r *Repository) AggregatesBetween(table string, from, to int64) ([]domain.Aggregate, error) {
	if table != MinuteTable && table != HourTable {
		return nil, fmt.Errorf("unknown aggregate table %q", table)
	}

	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT exchange, symbol, normalized_symbol, bucket,
		       avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
		       volume, quote_volume,
		       avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
		       avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
		       sample_count, created_at
		FROM %s
		WHERE bucket >= ? AND bucket < ?
		ORDER BY exchange, symbol, bucket
	`, table), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	return ScanAggregates(rows)
}

// AggregatesAfter returns up to limit aggregate rows with bucket greater
// than after, ordered by bucket. Backfill paging walks the table with it.
func (r *Repository) AggregatesAfter(table string, after int64, limit int) ([]domain.Aggregate, error) {
	if table != MinuteTable && table != HourTable {
		return nil, fmt.Errorf("unknown aggregate table %q", table)
	}

	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT exchange, symbol, normalized_symbol, bucket,
		       avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
		       volume, quote_volume,
		       avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
		       avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
		       sample_count, created_at
		FROM %s
		WHERE bucket > ?
		ORDER BY bucket, exchange, symbol
		LIMIT ?
	`, table), after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page aggregates: %w", err)
	}
	defer rows.Close()

	return ScanAggregates(rows)
}

// FundingAverage is one (exchange, canonical symbol) mean over a window of
// hour aggregates. Consumed by the moving-average job.
type FundingAverage struct {
	Exchange         string
	NormalizedSymbol string
	AvgFundingRate   float64
	AvgFundingAnnual float64
	SampleCount      int
}

// FundingAverages computes mean funding rates per (exchange, canonical
// symbol) across hour aggregates with bucket >= from.
func (r *Repository) FundingAverages(from int64) ([]FundingAverage, error) {
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT exchange, normalized_symbol,
		       AVG(avg_funding_rate), AVG(avg_funding_rate_annual), COUNT(*)
		FROM %s
		WHERE bucket >= ?
		GROUP BY exchange, normalized_symbol
		ORDER BY exchange, normalized_symbol
	`, HourTable), from)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding averages: %w", err)
	}
	defer rows.Close()

	var avgs []FundingAverage
	for rows.Next() {
		var a FundingAverage
		if err := rows.Scan(&a.Exchange, &a.NormalizedSymbol, &a.AvgFundingRate, &a.AvgFundingAnnual, &a.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan funding average: %w", err)
		}
		avgs = append(avgs, a)
	}
	return avgs, rows.Err()
}

// Market identifies one tracked (exchange, symbol) pair.
type Market struct {
	Exchange         string
	Symbol           string
	NormalizedSymbol string
}

// ActiveMarkets lists the distinct markets present in an aggregate table
// since from.
func (r *Repository) ActiveMarkets(table string, from int64) ([]Market, error) {
	if table != MinuteTable && table != HourTable {
		return nil, fmt.Errorf("unknown aggregate table %q", table)
	}
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT DISTINCT exchange, symbol, normalized_symbol
		FROM %s
		WHERE bucket >= ?
		ORDER BY exchange, symbol
	`, table), from)
	if err != nil {
		return nil, fmt.Errorf("failed to query active markets: %w", err)
	}
	defer rows.Close()

	var markets []Market
	for rows.Next() {
		var m Market
		if err := rows.Scan(&m.Exchange, &m.Symbol, &m.NormalizedSymbol); err != nil {
			return nil, fmt.Errorf("failed to scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Series returns one market's aggregate rows with bucket >= from, oldest
// first. Analytics indicators consume it as a candle series.
func (r *Repository) Series(table, exchange, symbol string, from int64) ([]domain.Aggregate, error) {
	if table != MinuteTable && table != HourTable {
		return nil, fmt.Errorf("unknown aggregate table %q", table)
	}
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT exchange, symbol, normalized_symbol, bucket,
		       avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
		       volume, quote_volume,
		       avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
		       avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
		       sample_count, created_at
		FROM %s
		WHERE exchange = ? AND symbol = ? AND bucket >= ?
		ORDER BY bucket
	`, table), exchange, symbol, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregate series: %w", err)
	}
	defer rows.Close()

	return ScanAggregates(rows)
}

// NewestBucket returns the newest bucket in an aggregate table, or (0, false)
// when the table is empty.
func (r *Repository) NewestBucket(table string) (int64, bool, error) {
	if table != MinuteTable && table != HourTable {
		return 0, false, fmt.Errorf("unknown aggregate table %q", table)
	}
	var ts sql.NullInt64
	err := r.db.QueryRow(fmt.Sprintf(`SELECT MAX(bucket) FROM %s`, table)).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query newest bucket: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// OldestBucket returns the oldest bucket in an aggregate table, or (0, false)
// when the table is empty.
func (r *Repository) OldestBucket(table string) (int64, bool, error) {
	if table != MinuteTable && table != HourTable {
		return 0, false, fmt.Errorf("unknown aggregate table %q", table)
	}
	var ts sql.NullInt64
	err := r.db.QueryRow(fmt.Sprintf(`SELECT MIN(bucket) FROM %s`, table)).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query oldest bucket: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// DeleteAggregatesBefore removes aggregate rows with bucket older than the
// horizon. Used by the retention job.
func (r *Repository) DeleteAggregatesBefore(table string, horizon int64) (int64, error) {
	if table != MinuteTable && table != HourTable {
		return 0, fmt.Errorf("unknown aggregate table %q", table)
	}
	res, err := r.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE bucket < ?`, table), horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aged aggregates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ScanAggregates reads aggregate rows from any source with the canonical
// column order. Shared with the read-side repositories.
func ScanAggregates(rows *sql.Rows) ([]domain.Aggregate, error) {
	var aggs []domain.Aggregate
	for rows.Next() {
		var a domain.Aggregate
		err := rows.Scan(
			&a.Exchange, &a.Symbol, &a.NormalizedSymbol, &a.Bucket,
			&a.AvgMarkPrice, &a.AvgIndexPrice, &a.MinPrice, &a.MaxPrice, &a.PriceVolatility,
			&a.Volume, &a.QuoteVolume,
			&a.AvgOpenInterest, &a.MaxOpenInterest, &a.AvgOpenInterestUSD, &a.MaxOpenInterestUSD,
			&a.AvgFundingRate, &a.MinFundingRate, &a.MaxFundingRate, &a.AvgFundingRateAnnual,
			&a.SampleCount, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return aggs, nil
}
