// Package markets is the read-only query surface over the read store:
// latest projections, token mappings, bucketed history, and comparisons.
package markets

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Repository reads the read store. It never writes.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "markets_repo").Logger(),
	}
}

// LatestFilter narrows the latest-markets query. Symbol is canonical.
type LatestFilter struct {
	Exchange string
	Symbol   string
	Limit    int
}

func (r *Repository) Latest(f LatestFilter) ([]domain.LatestMarket, error) {
	query := `
		SELECT symbol, exchange, original_symbol, mark_price, index_price,
		       open_interest_usd, volume_24h,
		       funding_rate, funding_rate_hourly, funding_rate_annual, next_funding_at,
		       price_change_24h, low_24h, high_24h,
		       volatility_24h, volatility_7d, atr_14, bollinger_width, updated_at
		FROM normalized_tokens`

	var (
		args    []interface{}
		clauses []string
	)
	if f.Exchange != "" {
		clauses = append(clauses, "exchange = ?")
		args = append(args, f.Exchange)
	}
	if f.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, f.Symbol)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY symbol, exchange"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, clampLimit(f.Limit))
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.LatestMarket
	for rows.Next() {
		m, err := scanLatest(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// TokenMapping is one canonical symbol with its per-venue original symbols.
type TokenMapping struct {
	Symbol  string        `json:"symbol"`
	Markets []TokenMarket `json:"markets"`
}

type TokenMarket struct {
	Exchange       string `json:"exchange"`
	OriginalSymbol string `json:"original_symbol"`
}

// Tokens lists every canonical symbol and where it trades.
func (r *Repository) Tokens() ([]TokenMapping, error) {
	rows, err := r.db.Query(`
		SELECT symbol, exchange, original_symbol
		FROM normalized_tokens
		ORDER BY symbol, exchange`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []TokenMapping
	for rows.Next() {
		var (
			symbol string
			market TokenMarket
		)
		if err := rows.Scan(&symbol, &market.Exchange, &market.OriginalSymbol); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		if len(tokens) == 0 || tokens[len(tokens)-1].Symbol != symbol {
			tokens = append(tokens, TokenMapping{Symbol: symbol})
		}
		last := &tokens[len(tokens)-1]
		last.Markets = append(last.Markets, market)
	}
	return tokens, rows.Err()
}

// HistoryFilter narrows an aggregate history query. Symbol matches the
// canonical form.
type HistoryFilter struct {
	Exchange string
	Symbol   string
	From     int64 // bucket seconds, inclusive; 0 = unbounded
	To       int64 // bucket seconds, exclusive; 0 = unbounded
	Limit    int
}

// History reads the read-side copy of one aggregate tier, newest first.
func (r *Repository) History(table string, f HistoryFilter) ([]domain.Aggregate, error) {
	if table != "market_stats_1m" && table != "market_history" {
		return nil, fmt.Errorf("unknown history table %q", table)
	}

	query := fmt.Sprintf(`
		SELECT exchange, symbol, normalized_symbol, bucket,
		       avg_mark_price, avg_index_price, min_price, max_price, price_volatility,
		       volume, quote_volume,
		       avg_open_interest, max_open_interest, avg_open_interest_usd, max_open_interest_usd,
		       avg_funding_rate, min_funding_rate, max_funding_rate, avg_funding_rate_annual,
		       sample_count, created_at
		FROM %s
		WHERE 1=1`, table)

	var args []interface{}
	if f.Exchange != "" {
		query += " AND exchange = ?"
		args = append(args, f.Exchange)
	}
	if f.Symbol != "" {
		query += " AND normalized_symbol = ?"
		args = append(args, f.Symbol)
	}
	if f.From > 0 {
		query += " AND bucket >= ?"
		args = append(args, f.From)
	}
	if f.To > 0 {
		query += " AND bucket < ?"
		args = append(args, f.To)
	}
	query += " ORDER BY bucket DESC, exchange, symbol LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return marketstats.ScanAggregates(rows)
}

// Comparison is the cross-venue view of one canonical symbol.
type Comparison struct {
	Symbol  string                `json:"symbol"`
	Markets []domain.LatestMarket `json:"markets"`
	Summary ComparisonSummary     `json:"summary"`
}

type ComparisonSummary struct {
	Venues           int     `json:"venues"`
	MinFundingAnnual float64 `json:"min_funding_annual"`
	MaxFundingAnnual float64 `json:"max_funding_annual"`
	FundingSpreadAPR float64 `json:"funding_spread_apr"`
	TotalVolume24h   float64 `json:"total_volume_24h"`
}

// Compare returns every venue's latest row for one canonical symbol plus a
// cross-venue summary. ok is false when no venue lists the symbol.
func (r *Repository) Compare(symbol string) (Comparison, bool, error) {
	markets, err := r.Latest(LatestFilter{Symbol: symbol})
	if err != nil {
		return Comparison{}, false, err
	}
	if len(markets) == 0 {
		return Comparison{}, false, nil
	}

	summary := ComparisonSummary{
		Venues:           len(markets),
		MinFundingAnnual: markets[0].FundingRateAnnual,
		MaxFundingAnnual: markets[0].FundingRateAnnual,
	}
	for _, m := range markets {
		if m.FundingRateAnnual < summary.MinFundingAnnual {
			summary.MinFundingAnnual = m.FundingRateAnnual
		}
		if m.FundingRateAnnual > summary.MaxFundingAnnual {
			summary.MaxFundingAnnual = m.FundingRateAnnual
		}
		summary.TotalVolume24h += m.Volume24h
	}
	summary.FundingSpreadAPR = summary.MaxFundingAnnual - summary.MinFundingAnnual

	return Comparison{Symbol: symbol, Markets: markets, Summary: summary}, true, nil
}

func scanLatest(rows *sql.Rows) (domain.LatestMarket, error) {
	var (
		m             domain.LatestMarket
		nextFundingAt sql.NullInt64
		vol24h        sql.NullFloat64
		vol7d         sql.NullFloat64
		atr14         sql.NullFloat64
		bbWidth       sql.NullFloat64
	)
	err := rows.Scan(&m.Symbol, &m.Exchange, &m.OriginalSymbol, &m.MarkPrice, &m.IndexPrice,
		&m.OpenInterestUSD, &m.Volume24h,
		&m.FundingRate, &m.FundingRateHourly, &m.FundingRateAnnual, &nextFundingAt,
		&m.PriceChange24h, &m.Low24h, &m.High24h,
		&vol24h, &vol7d, &atr14, &bbWidth, &m.UpdatedAt)
	if err != nil {
		return domain.LatestMarket{}, fmt.Errorf("failed to scan latest market: %w", err)
	}
	if nextFundingAt.Valid {
		at := nextFundingAt.Int64
		m.NextFundingAt = &at
	}
	if vol24h.Valid {
		m.Volatility24h = &vol24h.Float64
	}
	if vol7d.Valid {
		m.Volatility7d = &vol7d.Float64
	}
	if atr14.Valid {
		m.ATR14 = &atr14.Float64
	}
	if bbWidth.Valid {
		m.BollingerWidth = &bbWidth.Float64
	}
	return m, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
