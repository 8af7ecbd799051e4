// Package analytics builds the derived caches: funding-rate moving
// averages, cross-venue arbitrage opportunities, and volatility metrics.
package analytics

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
)

// Repository owns the funding_ma_cache and arbitrage_cache tables in the
// read store. The jobs write them; the API reads them through the filters
// below.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "analytics_repo").Logger(),
	}
}

func (r *Repository) UpsertFundingMAs(mas []domain.FundingMA) error {
	if len(mas) == 0 {
		return nil
	}
	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO funding_ma_cache
				(symbol, exchange, window, avg_funding_rate, avg_funding_annual, sample_count, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare funding MA upsert: %w", err)
		}
		defer stmt.Close()

		for _, ma := range mas {
			_, err := stmt.Exec(ma.Symbol, ma.Exchange, string(ma.Window),
				ma.AvgFundingRate, ma.AvgFundingAnnual, ma.SampleCount, ma.CalculatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert funding MA %s/%s/%s: %w", ma.Symbol, ma.Exchange, ma.Window, err)
			}
		}
		return nil
	})
}

// MAFilter narrows a funding-MA query. Empty slices mean no filter.
type MAFilter struct {
	Symbols   []string
	Exchanges []string
	Windows   []domain.MAWindow
}

func (r *Repository) FundingMAs(f MAFilter) ([]domain.FundingMA, error) {
	query := `
		SELECT symbol, exchange, window, avg_funding_rate, avg_funding_annual, sample_count, calculated_at
		FROM funding_ma_cache`
	where, args := buildWhere([]condition{
		inCondition("symbol", f.Symbols),
		inCondition("exchange", f.Exchanges),
		inCondition("window", windowStrings(f.Windows)),
	})
	query += where + ` ORDER BY symbol, exchange, window`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding MAs: %w", err)
	}
	defer rows.Close()

	var mas []domain.FundingMA
	for rows.Next() {
		var (
			ma     domain.FundingMA
			window string
		)
		if err := rows.Scan(&ma.Symbol, &ma.Exchange, &window,
			&ma.AvgFundingRate, &ma.AvgFundingAnnual, &ma.SampleCount, &ma.CalculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan funding MA: %w", err)
		}
		ma.Window = domain.MAWindow(window)
		mas = append(mas, ma)
	}
	return mas, rows.Err()
}

func (r *Repository) UpsertArbitrage(opps []domain.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		return nil
	}
	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO arbitrage_cache
				(symbol, long_exchange, short_exchange, window,
				 long_rate, short_rate, long_rate_annual, short_rate_annual,
				 spread, spread_apr, stability_score, is_stable, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare arbitrage upsert: %w", err)
		}
		defer stmt.Close()

		for _, o := range opps {
			stable := 0
			if o.IsStable {
				stable = 1
			}
			_, err := stmt.Exec(o.Symbol, o.LongExchange, o.ShortExchange, string(o.Window),
				o.LongRate, o.ShortRate, o.LongRateAnnual, o.ShortRateAnnual,
				o.Spread, o.SpreadAPR, o.StabilityScore, stable, o.CalculatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert arbitrage %s %s/%s/%s: %w",
					o.Symbol, o.LongExchange, o.ShortExchange, o.Window, err)
			}
		}
		return nil
	})
}

// ArbitrageFilter narrows an arbitrage query.
type ArbitrageFilter struct {
	Symbols      []string
	Exchanges    []string // matches either leg
	Windows      []domain.MAWindow
	MinSpread    float64
	MinSpreadAPR float64
	OnlyStable   bool
	SortBy       string // spread_apr (default), spread, symbol, stability_score
	Order        string // desc (default) or asc
	Limit        int
}

var arbitrageSortColumns = map[string]string{
	"spread_apr":      "spread_apr",
	"spread":          "spread",
	"symbol":          "symbol",
	"stability_score": "stability_score",
}

func (r *Repository) Arbitrage(f ArbitrageFilter) ([]domain.ArbitrageOpportunity, error) {
	conds := []condition{
		inCondition("symbol", f.Symbols),
		inCondition("window", windowStrings(f.Windows)),
	}
	if len(f.Exchanges) > 0 {
		long := inCondition("long_exchange", f.Exchanges)
		short := inCondition("short_exchange", f.Exchanges)
		conds = append(conds, condition{
			clause: "(" + long.clause + " OR " + short.clause + ")",
			args:   append(long.args, short.args...),
		})
	}
	if f.MinSpread > 0 {
		conds = append(conds, condition{clause: "spread >= ?", args: []interface{}{f.MinSpread}})
	}
	if f.MinSpreadAPR > 0 {
		conds = append(conds, condition{clause: "spread_apr >= ?", args: []interface{}{f.MinSpreadAPR}})
	}
	if f.OnlyStable {
		conds = append(conds, condition{clause: "is_stable = 1"})
	}

	query := `
		SELECT symbol, long_exchange, short_exchange, window,
		       long_rate, short_rate, long_rate_annual, short_rate_annual,
		       spread, spread_apr, stability_score, is_stable, calculated_at
		FROM arbitrage_cache`
	where, args := buildWhere(conds)
	query += where

	sortCol, ok := arbitrageSortColumns[f.SortBy]
	if !ok {
		sortCol = "spread_apr"
	}
	direction := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, symbol, long_exchange, short_exchange", sortCol, direction)

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query arbitrage cache: %w", err)
	}
	defer rows.Close()

	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		var (
			o      domain.ArbitrageOpportunity
			window string
			stable int
		)
		if err := rows.Scan(&o.Symbol, &o.LongExchange, &o.ShortExchange, &window,
			&o.LongRate, &o.ShortRate, &o.LongRateAnnual, &o.ShortRateAnnual,
			&o.Spread, &o.SpreadAPR, &o.StabilityScore, &stable, &o.CalculatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan arbitrage row: %w", err)
		}
		o.Window = domain.MAWindow(window)
		o.IsStable = stable == 1
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

type condition struct {
	clause string
	args   []interface{}
}

func inCondition(column string, values []string) condition {
	if len(values) == 0 {
		return condition{}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return condition{clause: column + " IN (" + placeholders + ")", args: args}
}

func buildWhere(conds []condition) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	for _, c := range conds {
		if c.clause == "" {
			continue
		}
		clauses = append(clauses, c.clause)
		args = append(args, c.args...)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func windowStrings(windows []domain.MAWindow) []string {
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = string(w)
	}
	return out
}
