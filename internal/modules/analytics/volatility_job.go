package analytics

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

// SeriesSource is the slice of the write-store repository the volatility
// job reads candle series from.
type SeriesSource interface {
	ActiveMarkets(table string, from int64) ([]marketstats.Market, error)
	Series(table, exchange, symbol string, from int64) ([]domain.Aggregate, error)
}

// VolatilityWriter updates the analytics columns of the latest-markets
// projection.
type VolatilityWriter interface {
	UpdateVolatility(symbol, exchange string, vol24h, vol7d, atr14, bbWidth *float64) error
}

// VolatilityJob recomputes per-market volatility indicators from the
// aggregate tiers and writes them onto the read projection.
type VolatilityJob struct {
	source SeriesSource
	dest   VolatilityWriter
	now    func() time.Time
	log    zerolog.Logger
}

func NewVolatilityJob(source SeriesSource, dest VolatilityWriter, log zerolog.Logger) *VolatilityJob {
	return &VolatilityJob{
		source: source,
		dest:   dest,
		now:    time.Now,
		log:    log.With().Str("job", "volatility").Logger(),
	}
}

func (j *VolatilityJob) Name() string { return "volatility" }

func (j *VolatilityJob) Run() error {
	started := j.now()
	weekAgo := started.Add(-7 * 24 * time.Hour).Unix()
	dayAgo := started.Add(-24 * time.Hour).Unix()

	markets, err := j.source.ActiveMarkets(marketstats.HourTable, weekAgo)
	if err != nil {
		return err
	}

	updated := 0
	for _, mk := range markets {
		hourly, err := j.source.Series(marketstats.HourTable, mk.Exchange, mk.Symbol, weekAgo)
		if err != nil {
			return err
		}
		minute, err := j.source.Series(marketstats.MinuteTable, mk.Exchange, mk.Symbol, dayAgo)
		if err != nil {
			return err
		}

		m := ComputeVolatility(minute, hourly)
		if m.Volatility24h == nil && m.Volatility7d == nil && m.ATR14 == nil && m.BollingerWidth == nil {
			continue
		}

		if err := j.dest.UpdateVolatility(mk.NormalizedSymbol, mk.Exchange,
			m.Volatility24h, m.Volatility7d, m.ATR14, m.BollingerWidth); err != nil {
			j.log.Warn().Err(err).Str("symbol", mk.NormalizedSymbol).Str("exchange", mk.Exchange).
				Msg("Failed to write volatility metrics")
			continue
		}
		updated++
	}

	j.log.Info().Int("markets", updated).Dur("took", time.Since(started)).Msg("Volatility metrics refreshed")
	return nil
}
