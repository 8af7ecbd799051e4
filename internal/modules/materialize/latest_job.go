package materialize

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/normalization"
)

// latestLookback bounds how far back the projection job searches for a
// venue's newest tick. A market silent for longer simply goes stale in the
// projection until it speaks again.
const latestLookback = 10 * time.Minute

// TickSource is the slice of the write-store repository the job reads.
type TickSource interface {
	LatestSince(cutoff int64) ([]domain.RawTick, error)
}

// LatestJob refreshes the normalized_tokens projection from the newest raw
// tick per (exchange, symbol).
type LatestJob struct {
	source TickSource
	dest   *Repository
	now    func() time.Time
	log    zerolog.Logger
}

func NewLatestJob(source TickSource, dest *Repository, log zerolog.Logger) *LatestJob {
	return &LatestJob{
		source: source,
		dest:   dest,
		now:    time.Now,
		log:    log.With().Str("job", "materialize_latest").Logger(),
	}
}

func (j *LatestJob) Name() string { return "materialize_latest" }

func (j *LatestJob) Run() error {
	started := j.now()
	cutoff := started.Add(-latestLookback).Unix()

	ticks, err := j.source.LatestSince(cutoff)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		j.log.Debug().Msg("No fresh ticks, projection unchanged")
		return nil
	}

	markets := make([]domain.LatestMarket, 0, len(ticks))
	for _, t := range ticks {
		markets = append(markets, Project(t, started.Unix()))
	}

	if err := j.dest.UpsertLatest(markets); err != nil {
		return err
	}
	j.log.Info().Int("markets", len(markets)).Dur("took", time.Since(started)).Msg("Latest projection refreshed")
	return nil
}

// Project converts one raw tick into its projection row: canonical symbol
// plus the three funding views.
func Project(t domain.RawTick, now int64) domain.LatestMarket {
	views := normalization.NormalizeFunding(t.Exchange, t.FundingRate)
	m := domain.LatestMarket{
		Symbol:            normalization.CanonicalSymbol(t.Symbol),
		Exchange:          t.Exchange,
		OriginalSymbol:    t.Symbol,
		MarkPrice:         t.MarkPrice,
		IndexPrice:        t.IndexPrice,
		OpenInterestUSD:   t.OpenInterestUSD,
		Volume24h:         t.QuoteVolume24h,
		FundingRate:       views.Rate,
		FundingRateHourly: views.Hourly,
		FundingRateAnnual: views.Annual,
		PriceChange24h:    t.PriceChange24h,
		Low24h:            t.Low24h,
		High24h:           t.High24h,
		UpdatedAt:         now,
	}
	if t.NextFundingAt != nil {
		at := *t.NextFundingAt
		m.NextFundingAt = &at
	}
	return m
}
