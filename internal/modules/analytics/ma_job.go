package analytics

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

// FundingSource is the slice of the write-store repository the MA job reads.
type FundingSource interface {
	FundingAverages(from int64) ([]marketstats.FundingAverage, error)
}

// MAJob recomputes the funding moving-average cache for every window.
type MAJob struct {
	source FundingSource
	dest   *Repository
	now    func() time.Time
	log    zerolog.Logger
}

func NewMAJob(source FundingSource, dest *Repository, log zerolog.Logger) *MAJob {
	return &MAJob{
		source: source,
		dest:   dest,
		now:    time.Now,
		log:    log.With().Str("job", "funding_ma").Logger(),
	}
}

func (j *MAJob) Name() string { return "funding_ma" }

func (j *MAJob) Run() error {
	started := j.now()
	total := 0

	for _, window := range domain.MAWindows {
		from := started.Add(-time.Duration(window.Hours()) * time.Hour).Unix()
		avgs, err := j.source.FundingAverages(from)
		if err != nil {
			return err
		}

		mas := make([]domain.FundingMA, 0, len(avgs))
		for _, a := range avgs {
			if a.SampleCount == 0 {
				continue
			}
			mas = append(mas, domain.FundingMA{
				Symbol:           a.NormalizedSymbol,
				Exchange:         a.Exchange,
				Window:           window,
				AvgFundingRate:   a.AvgFundingRate,
				AvgFundingAnnual: a.AvgFundingAnnual,
				SampleCount:      a.SampleCount,
				CalculatedAt:     started.Unix(),
			})
		}
		if err := j.dest.UpsertFundingMAs(mas); err != nil {
			return err
		}
		total += len(mas)
	}

	j.log.Info().Int("rows", total).Dur("took", time.Since(started)).Msg("Funding MA cache rebuilt")
	return nil
}
