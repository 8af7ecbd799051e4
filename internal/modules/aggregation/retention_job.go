package aggregation

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/modules/marketstats"
)

// RetentionJob deletes aged aggregate rows: minute rows past N days, hour
// rows past M days. It runs daily, after the roll-up jobs, so a partially
// aggregated bucket is never deleted.
type RetentionJob struct {
	repo       *marketstats.Repository
	minuteDays int
	hourDays   int
	now        func() time.Time
	log        zerolog.Logger
}

// NewRetentionJob creates the daily retention job.
func NewRetentionJob(repo *marketstats.Repository, minuteDays, hourDays int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:       repo,
		minuteDays: minuteDays,
		hourDays:   hourDays,
		now:        time.Now,
		log:        log.With().Str("job", "aggregate_retention").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *RetentionJob) Name() string { return "aggregate_retention" }

// Run deletes aged rows from both aggregate tiers.
func (j *RetentionJob) Run() error {
	now := j.now()

	minuteHorizon := now.AddDate(0, 0, -j.minuteDays).Unix()
	minuteDeleted, err := j.repo.DeleteAggregatesBefore(marketstats.MinuteTable, minuteHorizon)
	if err != nil {
		return err
	}

	hourHorizon := now.AddDate(0, 0, -j.hourDays).Unix()
	hourDeleted, err := j.repo.DeleteAggregatesBefore(marketstats.HourTable, hourHorizon)
	if err != nil {
		return err
	}

	j.log.Info().
		Int64("minute_deleted", minuteDeleted).
		Int64("hour_deleted", hourDeleted).
		Msg("Aggregate retention completed")

	return nil
}
