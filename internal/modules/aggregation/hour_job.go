package aggregation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

// catch-up cap so a long outage does not turn one invocation into a marathon
const maxHourBucketsPerRun = 48

// HourJob folds minute aggregates into hour aggregates. It resumes from the
// newest hour bucket already written, so missed invocations are caught up on
// the next run.
type HourJob struct {
	repo *marketstats.Repository
	now  func() time.Time
	log  zerolog.Logger
}

// NewHourJob creates the 1m -> 1h roll-up job.
func NewHourJob(repo *marketstats.Repository, log zerolog.Logger) *HourJob {
	return &HourJob{
		repo: repo,
		now:  time.Now,
		log:  log.With().Str("job", "hour_aggregation").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *HourJob) Name() string { return "hour_aggregation" }

// Run executes one fold pass over complete hour buckets.
func (j *HourJob) Run() error {
	now := j.now()
	currentHour := domain.HourBucket(now.Unix())

	start, err := j.startBucket(currentHour)
	if err != nil {
		return err
	}
	if start >= currentHour {
		j.log.Debug().Msg("No complete hour buckets to fold")
		return nil
	}

	end := start + int64(maxHourBucketsPerRun)*3600
	if end > currentHour {
		end = currentHour
	}

	minutes, err := j.repo.AggregatesBetween(marketstats.MinuteTable, start, end)
	if err != nil {
		return err
	}
	if len(minutes) == 0 {
		return nil
	}

	hours := FoldHourAggregates(minutes, now)
	if err := j.repo.UpsertAggregates(marketstats.HourTable, hours); err != nil {
		return fmt.Errorf("failed to upsert hour aggregates: %w", err)
	}

	j.log.Info().
		Int("minute_rows", len(minutes)).
		Int("hour_rows", len(hours)).
		Int64("from", start).
		Int64("to", end).
		Msg("Hour aggregation completed")

	return nil
}

// startBucket picks the first hour bucket to fold: the one after the newest
// hour row, or the hour of the oldest minute row when starting cold.
func (j *HourJob) startBucket(currentHour int64) (int64, error) {
	newest, ok, err := j.repo.NewestBucket(marketstats.HourTable)
	if err != nil {
		return 0, err
	}
	if ok {
		// Re-fold the newest bucket too: it may have been written while
		// its minute rows were still arriving. The upsert makes it safe.
		return newest, nil
	}

	// Cold start: fold everything that exists in the minute tier.
	first, ok, err := j.repo.OldestBucket(marketstats.MinuteTable)
	if err != nil || !ok {
		return currentHour, err
	}
	return domain.HourBucket(first), nil
}
