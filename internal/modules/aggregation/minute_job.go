package aggregation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/modules/marketstats"
)

const (
	// one invocation processes at most this many one-hour windows,
	// starting from the oldest unaggregated timestamp
	maxWindowsPerRun = 20
	windowSize       = int64(3600)
)

// MinuteJob rolls raw ticks into minute aggregates and deletes the consumed
// raw rows. Only complete buckets are touched: a bucket is complete once it
// ended more than the raw retention horizon ago, so late ticks never corrupt
// a closed bucket.
type MinuteJob struct {
	repo         *marketstats.Repository
	rawRetention time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewMinuteJob creates the raw -> 1m roll-up job.
func NewMinuteJob(repo *marketstats.Repository, rawRetention time.Duration, log zerolog.Logger) *MinuteJob {
	return &MinuteJob{
		repo:         repo,
		rawRetention: rawRetention,
		now:          time.Now,
		log:          log.With().Str("job", "minute_aggregation").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *MinuteJob) Name() string { return "minute_aggregation" }

// Run executes one roll-up pass.
func (j *MinuteJob) Run() error {
	now := j.now()

	// Buckets ending after this point are still open.
	limit := now.Add(-j.rawRetention).Unix()
	limit = limit - limit%60

	oldest, ok, err := j.repo.OldestUnaggregated()
	if err != nil {
		return err
	}
	if !ok || oldest >= limit {
		j.log.Debug().Msg("No complete raw buckets to aggregate")
		return nil
	}

	start := oldest - oldest%60
	end := start + windowSize*maxWindowsPerRun
	if end > limit {
		end = limit
	}

	processed := 0
	for winStart := start; winStart < end; winStart += windowSize {
		winEnd := winStart + windowSize
		if winEnd > end {
			winEnd = end
		}

		ticks, err := j.repo.TicksBetween(winStart, winEnd)
		if err != nil {
			return err
		}
		if len(ticks) == 0 {
			continue
		}

		aggs := BuildMinuteAggregates(ticks, now)
		if err := j.repo.UpsertAggregates(marketstats.MinuteTable, aggs); err != nil {
			return fmt.Errorf("failed to upsert minute aggregates: %w", err)
		}
		processed += len(aggs)
	}

	// Delete-after-aggregate: consumed raw rows go away only once their
	// aggregates are committed.
	deleted, err := j.repo.DeleteBefore(end)
	if err != nil {
		return err
	}

	j.log.Info().
		Int("aggregates", processed).
		Int64("raw_deleted", deleted).
		Int64("window_start", start).
		Int64("window_end", end).
		Msg("Minute aggregation completed")

	return nil
}
