package materialize

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

const (
	// backfillPageSize bounds one copy transaction.
	backfillPageSize = 1000

	// backfillBound is how far back a cold backfill reaches.
	backfillBound = 30 * 24 * time.Hour
)

// AggregateSource is the slice of the write-store repository the backfill
// reads.
type AggregateSource interface {
	AggregatesAfter(table string, after int64, limit int) ([]domain.Aggregate, error)
}

// BackfillJob mirrors one aggregate tier from the write store into the read
// store, resuming from a checkpoint so each run only moves new buckets.
type BackfillJob struct {
	source AggregateSource
	dest   *Repository
	table  string
	job    string
	now    func() time.Time
	log    zerolog.Logger
}

func NewMinuteBackfillJob(source AggregateSource, dest *Repository, log zerolog.Logger) *BackfillJob {
	return newBackfillJob(source, dest, marketstats.MinuteTable, "1m", log)
}

func NewHourBackfillJob(source AggregateSource, dest *Repository, log zerolog.Logger) *BackfillJob {
	return newBackfillJob(source, dest, marketstats.HourTable, "1h", log)
}

func newBackfillJob(source AggregateSource, dest *Repository, table, job string, log zerolog.Logger) *BackfillJob {
	return &BackfillJob{
		source: source,
		dest:   dest,
		table:  table,
		job:    job,
		now:    time.Now,
		log:    log.With().Str("job", "backfill_"+job).Logger(),
	}
}

func (j *BackfillJob) Name() string { return "backfill_" + j.job }

func (j *BackfillJob) Run() error {
	after, ok, err := j.dest.Checkpoint(j.job)
	if err != nil {
		return err
	}
	if !ok {
		// cold start: do not reach past the bound
		after = j.now().Add(-backfillBound).Unix()
	}

	copied := 0
	for {
		page, err := j.source.AggregatesAfter(j.table, after, backfillPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		// a full page may end mid-bucket; hold that bucket for the next
		// page so the checkpoint only ever names complete buckets
		if len(page) == backfillPageSize {
			last := page[len(page)-1].Bucket
			cut := len(page)
			for cut > 0 && page[cut-1].Bucket == last {
				cut--
			}
			if cut == 0 {
				// one giant bucket; copy it whole next round
				page, err = j.source.AggregatesAfter(j.table, after, backfillPageSize*10)
				if err != nil {
					return err
				}
			} else {
				page = page[:cut]
			}
		}

		if err := j.dest.CopyAggregates(j.readTable(), page); err != nil {
			return err
		}
		after = page[len(page)-1].Bucket
		if err := j.dest.SetCheckpoint(j.job, after); err != nil {
			return err
		}
		copied += len(page)
	}

	if copied > 0 {
		j.log.Info().Int("rows", copied).Int64("last_bucket", after).Msg("Backfill advanced")
	}
	return nil
}

func (j *BackfillJob) readTable() string {
	if j.table == marketstats.MinuteTable {
		return "market_stats_1m"
	}
	return "market_history"
}
