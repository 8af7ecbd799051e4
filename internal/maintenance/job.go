// Package maintenance keeps the SQLite stores healthy: WAL truncation and
// a quick integrity probe, run daily.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/database"
)

type Job struct {
	dbs []*database.DB
	log zerolog.Logger
}

func New(log zerolog.Logger, dbs ...*database.DB) *Job {
	return &Job{
		dbs: dbs,
		log: log.With().Str("job", "db_maintenance").Logger(),
	}
}

func (j *Job) Name() string { return "db_maintenance" }

func (j *Job) Run() error {
	for _, db := range j.dbs {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("db", db.Name()).Msg("WAL checkpoint failed")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.QuickCheck(ctx)
		cancel()
		if err != nil {
			j.log.Error().Err(err).Str("db", db.Name()).Msg("Integrity probe failed")
			return err
		}
		j.log.Debug().Str("db", db.Name()).Msg("Maintenance pass complete")
	}
	return nil
}
