package aggregation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/marketstats"
)

func newWriteRepo(t *testing.T) *marketstats.Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "write.db"),
		Profile: database.ProfileWrite,
		Name:    "write",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return marketstats.NewRepository(db, zerolog.Nop())
}

func tick(exchange, symbol, mark, funding string, createdAt int64) domain.RawTick {
	return domain.RawTick{
		Exchange:        exchange,
		Symbol:          symbol,
		MarkPrice:       mark,
		IndexPrice:      mark,
		LastPrice:       mark,
		OpenInterest:    "100",
		OpenInterestUSD: "1000000",
		FundingRate:     funding,
		Volume24h:       10,
		QuoteVolume24h:  1000,
		RecordedAt:      createdAt * 1000,
		CreatedAt:       createdAt,
	}
}

func TestBuildMinuteAggregates(t *testing.T) {
	base := int64(1_700_000_100) // minute-aligned

	ticks := []domain.RawTick{
		tick("vertex", "BTC", "100", "0.0001", base),
		tick("vertex", "BTC", "101", "0.0003", base+15),
		tick("vertex", "BTC", "99", "0.0002", base+30),
		tick("vertex", "BTC", "102", "0.0002", base+45),
	}

	aggs := BuildMinuteAggregates(ticks, time.Unix(base+300, 0))
	require.Len(t, aggs, 1)

	a := aggs[0]
	assert.Equal(t, "vertex", a.Exchange)
	assert.Equal(t, "BTC", a.Symbol)
	assert.Equal(t, "BTC", a.NormalizedSymbol)
	assert.Equal(t, base, a.Bucket)
	assert.Equal(t, 4, a.SampleCount)
	assert.InDelta(t, 100.5, a.AvgMarkPrice, 1e-9)
	assert.InDelta(t, 99, a.MinPrice, 1e-9)
	assert.InDelta(t, 102, a.MaxPrice, 1e-9)
	// (max-min)/avg * 100 = 3/100.5 * 100
	assert.InDelta(t, 2.98507462686567, a.PriceVolatility, 1e-9)
	assert.InDelta(t, 0.0002, a.AvgFundingRate, 1e-12)
	assert.InDelta(t, 0.0001, a.MinFundingRate, 1e-12)
	assert.InDelta(t, 0.0003, a.MaxFundingRate, 1e-12)
	assert.InDelta(t, 40, a.Volume, 1e-9)
	assert.Equal(t, base+300, a.CreatedAt)
}

func TestBuildMinuteAggregatesBucketBoundary(t *testing.T) {
	base := int64(1_700_000_100)

	// A tick at exactly base+60 belongs to the next bucket.
	ticks := []domain.RawTick{
		tick("vertex", "BTC", "100", "0.0001", base+59),
		tick("vertex", "BTC", "200", "0.0001", base+60),
	}

	aggs := BuildMinuteAggregates(ticks, time.Unix(base+300, 0))
	require.Len(t, aggs, 2)
	assert.Equal(t, base, aggs[0].Bucket)
	assert.Equal(t, 1, aggs[0].SampleCount)
	assert.InDelta(t, 100, aggs[0].AvgMarkPrice, 1e-9)
	assert.Equal(t, base+60, aggs[1].Bucket)
	assert.InDelta(t, 200, aggs[1].AvgMarkPrice, 1e-9)
}

func TestFoldHourAggregatesWeightsBySampleCount(t *testing.T) {
	hour := int64(1_699_999_200) // hour-aligned
	now := time.Unix(hour+7200, 0)

	minutes := []domain.Aggregate{
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket:       hour,
			AvgMarkPrice: 100, MinPrice: 99, MaxPrice: 101,
			AvgFundingRate: 0.0001, MinFundingRate: 0.0001, MaxFundingRate: 0.0001,
			Volume: 30, SampleCount: 3,
		},
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket:       hour + 60,
			AvgMarkPrice: 104, MinPrice: 103, MaxPrice: 105,
			AvgFundingRate: 0.0005, MinFundingRate: 0.0004, MaxFundingRate: 0.0006,
			Volume: 10, SampleCount: 1,
		},
	}

	hours := FoldHourAggregates(minutes, now)
	require.Len(t, hours, 1)

	h := hours[0]
	assert.Equal(t, hour, h.Bucket)
	// (100*3 + 104*1) / 4
	assert.InDelta(t, 101, h.AvgMarkPrice, 1e-9)
	// (0.0001*3 + 0.0005*1) / 4
	assert.InDelta(t, 0.0002, h.AvgFundingRate, 1e-12)
	assert.InDelta(t, 99, h.MinPrice, 1e-9)
	assert.InDelta(t, 105, h.MaxPrice, 1e-9)
	assert.InDelta(t, 40, h.Volume, 1e-9)
	assert.Equal(t, 4, h.SampleCount)
}

func TestMinuteJobAggregatesAndDeletesConsumedRaw(t *testing.T) {
	repo := newWriteRepo(t)
	base := int64(1_700_000_100)
	now := time.Unix(base+3600, 0)

	require.NoError(t, repo.InsertBatch([]domain.RawTick{
		tick("vertex", "BTC", "100", "0.0001", base),
		tick("vertex", "BTC", "101", "0.0003", base+15),
		tick("vertex", "BTC", "99", "0.0002", base+30),
		tick("vertex", "BTC", "102", "0.0002", base+45),
		// still inside the retention horizon: must survive this run
		tick("vertex", "BTC", "110", "0.0001", now.Unix()-10),
	}))

	before, err := repo.CountRaw()
	require.NoError(t, err)
	require.Equal(t, int64(5), before)

	job := NewMinuteJob(repo, 5*time.Minute, zerolog.Nop())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run())

	aggs, err := repo.AggregatesBetween(marketstats.MinuteTable, base, base+60)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.InDelta(t, 100.5, aggs[0].AvgMarkPrice, 1e-9)
	assert.Equal(t, 4, aggs[0].SampleCount)

	after, err := repo.CountRaw()
	require.NoError(t, err)
	assert.Equal(t, int64(1), after, "only the fresh tick should survive")
}

func TestMinuteJobLeavesOpenBucketsAlone(t *testing.T) {
	repo := newWriteRepo(t)
	now := time.Unix(1_700_000_100+3600, 0)

	// Everything is younger than the retention horizon.
	require.NoError(t, repo.InsertBatch([]domain.RawTick{
		tick("vertex", "BTC", "100", "0.0001", now.Unix()-30),
		tick("vertex", "BTC", "101", "0.0001", now.Unix()-15),
	}))

	job := NewMinuteJob(repo, 5*time.Minute, zerolog.Nop())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run())

	n, err := repo.CountRaw()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	aggs, err := repo.AggregatesBetween(marketstats.MinuteTable, 0, now.Unix()+3600)
	require.NoError(t, err)
	assert.Empty(t, aggs)
}

func TestHourJobColdStartAndResume(t *testing.T) {
	repo := newWriteRepo(t)
	hour := int64(1_699_999_200)

	require.NoError(t, repo.UpsertAggregates(marketstats.MinuteTable, []domain.Aggregate{
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket: hour, AvgMarkPrice: 100, MinPrice: 100, MaxPrice: 100,
			SampleCount: 3, CreatedAt: hour,
		},
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket: hour + 60, AvgMarkPrice: 104, MinPrice: 104, MaxPrice: 104,
			SampleCount: 1, CreatedAt: hour,
		},
	}))

	job := NewHourJob(repo, zerolog.Nop())
	job.now = func() time.Time { return time.Unix(hour+7200, 0) }
	require.NoError(t, job.Run())

	hours, err := repo.AggregatesBetween(marketstats.HourTable, hour, hour+3600)
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.InDelta(t, 101, hours[0].AvgMarkPrice, 1e-9)
	assert.Equal(t, 4, hours[0].SampleCount)

	// New minute rows land in the next hour; a later run folds them too.
	require.NoError(t, repo.UpsertAggregates(marketstats.MinuteTable, []domain.Aggregate{
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket: hour + 3600, AvgMarkPrice: 200, MinPrice: 200, MaxPrice: 200,
			SampleCount: 2, CreatedAt: hour + 3600,
		},
	}))

	job.now = func() time.Time { return time.Unix(hour+3*3600, 0) }
	require.NoError(t, job.Run())

	hours, err = repo.AggregatesBetween(marketstats.HourTable, hour, hour+2*3600)
	require.NoError(t, err)
	require.Len(t, hours, 2)
	assert.InDelta(t, 200, hours[1].AvgMarkPrice, 1e-9)
}

func TestHourJobSkipsCurrentHour(t *testing.T) {
	repo := newWriteRepo(t)
	now := time.Now()
	currentHour := domain.HourBucket(now.Unix())

	require.NoError(t, repo.UpsertAggregates(marketstats.MinuteTable, []domain.Aggregate{
		{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket: domain.MinuteBucket(now.Unix()), AvgMarkPrice: 100,
			SampleCount: 1, CreatedAt: now.Unix(),
		},
	}))

	job := NewHourJob(repo, zerolog.Nop())
	require.NoError(t, job.Run())

	hours, err := repo.AggregatesBetween(marketstats.HourTable, currentHour, currentHour+3600)
	require.NoError(t, err)
	assert.Empty(t, hours, "the in-progress hour must not be folded")
}

func TestRetentionJobDeletesAgedTiers(t *testing.T) {
	repo := newWriteRepo(t)
	now := time.Unix(1_700_000_100, 0)

	oldMinute := now.AddDate(0, 0, -40).Unix()
	oldHour := now.AddDate(0, 0, -400).Unix()

	require.NoError(t, repo.UpsertAggregates(marketstats.MinuteTable, []domain.Aggregate{
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: domain.MinuteBucket(oldMinute), SampleCount: 1},
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: domain.MinuteBucket(now.Unix() - 3600), SampleCount: 1},
	}))
	require.NoError(t, repo.UpsertAggregates(marketstats.HourTable, []domain.Aggregate{
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: domain.HourBucket(oldHour), SampleCount: 1},
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: domain.HourBucket(now.Unix() - 7200), SampleCount: 1},
	}))

	job := NewRetentionJob(repo, 30, 365, zerolog.Nop())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run())

	minutes, err := repo.AggregatesBetween(marketstats.MinuteTable, 0, now.Unix())
	require.NoError(t, err)
	require.Len(t, minutes, 1)
	assert.Equal(t, domain.MinuteBucket(now.Unix()-3600), minutes[0].Bucket)

	hours, err := repo.AggregatesBetween(marketstats.HourTable, 0, now.Unix())
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.Equal(t, domain.HourBucket(now.Unix()-7200), hours[0].Bucket)
}
