package materialize

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

func newTestDB(t *testing.T, name string, profile database.DatabaseProfile) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func rawTick(exchange, symbol, mark, funding string, recordedAt int64) domain.RawTick {
	return domain.RawTick{
		Exchange:        exchange,
		Symbol:          symbol,
		MarkPrice:       mark,
		IndexPrice:      mark,
		LastPrice:       mark,
		OpenInterest:    "100",
		OpenInterestUSD: "1000000",
		FundingRate:     funding,
		RecordedAt:      recordedAt,
	}
}

func TestLatestJobProjectsNewestTickPerMarket(t *testing.T) {
	writeDB := newTestDB(t, "write", database.ProfileWrite)
	readDB := newTestDB(t, "read", database.ProfileRead)
	raw := marketstats.NewRepository(writeDB, zerolog.Nop())
	dest := NewRepository(readDB, zerolog.Nop())

	now := time.Now()
	old := rawTick("hyperliquid", "BTC", "64000", "0.00001", now.Add(-time.Minute).UnixMilli())
	fresh := rawTick("hyperliquid", "BTC", "64500", "0.00002", now.UnixMilli())
	other := rawTick("dydx", "BTC-USD", "64400", "0.00001", now.UnixMilli())
	require.NoError(t, marketstats.ValidateTick(&old))
	require.NoError(t, marketstats.ValidateTick(&fresh))
	require.NoError(t, marketstats.ValidateTick(&other))
	require.NoError(t, raw.InsertBatch([]domain.RawTick{old, fresh, other}))

	job := NewLatestJob(raw, dest, zerolog.Nop())
	require.NoError(t, job.Run())

	var mark, fundingHourly string
	err := readDB.QueryRow(`
		SELECT mark_price, funding_rate_hourly FROM normalized_tokens
		WHERE symbol = 'BTC' AND exchange = 'hyperliquid'`).Scan(&mark, &fundingHourly)
	require.NoError(t, err)
	assert.Equal(t, "64500", mark, "newest tick wins")
	assert.Equal(t, "0.00002", fundingHourly, "hyperliquid reports hourly")

	var count int
	require.NoError(t, readDB.QueryRow(`SELECT COUNT(*) FROM normalized_tokens WHERE symbol = 'BTC'`).Scan(&count))
	assert.Equal(t, 2, count, "dydx BTC-USD collapses to the same canonical symbol")
}

func TestLatestJobIsIdempotent(t *testing.T) {
	writeDB := newTestDB(t, "write", database.ProfileWrite)
	readDB := newTestDB(t, "read", database.ProfileRead)
	raw := marketstats.NewRepository(writeDB, zerolog.Nop())
	dest := NewRepository(readDB, zerolog.Nop())

	tick := rawTick("vertex", "ETH-PERP", "3200", "0.00001", time.Now().UnixMilli())
	require.NoError(t, marketstats.ValidateTick(&tick))
	require.NoError(t, raw.InsertBatch([]domain.RawTick{tick}))

	job := NewLatestJob(raw, dest, zerolog.Nop())
	require.NoError(t, job.Run())
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, readDB.QueryRow(`SELECT COUNT(*) FROM normalized_tokens`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpsertLatestPreservesVolatilityColumns(t *testing.T) {
	readDB := newTestDB(t, "read", database.ProfileRead)
	dest := NewRepository(readDB, zerolog.Nop())

	m := domain.LatestMarket{
		Symbol: "BTC", Exchange: "vertex", OriginalSymbol: "BTC-PERP",
		MarkPrice: "64000", IndexPrice: "64000", OpenInterestUSD: "0",
		FundingRate: "0.00001", FundingRateHourly: "0.00001",
		UpdatedAt: time.Now().Unix(),
	}
	require.NoError(t, dest.UpsertLatest([]domain.LatestMarket{m}))

	vol := 2.5
	require.NoError(t, dest.UpdateVolatility("BTC", "vertex", &vol, nil, nil, nil))

	m.MarkPrice = "64100"
	require.NoError(t, dest.UpsertLatest([]domain.LatestMarket{m}))

	var mark string
	var vol24h *float64
	err := readDB.QueryRow(`
		SELECT mark_price, volatility_24h FROM normalized_tokens
		WHERE symbol = 'BTC' AND exchange = 'vertex'`).Scan(&mark, &vol24h)
	require.NoError(t, err)
	assert.Equal(t, "64100", mark)
	require.NotNil(t, vol24h, "projection refresh must not wipe analytics columns")
	assert.InDelta(t, 2.5, *vol24h, 0.0001)
}

func TestProjectBuildsFundingViews(t *testing.T) {
	at := int64(1756200000000)
	tick := rawTick("vertex", "BTC-PERP", "64000", "0.0008", time.Now().UnixMilli())
	tick.NextFundingAt = &at

	m := Project(tick, time.Now().Unix())
	assert.Equal(t, "BTC", m.Symbol)
	assert.Equal(t, "BTC-PERP", m.OriginalSymbol)
	assert.Equal(t, "0.0008", m.FundingRate)
	assert.Equal(t, "0.0008", m.FundingRateHourly, "vertex funding interval is 1h")
	assert.InDelta(t, 0.0008*24*365*100, m.FundingRateAnnual, 0.0001)
	require.NotNil(t, m.NextFundingAt)
	assert.Equal(t, at, *m.NextFundingAt)
}

func TestBackfillCopiesAndResumes(t *testing.T) {
	writeDB := newTestDB(t, "write", database.ProfileWrite)
	readDB := newTestDB(t, "read", database.ProfileRead)
	raw := marketstats.NewRepository(writeDB, zerolog.Nop())
	dest := NewRepository(readDB, zerolog.Nop())

	base := domain.MinuteBucket(time.Now().Unix()) - 600
	var aggs []domain.Aggregate
	for i := 0; i < 5; i++ {
		aggs = append(aggs, domain.Aggregate{
			Exchange: "vertex", Symbol: "BTC-PERP", NormalizedSymbol: "BTC",
			Bucket: base + int64(i*60), AvgMarkPrice: 64000, SampleCount: 4,
			CreatedAt: time.Now().Unix(),
		})
	}
	require.NoError(t, raw.UpsertAggregates(marketstats.MinuteTable, aggs))

	job := NewMinuteBackfillJob(raw, dest, zerolog.Nop())
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, readDB.QueryRow(`SELECT COUNT(*) FROM market_stats_1m`).Scan(&count))
	assert.Equal(t, 5, count)

	bucket, ok, err := dest.Checkpoint("1m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base+4*60, bucket)

	// a second run with one new bucket copies only that bucket
	extra := aggs[0]
	extra.Bucket = base + 5*60
	require.NoError(t, raw.UpsertAggregates(marketstats.MinuteTable, []domain.Aggregate{extra}))
	require.NoError(t, job.Run())

	require.NoError(t, readDB.QueryRow(`SELECT COUNT(*) FROM market_stats_1m`).Scan(&count))
	assert.Equal(t, 6, count)

	bucket, _, err = dest.Checkpoint("1m")
	require.NoError(t, err)
	assert.Equal(t, base+5*60, bucket)
}

func TestBackfillIsIdempotent(t *testing.T) {
	writeDB := newTestDB(t, "write", database.ProfileWrite)
	readDB := newTestDB(t, "read", database.ProfileRead)
	raw := marketstats.NewRepository(writeDB, zerolog.Nop())
	dest := NewRepository(readDB, zerolog.Nop())

	agg := domain.Aggregate{
		Exchange: "vertex", Symbol: "BTC-PERP", NormalizedSymbol: "BTC",
		Bucket: domain.HourBucket(time.Now().Unix()) - 7200, AvgMarkPrice: 64000,
		SampleCount: 60, CreatedAt: time.Now().Unix(),
	}
	require.NoError(t, raw.UpsertAggregates(marketstats.HourTable, []domain.Aggregate{agg}))

	job := NewHourBackfillJob(raw, dest, zerolog.Nop())
	require.NoError(t, job.Run())

	// force a re-copy of the same bucket
	require.NoError(t, dest.SetCheckpoint("1h", agg.Bucket-1))
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, readDB.QueryRow(`SELECT COUNT(*) FROM market_history`).Scan(&count))
	assert.Equal(t, 1, count, "re-copying a bucket must not duplicate rows")
}
