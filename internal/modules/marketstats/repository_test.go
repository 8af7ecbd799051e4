package marketstats

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "write.db"),
		Profile: database.ProfileWrite,
		Name:    "write",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db, zerolog.Nop())
}

func sampleTick(exchange, symbol string, recordedAtMillis int64) domain.RawTick {
	return domain.RawTick{
		Exchange:        exchange,
		Symbol:          symbol,
		MarkPrice:       "50000.5",
		IndexPrice:      "50001",
		LastPrice:       "50000",
		OpenInterest:    "1234.5",
		OpenInterestUSD: "61725000",
		FundingRate:     "0.0001",
		Volume24h:       1000,
		QuoteVolume24h:  50000000,
		RecordedAt:      recordedAtMillis,
	}
}

func TestValidateTickDerivesCreatedAt(t *testing.T) {
	tick := sampleTick("vertex", "BTC", 1_700_000_123_456)
	require.NoError(t, ValidateTick(&tick))
	assert.Equal(t, int64(1_700_000_123), tick.CreatedAt)
}

func TestValidateTickDefaultsEmptyFields(t *testing.T) {
	tick := sampleTick("vertex", "BTC", 1_700_000_000_000)
	tick.IndexPrice = ""
	tick.OpenInterest = ""
	require.NoError(t, ValidateTick(&tick))
	assert.Equal(t, "0", tick.IndexPrice)
	assert.Equal(t, "0", tick.OpenInterest)
}

func TestValidateTickRejectsGarbage(t *testing.T) {
	tick := sampleTick("vertex", "BTC", 1_700_000_000_000)
	tick.MarkPrice = "not-a-number"
	assert.Error(t, ValidateTick(&tick))

	tick = sampleTick("", "BTC", 1_700_000_000_000)
	assert.Error(t, ValidateTick(&tick))

	tick = sampleTick("vertex", "BTC", 0)
	assert.Error(t, ValidateTick(&tick))
}

func TestInsertBatchRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	next := int64(1_700_003_600_000)
	tick := sampleTick("vertex", "BTC", 1_700_000_000_000)
	tick.NextFundingAt = &next

	require.NoError(t, repo.InsertBatch([]domain.RawTick{
		tick,
		sampleTick("vertex", "ETH", 1_700_000_001_000),
	}))

	ticks, err := repo.TicksBetween(1_700_000_000, 1_700_000_060)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, "BTC", ticks[0].Symbol)
	assert.Equal(t, "50000.5", ticks[0].MarkPrice)
	assert.Equal(t, int64(1_700_000_000), ticks[0].CreatedAt)
	require.NotNil(t, ticks[0].NextFundingAt)
	assert.Equal(t, next, *ticks[0].NextFundingAt)
	assert.Nil(t, ticks[1].NextFundingAt)
}

func TestInsertBatchRejectsInvalidTickAtomically(t *testing.T) {
	repo := newTestRepo(t)

	bad := sampleTick("vertex", "BTC", 1_700_000_000_000)
	bad.FundingRate = "oops"

	err := repo.InsertBatch([]domain.RawTick{
		sampleTick("vertex", "ETH", 1_700_000_000_000),
		bad,
	})
	require.Error(t, err)

	n, err := repo.CountRaw()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "a bad tick must abort the whole batch")
}

func TestLatestSincePicksNewestPerMarket(t *testing.T) {
	repo := newTestRepo(t)

	older := sampleTick("vertex", "BTC", 1_700_000_000_000)
	newer := sampleTick("vertex", "BTC", 1_700_000_030_000)
	newer.MarkPrice = "51000"
	other := sampleTick("dydx", "BTC", 1_700_000_015_000)

	require.NoError(t, repo.InsertBatch([]domain.RawTick{older, newer, other}))

	ticks, err := repo.LatestSince(1_700_000_000)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	// Ordered by exchange, symbol.
	assert.Equal(t, "dydx", ticks[0].Exchange)
	assert.Equal(t, "vertex", ticks[1].Exchange)
	assert.Equal(t, "51000", ticks[1].MarkPrice)

	// Cutoff excludes everything older than it.
	ticks, err = repo.LatestSince(1_700_000_020)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "vertex", ticks[0].Exchange)
}

func TestDeleteBeforeShrinksRawTable(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.InsertBatch([]domain.RawTick{
		sampleTick("vertex", "BTC", 1_700_000_000_000),
		sampleTick("vertex", "BTC", 1_700_000_060_000),
		sampleTick("vertex", "BTC", 1_700_000_120_000),
	}))

	deleted, err := repo.DeleteBefore(1_700_000_100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := repo.CountRaw()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAggregatesAfterPagesInBucketOrder(t *testing.T) {
	repo := newTestRepo(t)
	base := int64(1_700_000_040)

	var aggs []domain.Aggregate
	for i := int64(0); i < 5; i++ {
		aggs = append(aggs, domain.Aggregate{
			Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC",
			Bucket: base + i*60, AvgMarkPrice: 100, SampleCount: 1,
		})
	}
	require.NoError(t, repo.UpsertAggregates(MinuteTable, aggs))

	page, err := repo.AggregatesAfter(MinuteTable, base, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, base+60, page[0].Bucket)
	assert.Equal(t, base+120, page[1].Bucket)
}

func TestBucketEndpoints(t *testing.T) {
	repo := newTestRepo(t)

	_, ok, err := repo.NewestBucket(HourTable)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.UpsertAggregates(HourTable, []domain.Aggregate{
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: 1_699_999_200, SampleCount: 1},
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: 1_700_002_800, SampleCount: 1},
	}))

	newest, ok, err := repo.NewestBucket(HourTable)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1_700_002_800), newest)

	oldest, ok, err := repo.OldestBucket(HourTable)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1_699_999_200), oldest)
}

func TestFundingAveragesGroupsByNormalizedSymbol(t *testing.T) {
	repo := newTestRepo(t)
	base := int64(1_699_999_200)

	require.NoError(t, repo.UpsertAggregates(HourTable, []domain.Aggregate{
		{Exchange: "vertex", Symbol: "kPEPE", NormalizedSymbol: "PEPE", Bucket: base, AvgFundingRate: 0.0001, AvgFundingRateAnnual: 87.6, SampleCount: 10},
		{Exchange: "vertex", Symbol: "kPEPE", NormalizedSymbol: "PEPE", Bucket: base + 3600, AvgFundingRate: 0.0003, AvgFundingRateAnnual: 262.8, SampleCount: 10},
		{Exchange: "dydx", Symbol: "PEPE-USD", NormalizedSymbol: "PEPE", Bucket: base, AvgFundingRate: 0.0002, AvgFundingRateAnnual: 17.52, SampleCount: 5},
	}))

	avgs, err := repo.FundingAverages(base)
	require.NoError(t, err)
	require.Len(t, avgs, 2)

	byExchange := map[string]FundingAverage{}
	for _, a := range avgs {
		byExchange[a.Exchange] = a
	}

	v := byExchange["vertex"]
	assert.Equal(t, "PEPE", v.NormalizedSymbol)
	assert.InDelta(t, 0.0002, v.AvgFundingRate, 1e-12)
	assert.Equal(t, 2, v.SampleCount)

	d := byExchange["dydx"]
	assert.InDelta(t, 0.0002, d.AvgFundingRate, 1e-12)
	assert.Equal(t, 1, d.SampleCount)
}

func TestSeriesReturnsChronologicalRows(t *testing.T) {
	repo := newTestRepo(t)
	base := int64(1_699_999_200)

	require.NoError(t, repo.UpsertAggregates(HourTable, []domain.Aggregate{
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: base + 3600, AvgMarkPrice: 101, SampleCount: 1},
		{Exchange: "vertex", Symbol: "BTC", NormalizedSymbol: "BTC", Bucket: base, AvgMarkPrice: 100, SampleCount: 1},
		{Exchange: "dydx", Symbol: "BTC-USD", NormalizedSymbol: "BTC", Bucket: base, AvgMarkPrice: 99, SampleCount: 1},
	}))

	series, err := repo.Series(HourTable, "vertex", "BTC", base)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, base, series[0].Bucket)
	assert.Equal(t, base+3600, series[1].Bucket)

	markets, err := repo.ActiveMarkets(HourTable, base)
	require.NoError(t, err)
	require.Len(t, markets, 2)
}
