package normalization

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func decimalFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func TestNormalizeFundingEightHourVenue(t *testing.T) {
	// paradex pays every 8h: 0.0008 per interval -> 0.0001 hourly -> 87.6% APR
	views := NormalizeFunding("paradex", "0.0008")

	assert.Equal(t, "0.0008", views.Rate)
	assert.Equal(t, "0.0001", views.Hourly)
	assert.InDelta(t, 87.6, views.Annual, 1e-9)
}

func TestNormalizeFundingHourlyReporters(t *testing.T) {
	// hyperliquid and drift already report the per-hour value; no rescaling
	for _, ex := range []string{"hyperliquid", "drift"} {
		views := NormalizeFunding(ex, "0.0001")
		assert.Equal(t, "0.0001", views.Hourly, ex)
		assert.InDelta(t, 87.6, views.Annual, 1e-9, ex)
	}
}

func TestNormalizeFundingAnnualConsistency(t *testing.T) {
	// annual == hourly * 24 * 365 * 100 for every venue in the table
	for _, ex := range Exchanges() {
		views := NormalizeFunding(ex, "-0.00032")
		hourly, err := decimalFloat(views.Hourly)
		assert.NoError(t, err)
		assert.InEpsilon(t, hourly*24*365*100, views.Annual, 1e-9, ex)
	}
}

func TestNormalizeFundingMalformed(t *testing.T) {
	views := NormalizeFunding("dydx", "not-a-number")
	assert.Equal(t, "0", views.Rate)
	assert.Equal(t, "0", views.Hourly)
	assert.Zero(t, views.Annual)
}

func TestIntervalForUnknownVenue(t *testing.T) {
	iv := IntervalFor("no-such-venue")
	assert.Equal(t, 1, iv.Hours)
	assert.False(t, iv.ReportsHourly)
}

func TestAnnualizeAverage(t *testing.T) {
	// 8h venue: 0.0008 avg per interval -> 87.6% APR
	assert.InDelta(t, 87.6, AnnualizeAverage("paradex", 0.0008), 1e-9)
	// hourly reporter: no division
	assert.InDelta(t, 87.6, AnnualizeAverage("hyperliquid", 0.0001), 1e-9)
}
