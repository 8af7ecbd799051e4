// Package domain contains the shared entities of the ingestion-to-query
// pipeline. The domain layer is pure: no database, no HTTP, no venue APIs.
package domain

// RawTick is one observation for one (exchange, original symbol) pair.
// Price-like fields stay string-encoded decimals end to end; they are only
// converted to an exact decimal type inside arithmetic.
type RawTick struct {
	Exchange        string  `json:"exchange"`
	Symbol          string  `json:"symbol"` // original symbol as seen at the venue
	MarketID        string  `json:"market_id"`
	MarkPrice       string  `json:"mark_price"`
	IndexPrice      string  `json:"index_price"`
	LastPrice       string  `json:"last_price"`
	OpenInterest    string  `json:"open_interest"`     // base units
	OpenInterestUSD string  `json:"open_interest_usd"` // quote units
	FundingRate     string  `json:"funding_rate"`      // venue interval, venue sign convention
	NextFundingAt   *int64  `json:"next_funding_at,omitempty"` // ms
	Volume24h       float64 `json:"volume_24h"`
	QuoteVolume24h  float64 `json:"quote_volume_24h"`
	Low24h          float64 `json:"low_24h"`
	High24h         float64 `json:"high_24h"`
	PriceChange24h  float64 `json:"price_change_24h"`
	RecordedAt      int64   `json:"recorded_at"` // ms, producer clock
	CreatedAt       int64   `json:"created_at"`  // s, RecordedAt/1000 truncated
}

// Aggregate is one roll-up row. The same shape serves both the minute tier
// (market_stats_1m, 60 s buckets) and the hour tier (market_history, 3600 s
// buckets).
type Aggregate struct {
	Exchange             string  `json:"exchange"`
	Symbol               string  `json:"symbol"`
	NormalizedSymbol     string  `json:"normalized_symbol"`
	Bucket               int64   `json:"bucket"` // bucket start, unix seconds
	AvgMarkPrice         float64 `json:"avg_mark_price"`
	AvgIndexPrice        float64 `json:"avg_index_price"`
	MinPrice             float64 `json:"min_price"`
	MaxPrice             float64 `json:"max_price"`
	PriceVolatility      float64 `json:"price_volatility"` // (max-min)/avg * 100
	Volume               float64 `json:"volume"`
	QuoteVolume          float64 `json:"quote_volume"`
	AvgOpenInterest      float64 `json:"avg_open_interest"`
	MaxOpenInterest      float64 `json:"max_open_interest"`
	AvgOpenInterestUSD   float64 `json:"avg_open_interest_usd"`
	MaxOpenInterestUSD   float64 `json:"max_open_interest_usd"`
	AvgFundingRate       float64 `json:"avg_funding_rate"`
	MinFundingRate       float64 `json:"min_funding_rate"`
	MaxFundingRate       float64 `json:"max_funding_rate"`
	AvgFundingRateAnnual float64 `json:"avg_funding_rate_annual"` // percent
	SampleCount          int     `json:"sample_count"`
	CreatedAt            int64   `json:"created_at"`
}

// LatestMarket is the read projection: one row per (canonical symbol,
// exchange), refreshed every few minutes from the newest raw tick.
type LatestMarket struct {
	Symbol            string   `json:"symbol"` // canonical
	Exchange          string   `json:"exchange"`
	OriginalSymbol    string   `json:"original_symbol"`
	MarkPrice         string   `json:"mark_price"`
	IndexPrice        string   `json:"index_price"`
	OpenInterestUSD   string   `json:"open_interest_usd"`
	Volume24h         float64  `json:"volume_24h"`
	FundingRate       string   `json:"funding_rate"`
	FundingRateHourly string   `json:"funding_rate_hourly"`
	FundingRateAnnual float64  `json:"funding_rate_annual"` // percent
	NextFundingAt     *int64   `json:"next_funding_at,omitempty"`
	PriceChange24h    float64  `json:"price_change_24h"`
	Low24h            float64  `json:"low_24h"`
	High24h           float64  `json:"high_24h"`
	Volatility24h     *float64 `json:"volatility_24h,omitempty"` // percent
	Volatility7d      *float64 `json:"volatility_7d,omitempty"`  // percent
	ATR14             *float64 `json:"atr_14,omitempty"`         // price units
	BollingerWidth    *float64 `json:"bollinger_width,omitempty"`
	UpdatedAt         int64    `json:"updated_at"` // s
}

// MAWindow is a named look-back period for funding moving averages.
type MAWindow string

const (
	Window24h MAWindow = "24h"
	Window3d  MAWindow = "3d"
	Window7d  MAWindow = "7d"
	Window14d MAWindow = "14d"
	Window30d MAWindow = "30d"
)

// MAWindows lists all windows in ascending length order. The order matters:
// stability scoring iterates it deterministically.
var MAWindows = []MAWindow{Window24h, Window3d, Window7d, Window14d, Window30d}

// Hours returns the look-back length of the window in hours.
func (w MAWindow) Hours() int {
	switch w {
	case Window24h:
		return 24
	case Window3d:
		return 3 * 24
	case Window7d:
		return 7 * 24
	case Window14d:
		return 14 * 24
	case Window30d:
		return 30 * 24
	}
	return 0
}

// FundingMA is one moving-average row per (canonical symbol, exchange, window).
type FundingMA struct {
	Symbol           string   `json:"symbol"` // canonical
	Exchange         string   `json:"exchange"`
	Window           MAWindow `json:"window"`
	AvgFundingRate   float64  `json:"avg_funding_rate"`
	AvgFundingAnnual float64  `json:"avg_funding_annual"` // percent
	SampleCount      int      `json:"sample_count"`
	CalculatedAt     int64    `json:"calculated_at"` // s
}

// ArbitrageOpportunity pairs the venue with the lower average funding (long
// leg) against the higher one (short leg) for one canonical symbol and window.
type ArbitrageOpportunity struct {
	Symbol          string   `json:"symbol"` // canonical
	LongExchange    string   `json:"long_exchange"`
	ShortExchange   string   `json:"short_exchange"`
	Window          MAWindow `json:"window"`
	LongRate        float64  `json:"long_rate"`
	ShortRate       float64  `json:"short_rate"`
	LongRateAnnual  float64  `json:"long_rate_annual"`  // percent
	ShortRateAnnual float64  `json:"short_rate_annual"` // percent
	Spread          float64  `json:"spread"`
	SpreadAPR       float64  `json:"spread_apr"`
	StabilityScore  int      `json:"stability_score"` // 0..5 agreeing windows
	IsStable        bool     `json:"is_stable"`
	CalculatedAt    int64    `json:"calculated_at"` // s
}

// TrackerState is the lifecycle state of a venue tracker.
type TrackerState string

const (
	StateInitialized  TrackerState = "initialized"
	StateRunning      TrackerState = "running"
	StateDisconnected TrackerState = "disconnected"
	StateError        TrackerState = "error"
	StateStopped      TrackerState = "stopped"
	StateFailed       TrackerState = "failed"
)

// TrackerStatus is the persisted view of one tracker's health.
type TrackerStatus struct {
	Exchange       string       `json:"exchange"`
	State          TrackerState `json:"state"`
	LastMessageAt  *int64       `json:"last_message_at,omitempty"` // ms
	LastError      string       `json:"last_error,omitempty"`
	ReconnectCount int          `json:"reconnect_count"`
	UpdatedAt      int64        `json:"updated_at"` // s
}

// MinuteBucket truncates a unix-seconds timestamp to its minute bucket start.
// A tick at exactly b+60 belongs to the next bucket.
func MinuteBucket(ts int64) int64 {
	return ts - ts%60
}

// HourBucket truncates a unix-seconds timestamp to its hour bucket start.
func HourBucket(ts int64) int64 {
	return ts - ts%3600
}
