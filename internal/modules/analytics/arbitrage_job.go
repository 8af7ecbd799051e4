package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/domain"
)

// ArbitrageJob derives cross-venue funding spreads from the MA cache. It
// runs after the MA job so every window reflects the same rebuild.
type ArbitrageJob struct {
	repo           *Repository
	stabilityFloor int // is_stable when score >= floor
	now            func() time.Time
	log            zerolog.Logger
}

func NewArbitrageJob(repo *Repository, stabilityFloor int, log zerolog.Logger) *ArbitrageJob {
	return &ArbitrageJob{
		repo:           repo,
		stabilityFloor: stabilityFloor,
		now:            time.Now,
		log:            log.With().Str("job", "arbitrage").Logger(),
	}
}

func (j *ArbitrageJob) Name() string { return "arbitrage" }

func (j *ArbitrageJob) Run() error {
	started := j.now()

	mas, err := j.repo.FundingMAs(MAFilter{})
	if err != nil {
		return err
	}

	// symbol -> window -> exchange -> MA
	index := map[string]map[domain.MAWindow]map[string]domain.FundingMA{}
	for _, ma := range mas {
		byWindow, ok := index[ma.Symbol]
		if !ok {
			byWindow = map[domain.MAWindow]map[string]domain.FundingMA{}
			index[ma.Symbol] = byWindow
		}
		byExchange, ok := byWindow[ma.Window]
		if !ok {
			byExchange = map[string]domain.FundingMA{}
			byWindow[ma.Window] = byExchange
		}
		byExchange[ma.Exchange] = ma
	}

	symbols := make([]string, 0, len(index))
	for sym := range index {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	opps := BuildOpportunities(symbols, index, j.stabilityFloor, started.Unix())
	if err := j.repo.UpsertArbitrage(opps); err != nil {
		return err
	}

	j.log.Info().Int("opportunities", len(opps)).Dur("took", time.Since(started)).Msg("Arbitrage cache rebuilt")
	return nil
}

// BuildOpportunities enumerates every venue pair per (symbol, window) in
// deterministic order.
func BuildOpportunities(symbols []string, index map[string]map[domain.MAWindow]map[string]domain.FundingMA, stabilityFloor int, calculatedAt int64) []domain.ArbitrageOpportunity {
	var opps []domain.ArbitrageOpportunity
	for _, sym := range symbols {
		byWindow := index[sym]
		for _, window := range domain.MAWindows {
			byExchange := byWindow[window]
			if len(byExchange) < 2 {
				continue
			}

			exchanges := make([]string, 0, len(byExchange))
			for ex := range byExchange {
				exchanges = append(exchanges, ex)
			}
			sort.Strings(exchanges)

			for i := 0; i < len(exchanges); i++ {
				for k := i + 1; k < len(exchanges); k++ {
					a, b := byExchange[exchanges[i]], byExchange[exchanges[k]]
					long, short := orderLegs(a, b)

					score := stabilityScore(byWindow, long.Exchange, short.Exchange)
					opps = append(opps, domain.ArbitrageOpportunity{
						Symbol:          sym,
						LongExchange:    long.Exchange,
						ShortExchange:   short.Exchange,
						Window:          window,
						LongRate:        long.AvgFundingRate,
						ShortRate:       short.AvgFundingRate,
						LongRateAnnual:  long.AvgFundingAnnual,
						ShortRateAnnual: short.AvgFundingAnnual,
						Spread:          math.Abs(short.AvgFundingRate - long.AvgFundingRate),
						SpreadAPR:       math.Abs(short.AvgFundingAnnual - long.AvgFundingAnnual),
						StabilityScore:  score,
						IsStable:        score >= stabilityFloor,
						CalculatedAt:    calculatedAt,
					})
				}
			}
		}
	}
	return opps
}

// orderLegs picks the long leg: lower mean raw rate, ties broken by
// exchange name so direction is stable run to run.
func orderLegs(a, b domain.FundingMA) (long, short domain.FundingMA) {
	if a.AvgFundingRate < b.AvgFundingRate {
		return a, b
	}
	if b.AvgFundingRate < a.AvgFundingRate {
		return b, a
	}
	if a.Exchange < b.Exchange {
		return a, b
	}
	return b, a
}

// stabilityScore counts the windows whose long/short direction for this
// venue pair matches the given direction. Windows where either venue lacks
// an MA row do not count.
func stabilityScore(byWindow map[domain.MAWindow]map[string]domain.FundingMA, longExchange, shortExchange string) int {
	score := 0
	for _, w := range domain.MAWindows {
		byExchange := byWindow[w]
		longMA, okLong := byExchange[longExchange]
		shortMA, okShort := byExchange[shortExchange]
		if !okLong || !okShort {
			continue
		}
		wLong, _ := orderLegs(longMA, shortMA)
		if wLong.Exchange == longExchange {
			score++
		}
	}
	return score
}
