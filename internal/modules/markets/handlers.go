package markets

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/api"
	"github.com/aristath/perptrack/internal/domain"
	"github.com/aristath/perptrack/internal/modules/analytics"
	"github.com/aristath/perptrack/internal/modules/marketstats"
	"github.com/aristath/perptrack/internal/modules/normalization"
)

// StatusReader serves the persisted tracker statuses.
type StatusReader interface {
	All() ([]domain.TrackerStatus, error)
}

// Handler wires the read-store repositories into the /api routes.
type Handler struct {
	repo      *Repository
	raw       *marketstats.Repository // write store, read-only queries for 15s history
	analytics *analytics.Repository
	status    StatusReader
	log       zerolog.Logger
}

func NewHandler(repo *Repository, raw *marketstats.Repository, analyticsRepo *analytics.Repository, status StatusReader, log zerolog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		raw:       raw,
		analytics: analyticsRepo,
		status:    status,
		log:       log.With().Str("component", "markets_api").Logger(),
	}
}

// Routes mounts every query endpoint under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/latest", h.handleLatest)
	r.Get("/markets", h.handleLatest)
	r.Get("/stats", h.handleStats)
	r.Get("/normalized-data", h.handleNormalizedData)
	r.Get("/tokens", h.handleTokens)
	r.Get("/compare", h.handleCompare)
	r.Get("/funding/ma", h.handleFundingMA)
	r.Get("/funding/ma/bulk", h.handleFundingMABulk)
	r.Get("/arbitrage", h.handleArbitrage)
	r.Get("/status", h.handleTrackers)
	r.Get("/trackers", h.handleTrackers)
	return r
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	f := LatestFilter{
		Exchange: r.URL.Query().Get("exchange"),
		Limit:    queryInt(r, "limit", 0),
	}
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		f.Symbol = normalization.CanonicalSymbol(sym)
	}

	markets, err := h.repo.Latest(f)
	if err != nil {
		h.log.Error().Err(err).Msg("Latest query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, markets, len(markets))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	from := queryInt64(r, "from", 0) / 1000 // ms -> s
	to := queryInt64(r, "to", 0) / 1000
	limit := queryInt(r, "limit", 0)
	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")

	// ranges inside the raw retention window serve 15s rows, everything
	// else serves minute aggregates
	if from > 0 && from >= time.Now().Add(-5*time.Minute).Unix() {
		ticks, err := h.rawTicks(exchange, symbol, from, to, limit)
		if err != nil {
			h.log.Error().Err(err).Msg("Raw stats query failed")
			api.ServerError(w, "query failed")
			return
		}
		api.List(w, ticks, len(ticks))
		return
	}

	aggs, err := h.repo.History("market_stats_1m", HistoryFilter{
		Exchange: exchange,
		Symbol:   canonicalOrEmpty(symbol),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Stats query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, aggs, len(aggs))
}

func (h *Handler) handleNormalizedData(w http.ResponseWriter, r *http.Request) {
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		api.Fail(w, "missing required parameter: interval")
		return
	}

	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")
	from := queryInt64(r, "from", 0) / 1000
	to := queryInt64(r, "to", 0) / 1000
	limit := queryInt(r, "limit", 0)

	var table string
	switch interval {
	case "15s":
		ticks, err := h.rawTicks(exchange, symbol, from, to, limit)
		if err != nil {
			h.log.Error().Err(err).Msg("Raw history query failed")
			api.ServerError(w, "query failed")
			return
		}
		api.List(w, ticks, len(ticks))
		return
	case "1m":
		table = "market_stats_1m"
	case "1h":
		table = "market_history"
	default:
		api.Fail(w, "invalid interval: must be 15s, 1m or 1h")
		return
	}

	aggs, err := h.repo.History(table, HistoryFilter{
		Exchange: exchange,
		Symbol:   canonicalOrEmpty(symbol),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("History query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, aggs, len(aggs))
}

func (h *Handler) rawTicks(exchange, symbol string, from, to int64, limit int) ([]domain.RawTick, error) {
	if to <= 0 {
		to = time.Now().Unix() + 1
	}
	ticks, err := h.raw.TicksBetween(from, to)
	if err != nil {
		return nil, err
	}

	filtered := ticks[:0]
	for _, t := range ticks {
		if exchange != "" && t.Exchange != exchange {
			continue
		}
		if symbol != "" && normalization.CanonicalSymbol(t.Symbol) != normalization.CanonicalSymbol(symbol) {
			continue
		}
		filtered = append(filtered, t)
	}
	if max := clampLimit(limit); len(filtered) > max {
		filtered = filtered[len(filtered)-max:]
	}
	return filtered, nil
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.repo.Tokens()
	if err != nil {
		h.log.Error().Err(err).Msg("Tokens query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, tokens, len(tokens))
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = r.URL.Query().Get("token")
	}
	if symbol == "" {
		api.Fail(w, "missing required parameter: symbol")
		return
	}

	cmp, ok, err := h.repo.Compare(normalization.CanonicalSymbol(symbol))
	if err != nil {
		h.log.Error().Err(err).Msg("Compare query failed")
		api.ServerError(w, "query failed")
		return
	}
	if !ok {
		api.Fail(w, "symbol not found: "+symbol)
		return
	}
	api.Success(w, cmp)
}

func (h *Handler) handleFundingMA(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	symbol := r.URL.Query().Get("symbol")
	if exchange == "" || symbol == "" {
		api.Fail(w, "missing required parameters: exchange, symbol")
		return
	}

	f := analytics.MAFilter{
		Exchanges: []string{exchange},
		Symbols:   []string{normalization.CanonicalSymbol(symbol)},
	}
	if period := queryInt(r, "period", 0); period > 0 {
		w2, ok := windowForHours(period)
		if !ok {
			api.Fail(w, "invalid period: must be one of 24, 72, 168, 336, 720 hours")
			return
		}
		f.Windows = []domain.MAWindow{w2}
	}

	mas, err := h.analytics.FundingMAs(f)
	if err != nil {
		h.log.Error().Err(err).Msg("Funding MA query failed")
		api.ServerError(w, "query failed")
		return
	}
	if len(mas) == 0 {
		api.Fail(w, "no moving average for "+symbol+" on "+exchange)
		return
	}
	api.List(w, mas, len(mas))
}

// bulkGroup is symbol -> exchange -> window -> MA.
type bulkGroup map[string]map[string]map[string]domain.FundingMA

type bulkResponse struct {
	MovingAverages bulkGroup                     `json:"moving_averages"`
	Arbitrage      []domain.ArbitrageOpportunity `json:"arbitrage"`
}

func (h *Handler) handleFundingMABulk(w http.ResponseWriter, r *http.Request) {
	exchanges := queryCSV(r, "exchanges")
	symbols := queryCSV(r, "symbols")
	windows := windowsFromCSV(queryCSV(r, "timeframes"))

	for i, s := range symbols {
		symbols[i] = normalization.CanonicalSymbol(s)
	}

	mas, err := h.analytics.FundingMAs(analytics.MAFilter{
		Symbols:   symbols,
		Exchanges: exchanges,
		Windows:   windows,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Bulk funding MA query failed")
		api.ServerError(w, "query failed")
		return
	}

	grouped := bulkGroup{}
	for _, ma := range mas {
		if grouped[ma.Symbol] == nil {
			grouped[ma.Symbol] = map[string]map[string]domain.FundingMA{}
		}
		if grouped[ma.Symbol][ma.Exchange] == nil {
			grouped[ma.Symbol][ma.Exchange] = map[string]domain.FundingMA{}
		}
		grouped[ma.Symbol][ma.Exchange][string(ma.Window)] = ma
	}

	opps, err := h.analytics.Arbitrage(analytics.ArbitrageFilter{
		Symbols:   symbols,
		Exchanges: exchanges,
		Windows:   windows,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Bulk arbitrage query failed")
		api.ServerError(w, "query failed")
		return
	}

	api.SuccessMeta(w, bulkResponse{MovingAverages: grouped, Arbitrage: opps}, api.ListMeta{Count: len(mas)})
}

func (h *Handler) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	symbols := queryCSV(r, "symbols")
	for i, s := range symbols {
		symbols[i] = normalization.CanonicalSymbol(s)
	}

	f := analytics.ArbitrageFilter{
		Symbols:      symbols,
		Exchanges:    queryCSV(r, "exchanges"),
		Windows:      windowsFromCSV(queryCSV(r, "timeframes")),
		MinSpread:    queryFloat(r, "minSpread", 0),
		MinSpreadAPR: queryFloat(r, "minSpreadAPR", 0),
		OnlyStable:   r.URL.Query().Get("onlyStable") == "true",
		SortBy:       r.URL.Query().Get("sortBy"),
		Order:        r.URL.Query().Get("order"),
		Limit:        queryInt(r, "limit", 0),
	}

	opps, err := h.analytics.Arbitrage(f)
	if err != nil {
		h.log.Error().Err(err).Msg("Arbitrage query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, opps, len(opps))
}

func (h *Handler) handleTrackers(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.All()
	if err != nil {
		h.log.Error().Err(err).Msg("Tracker status query failed")
		api.ServerError(w, "query failed")
		return
	}
	api.List(w, statuses, len(statuses))
}

func canonicalOrEmpty(symbol string) string {
	if symbol == "" {
		return ""
	}
	return normalization.CanonicalSymbol(symbol)
}

func windowForHours(hours int) (domain.MAWindow, bool) {
	for _, w := range domain.MAWindows {
		if w.Hours() == hours {
			return w, true
		}
	}
	return "", false
}

func windowsFromCSV(values []string) []domain.MAWindow {
	var windows []domain.MAWindow
	for _, v := range values {
		for _, w := range domain.MAWindows {
			if string(w) == v {
				windows = append(windows, w)
			}
		}
	}
	return windows
}

func queryCSV(r *http.Request, key string) []string {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil {
		return fallback
	}
	return v
}
