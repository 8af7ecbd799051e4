package exchanges

import "github.com/rs/zerolog"

// NewAll builds one adapter per supported venue. Order matches the
// funding-interval table in the normalization package.
func NewAll(log zerolog.Logger) []Adapter {
	return []Adapter{
		NewHyperliquid(log),
		NewDydx(log),
		NewParadex(log),
		NewExtended(log),
		NewLighter(log),
		NewEdgex(log),
		NewDrift(log),
		NewJupiter(log),
		NewGmx(log),
		NewVertex(log),
		NewOrderly(log),
		NewApex(log),
		NewOstium(log),
	}
}
