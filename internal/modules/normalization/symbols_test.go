package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalSymbol(t *testing.T) {
	tests := []struct {
		name     string
		original string
		want     string
	}{
		{"plain USDT pair", "BTCUSDT", "BTC"},
		{"dash perp suffix", "BTC-USD-PERP", "BTC"},
		{"dash usd suffix", "ETH-USD", "ETH"},
		{"bare usd suffix", "SOLUSD", "SOL"},
		{"venue tag prefix", "hyna:BONK", "BONK"},
		{"venue tag with suffix", "vntl:SPACEX", "SPACEX"},
		{"thousand multiplier", "1000BONKUSDT", "BONK"},
		{"million multiplier", "1000000MOGUSD", "MOG"},
		{"lowercase k multiplier", "kPEPE", "PEPE"},
		{"k multiplier with suffix", "kSHIB-USD-PERP", "SHIB"},
		{"kava keeps its k", "KAVAUSDT", "KAVA"},
		{"lowercase input uppercased", "btc-usd", "BTC"},
		{"no suffix at all", "BTC", "BTC"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalSymbol(tt.original))
		})
	}
}

func TestCanonicalSymbolIdempotent(t *testing.T) {
	inputs := []string{
		"BTCUSDT", "BTC-USD-PERP", "hyna:BONK", "1000BONKUSDT",
		"kPEPE", "KAVAUSDT", "SOLUSD", "vntl:SPACEX", "PERPUSDT",
	}
	for _, in := range inputs {
		once := CanonicalSymbol(in)
		assert.Equal(t, once, CanonicalSymbol(once), "normalize must be idempotent for %q", in)
	}
}

func TestCanonicalSymbolCollapsesAcrossVenues(t *testing.T) {
	// The whole point: three venue spellings, one merge key.
	forms := []string{"BTCUSDT", "BTC-USD-PERP", "hyna:BTC"}
	for _, f := range forms {
		assert.Equal(t, "BTC", CanonicalSymbol(f))
	}
}
