// Package normalization owns the canonical symbol rewrite and the per-venue
// funding interval table. Both are pure lookups; no I/O happens here.
package normalization

import (
	"strings"
)

// quote suffixes, tried in order; only the first match is removed
var quoteSuffixes = []string{"-USD-PERP", "-USD", "USDT", "USD"}

// multiplier prefixes used by some venues for cheap tokens (1000BONK, kPEPE)
var numericPrefixes = []string{"1000000", "1000"}

// CanonicalSymbol derives the cross-venue merge key from a venue's original
// symbol. The rewrite is deterministic and idempotent; callers keep the
// original symbol alongside the canonical form.
func CanonicalSymbol(original string) string {
	s := strings.TrimSpace(original)
	if s == "" {
		return ""
	}

	// Venue-tagged symbols ("hyna:BONK", "vntl:SPACEX") carry the tag before
	// a colon; the canonical form is derived from the part after it.
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}

	for _, suffix := range quoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(strings.ToUpper(s), suffix) {
			s = s[:len(s)-len(suffix)]
			break
		}
	}

	s = stripMultiplier(s)

	return strings.ToUpper(s)
}

// stripMultiplier removes the cheap-token multiplier prefix. The numeric
// forms are unambiguous; the letter form is only stripped when it is a
// lowercase "k" ahead of an uppercase base symbol, so KAVA-like tickers
// survive the rewrite.
func stripMultiplier(s string) string {
	for _, prefix := range numericPrefixes {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return s[len(prefix):]
		}
	}
	if len(s) > 2 && s[0] == 'k' && s[1] >= 'A' && s[1] <= 'Z' {
		return s[1:]
	}
	return s
}
