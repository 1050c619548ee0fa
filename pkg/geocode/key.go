package geocode

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/subletmap/subletmap/internal/model"
)

// Key namespaces. Listing, special-place, and city-anchor entries share one
// cache but never collide.
const (
	keyPrefixGeo     = "geo:"
	keyPrefixSpecial = "special:"
	keyPrefixCity    = "city:"
)

// BuildKey returns the cache key for a listing's location triple. Two rows
// spelled differently but naming the same place ("El Born" / "el  born",
// "São Paulo" / "Sao Paulo") produce the same key.
func BuildKey(l model.Listing) string {
	return keyPrefixGeo + normalizeKey(l.Neighbourhood+"-"+l.City+"-"+l.Country)
}

// BuildSpecialKey returns the cache key for a special-place override entry.
func BuildSpecialKey(name string) string {
	return keyPrefixSpecial + normalizeKey(name)
}

// BuildCityKey returns the cache key for a city-level anchor entry.
func BuildCityKey(city, country string) string {
	return keyPrefixCity + normalizeKey(city+"-"+country)
}

// foldDiacritics strips combining marks after NFD decomposition, so accented
// and unaccented spellings normalize identically.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeKey lowercases, folds diacritics, collapses whitespace and hyphen
// runs to single hyphens, and drops everything outside [a-z0-9-]. Idempotent:
// normalizing a normalized key is a no-op.
func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
