package utils

import (
	"strings"
	"unicode"

	"github.com/biter777/countries"
)

// RegionForName guesses the country a proxy name refers to from its tokens:
// "HK-01" and "Tokyo US West" style names carry country codes or names.
// Two-letter tokens are only considered when uppercase in the original, so
// lowercase words don't collide with alpha-2 codes.
func RegionForName(name string) (countries.CountryCode, bool) {
	for _, token := range splitNameTokens(name) {
		if len(token) < 2 {
			continue
		}
		if len(token) == 2 && token != strings.ToUpper(token) {
			continue
		}
		if cc := countries.ByName(token); cc != countries.Unknown {
			return cc, true
		}
	}
	return countries.Unknown, false
}

// CountryByISO resolves an ISO alpha-2 code from a GeoIP lookup.
func CountryByISO(iso string) (countries.CountryCode, bool) {
	if iso == "" {
		return countries.Unknown, false
	}
	cc := countries.ByName(iso)
	return cc, cc != countries.Unknown
}

// CountryLabel renders a short display tag, emoji plus name.
func CountryLabel(cc countries.CountryCode) string {
	if cc == countries.Unknown {
		return ""
	}
	return cc.Emoji() + " " + cc.String()
}

func splitNameTokens(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
