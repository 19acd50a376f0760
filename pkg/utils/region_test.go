package utils

import (
	"testing"

	"github.com/biter777/countries"
)

func TestRegionForName(t *testing.T) {
	tests := []struct {
		name string
		want countries.CountryCode
		ok   bool
	}{
		{"HK-01", countries.HK, true},
		{"Japan Premium", countries.JP, true},
		{"US West 2", countries.US, true},
		{"Germany-Frankfurt", countries.DE, true},
		{"fast-node-7", countries.Unknown, false},
		{"", countries.Unknown, false},
	}
	for _, tt := range tests {
		got, ok := RegionForName(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("Expected (%v,%v) for %q, got (%v,%v)", tt.want, tt.ok, tt.name, got, ok)
		}
	}
}

func TestRegionForNameIgnoresLowercaseCodes(t *testing.T) {
	// Short lowercase words must not collide with alpha-2 codes.
	if _, ok := RegionForName("my-node"); ok {
		t.Error("Expected lowercase 'my' not to match Malaysia")
	}
	if cc, ok := RegionForName("MY-node"); !ok || cc != countries.MY {
		t.Errorf("Expected uppercase MY to match Malaysia, got (%v,%v)", cc, ok)
	}
}

func TestCountryByISO(t *testing.T) {
	if cc, ok := CountryByISO("DE"); !ok || cc != countries.DE {
		t.Errorf("Expected DE resolved, got (%v,%v)", cc, ok)
	}
	if _, ok := CountryByISO(""); ok {
		t.Error("Expected empty ISO code to miss")
	}
	if _, ok := CountryByISO("ZZ"); ok {
		t.Error("Expected bogus ISO code to miss")
	}
}

func TestCountryLabel(t *testing.T) {
	if got := CountryLabel(countries.Unknown); got != "" {
		t.Errorf("Expected empty label for unknown country, got %q", got)
	}
	if got := CountryLabel(countries.JP); got == "" {
		t.Error("Expected a non-empty label for Japan")
	}
}
