package utils

import (
	"errors"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

var ErrNoDatabase = errors.New("no geoip database configured")

// GeoService resolves addresses to ISO country codes via a MaxMind-format
// database. A nil service (no database configured) is valid and reports
// every lookup as a miss.
type GeoService struct {
	reader  *maxminddb.Reader
	cache   map[string]string
	cacheMu sync.Mutex
}

func OpenGeoService(path string) (*GeoService, error) {
	if path == "" {
		return nil, ErrNoDatabase
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoService{
		reader: reader,
		cache:  make(map[string]string),
	}, nil
}

func (g *GeoService) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// LookupCountry returns the ISO country code for an address. Private,
// unparseable, and unknown addresses miss.
func (g *GeoService) LookupCountry(addr string) (string, bool) {
	if g == nil || g.reader == nil {
		return "", false
	}

	g.cacheMu.Lock()
	if cc, ok := g.cache[addr]; ok {
		g.cacheMu.Unlock()
		return cc, cc != ""
	}
	g.cacheMu.Unlock()

	ip := net.ParseIP(addr)
	if ip == nil {
		return "", false
	}

	var rec struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	cc := ""
	if err := g.reader.Lookup(ip, &rec); err == nil {
		cc = rec.Country.ISOCode
	}

	g.cacheMu.Lock()
	if len(g.cache) > 100000 {
		count := 0
		for k := range g.cache {
			delete(g.cache, k)
			count++
			if count > 20000 {
				break
			}
		}
	}
	g.cache[addr] = cc
	g.cacheMu.Unlock()

	return cc, cc != ""
}
