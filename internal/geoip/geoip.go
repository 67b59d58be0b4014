// Package geoip resolves client IP addresses to ISO 3166-1 country codes.
package geoip

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// Locator maps an IP to an upper-case country code, or "" when unknown.
type Locator interface {
	Country(ip net.IP) string
}

// GeoIP provides country lookup using a MaxMind DB or a JSON list of CIDR
// ranges, which is handy in development and tests.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

var _ Locator = (*GeoIP)(nil)

type record struct {
	net     *net.IPNet
	country string
}

// Init opens the database at path, trying the MaxMind format first and the
// JSON fallback format ([{"net": "10.0.0.0/8", "country": "US"}]) second.
func Init(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	g, jerr := FromJSON(data)
	if jerr != nil {
		return nil, err
	}
	return g, nil
}

// FromJSON builds a GeoIP from the JSON fallback format. Entries with an
// unparsable CIDR or country code are skipped.
func FromJSON(data []byte) (*GeoIP, error) {
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	g := &GeoIP{}
	for _, e := range entries {
		code := strings.ToUpper(e.Country)
		if !models.IsCountryCode(code) {
			continue
		}
		if _, n, err := net.ParseCIDR(e.Net); err == nil {
			g.fallback = append(g.fallback, record{net: n, country: code})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip. A nil GeoIP, a nil ip or a
// miss yields "".
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		rec, err := g.db.Country(ip)
		if err == nil && models.IsCountryCode(rec.Country.IsoCode) {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
