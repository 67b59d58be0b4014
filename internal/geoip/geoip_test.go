package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

const fallbackJSON = `[
  {"net": "10.0.0.0/8", "country": "us"},
  {"net": "192.168.0.0/16", "country": "DE"},
  {"net": "not-a-cidr", "country": "FR"},
  {"net": "172.16.0.0/12", "country": "XX1"}
]`

func TestFromJSON(t *testing.T) {
	g, err := FromJSON([]byte(fallbackJSON))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	tests := []struct {
		ip   string
		want string
	}{
		{"10.1.2.3", "US"},
		{"192.168.1.1", "DE"},
		{"172.16.0.1", ""},
		{"8.8.8.8", ""},
	}
	for _, tt := range tests {
		if got := g.Country(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("Country(%s) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestInitJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.json")
	if err := os.WriteFile(path, []byte(fallbackJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	g, err := Init(path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer g.Close()

	if got := g.Country(net.ParseIP("10.0.0.1")); got != "US" {
		t.Errorf("want US got %q", got)
	}
}

func TestInitMissingFile(t *testing.T) {
	if _, err := Init(filepath.Join(t.TempDir(), "missing.mmdb")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNilGeoIP(t *testing.T) {
	var g *GeoIP
	if got := g.Country(net.ParseIP("10.0.0.1")); got != "" {
		t.Errorf("nil GeoIP should return empty, got %q", got)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
}
