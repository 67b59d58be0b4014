// Package enrich derives session defaults from the HTTP request that opened
// a gateway session: the country from the client IP and the platform from
// the User-Agent.
package enrich

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/adcortex-go/internal/geoip"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// Client describes the caller as seen from the request.
type Client struct {
	IP         net.IP
	Country    string
	DeviceType string
	OS         string
	Browser    string
	Version    string
	IsBot      bool
}

// FromUA parses a raw User-Agent string.
func FromUA(ua string) Client {
	u := uasurfer.Parse(ua)

	var deviceType string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}

	v := u.Browser.Version
	return Client{
		DeviceType: deviceType,
		OS:         u.OS.Name.StringTrimPrefix(),
		Browser:    u.Browser.Name.StringTrimPrefix(),
		Version:    fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch),
		IsBot:      u.IsBot(),
	}
}

// ClientIP returns the caller IP, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) net.IP {
	ipStr := r.Header.Get("X-Forwarded-For")
	if ipStr == "" {
		ipStr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ipStr); err == nil {
			ipStr = host
		}
	} else if idx := strings.Index(ipStr, ","); idx != -1 {
		ipStr = ipStr[:idx]
	}
	return net.ParseIP(strings.TrimSpace(ipStr))
}

// FromRequest resolves the caller of r. loc may be nil.
func FromRequest(r *http.Request, loc geoip.Locator) Client {
	c := FromUA(r.Header.Get("User-Agent"))
	c.IP = ClientIP(r)
	if loc != nil && c.IP != nil {
		c.Country = loc.Country(c.IP)
	}
	return c
}

// Platform returns the platform record implied by the User-Agent, or false
// when the browser could not be identified.
func (c Client) Platform() (models.Platform, bool) {
	if c.Browser == "" || c.Browser == "Unknown" {
		return models.Platform{}, false
	}
	return models.Platform{Name: c.Browser, Version: c.Version}, true
}

// Apply fills the session fields the caller left empty and returns the
// names of the fields it set.
func (c Client) Apply(s *models.SessionInfo) []string {
	var filled []string
	if s.UserInfo.Location == "" && c.Country != "" {
		s.UserInfo.Location = c.Country
		filled = append(filled, "user_info.location")
	}
	if s.Platform == (models.Platform{}) {
		if p, ok := c.Platform(); ok {
			s.Platform = p
			filled = append(filled, "platform")
		}
	}
	return filled
}
