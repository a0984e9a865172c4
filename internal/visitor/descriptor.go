// Package visitor builds the per-request VisitorDescriptor (spec.md §3, §4.1)
// from an inbound HTTP request: IP resolution honoring a trusted-proxy
// policy, UA parsing, header allow-listing, geolocation, and an optional
// POST-body fingerprint. Grounded on the teacher's proxy/handler.go request
// introspection (IP/header extraction) generalized from WAF-raw-request
// capture into a structured, immutable descriptor.
package visitor

import (
	"math/big"
	"net"
	"strings"

	"github.com/veil-waf/cloakgate/internal/geo"
)

// allowedHeaders is the fixed header allow-list from spec.md §4.1. Keys are
// already lower-case; downstream analyzers index by these interned keys
// instead of re-normalizing per request (per the "string-keyed maps" design
// note).
var allowedHeaders = map[string]struct{}{
	"accept":                     {},
	"accept-language":            {},
	"accept-encoding":            {},
	"dnt":                        {},
	"connection":                 {},
	"upgrade-insecure-requests":  {},
	"x-forwarded-for":            {},
	"x-real-ip":                  {},
	"via":                        {},
	"forwarded":                  {},
	"sec-ch-ua":                  {},
	"sec-ch-ua-mobile":           {},
	"sec-ch-ua-platform":         {},
	"sec-fetch-dest":             {},
	"sec-fetch-mode":             {},
	"sec-fetch-site":             {},
	"cache-control":              {},
	"pragma":                     {},
	"x-requested-with":           {},
	"x-originating-ip":           {},
	"x-forwarded-host":           {},
	"x-proxy-connection":         {},
	"x-automation":               {},
	"x-bot":                      {},
	"x-crawler":                  {},
	"x-debug":                    {},
	"x-test":                     {},
	"x-webdriver":                {},
	"x-selenium":                 {},
	"x-puppeteer":                {},
	"x-playwright":               {},
	"webdriver-active":           {},
	"x-chrome-connected":         {},
	"x-devtools-emulate-network-conditions-client-id": {},
}

// BrowserInfo is the UA-parsed subset of spec.md's VisitorDescriptor.
type BrowserInfo struct {
	Name    string // empty if unidentifiable
	Version string
	OS      string
	Platform string
	Device  string // "mobile", "tablet", or "desktop"
	IsBot   bool   // UA library's own bot heuristic, independent of internal/analyzer
}

// Descriptor is spec.md §3's VisitorDescriptor: an immutable, request-scoped
// value object.
type Descriptor struct {
	RemoteIP    string
	RemoteIPNum *big.Int // canonical numeric form, for CIDR/range operations
	RawUA       string
	Browser     BrowserInfo
	Referrer    string
	Headers     map[string]string // lower-cased keys, allow-listed subset
	Fingerprint *Fingerprint
	Geo         *geo.Location
	HashHex     string // stable 128-bit fingerprint hash, hex-encoded
}

// IP returns the parsed net.IP form of RemoteIP, or nil if unparseable.
func (d Descriptor) IP() net.IP { return net.ParseIP(d.RemoteIP) }

// Header returns an allow-listed header value (already lower-cased key),
// or "" if absent.
func (d Descriptor) Header(key string) string {
	return d.Headers[strings.ToLower(key)]
}

// ipToBigInt converts an IP (v4 or v6) to its canonical numeric form.
func ipToBigInt(ip net.IP) *big.Int {
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return new(big.Int).SetBytes(v4)
	}
	return new(big.Int).SetBytes(ip.To16())
}
