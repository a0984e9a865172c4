package visitor

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/user_agent"

	"github.com/veil-waf/cloakgate/internal/geo"
)

// maxFingerprintBodyBytes bounds the POST body the extractor will parse as
// a fingerprint, independent of any upstream body-size middleware.
const maxFingerprintBodyBytes = 1 << 20 // 1 MiB

// Extractor builds Descriptors from inbound requests (component C1).
// Per spec.md §4.1 it has no failure modes of its own: a malformed
// fingerprint body or a geolocation miss degrade to "absent", never to an
// error.
type Extractor struct {
	geo           geo.Lookuper
	trustedProxies []*net.IPNet
}

// NewExtractor builds an Extractor. trustedProxyCIDRs authorizes deriving
// the visitor IP from X-Forwarded-For/X-Real-IP when the direct peer is one
// of them — otherwise those headers are recorded (they're in the allow-list)
// but never trusted for IP selection, preventing IP spoofing by arbitrary
// clients.
func NewExtractor(lookuper geo.Lookuper, trustedProxyCIDRs []string) *Extractor {
	var nets []*net.IPNet
	for _, c := range trustedProxyCIDRs {
		if _, ipNet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return &Extractor{geo: lookuper, trustedProxies: nets}
}

// Extract builds a Descriptor from r. For POST requests, it also attempts
// to parse a JSON body of the shape {"fingerprint": {...}}; a malformed or
// missing fingerprint is simply treated as absent.
func (e *Extractor) Extract(r *http.Request) Descriptor {
	remoteIP := e.resolveIP(r)

	headers := make(map[string]string, len(allowedHeaders))
	for key := range allowedHeaders {
		if v := r.Header.Get(key); v != "" {
			headers[key] = v
		}
	}

	rawUA := r.Header.Get("User-Agent")
	browser := parseBrowser(rawUA)

	var fp *Fingerprint
	if r.Method == http.MethodPost {
		fp = parseFingerprintBody(r)
	}

	var location *geo.Location
	if ip := net.ParseIP(remoteIP); ip != nil {
		location = e.geo.Lookup(ip)
	}

	accept := headers["accept"]
	acceptLang := headers["accept-language"]
	acceptEnc := headers["accept-encoding"]

	d := Descriptor{
		RemoteIP:    remoteIP,
		RemoteIPNum: ipToBigInt(net.ParseIP(remoteIP)),
		RawUA:       rawUA,
		Browser:     browser,
		Referrer:    r.Header.Get("Referer"),
		Headers:     headers,
		Fingerprint: fp,
		Geo:         location,
	}
	d.HashHex = computeFingerprintHash(remoteIP, rawUA, accept, acceptLang, acceptEnc, fp)
	return d
}

// resolveIP picks the visitor's IP per spec.md §4.1: the direct peer
// address, unless the peer is a configured trusted proxy, in which case the
// left-most X-Forwarded-For entry (or X-Real-IP) is used instead.
func (e *Extractor) resolveIP(r *http.Request) string {
	peerHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peerHost = r.RemoteAddr
	}
	peerIP := net.ParseIP(peerHost)
	if peerIP == nil || !e.isTrustedProxy(peerIP) {
		return peerHost
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	return peerHost
}

func (e *Extractor) isTrustedProxy(ip net.IP) bool {
	for _, n := range e.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseBrowser delegates to mssola/user_agent; every field remains the
// zero value when the library cannot identify it — spec.md §4.1 treats
// missing UA fields as nullable, not errors.
func parseBrowser(rawUA string) BrowserInfo {
	if rawUA == "" {
		return BrowserInfo{}
	}
	ua := user_agent.New(rawUA)
	name, version := ua.Browser()

	device := "desktop"
	if ua.Mobile() {
		device = "mobile"
	}
	lower := strings.ToLower(rawUA)
	if strings.Contains(lower, "tablet") || strings.Contains(lower, "ipad") {
		device = "tablet"
	}

	return BrowserInfo{
		Name:     name,
		Version:  version,
		OS:       ua.OS(),
		Platform: ua.Platform(),
		Device:   device,
		IsBot:    ua.Bot(),
	}
}

// fingerprintEnvelope is the POST body shape spec.md §6 defines:
// {"fingerprint": {...}}.
type fingerprintEnvelope struct {
	Fingerprint *Fingerprint `json:"fingerprint"`
}

// parseFingerprintBody reads and parses the request body as a
// fingerprintEnvelope. Any failure — oversized body, invalid JSON,
// structurally invalid fingerprint — yields nil, never an error: spec.md
// §4.1 classifies this as InputMalformed, always treated as absent.
func parseFingerprintBody(r *http.Request) *Fingerprint {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBodyBytes))
	if err != nil || len(body) == 0 {
		return nil
	}

	var env fingerprintEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Fingerprint
}
