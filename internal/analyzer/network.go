package analyzer

import (
	"context"
	"sync"

	"github.com/veil-waf/cloakgate/internal/analyzer/data"
	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/threatintel"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

// NetworkAnalyzer implements spec.md §4.5's network analyzer — the only
// analyzer permitted to perform I/O, via the Threat-Intel provider.
type NetworkAnalyzer struct {
	intel *threatintel.Aggregator

	mu      sync.RWMutex
	torList map[string]struct{} // exact-IP TOR exit set; nil/empty means unconfigured
}

// NewNetworkAnalyzer builds a NetworkAnalyzer. intel may be nil, in which
// case the provider contribution is simply omitted (spec.md §4.4 treats an
// absent/unreachable provider as contributing nothing).
func NewNetworkAnalyzer(intel *threatintel.Aggregator) *NetworkAnalyzer {
	return &NetworkAnalyzer{intel: intel}
}

// SetTORList replaces the exact-match TOR exit-node set. Spec.md §9 leaves
// the source and refresh cadence as an open question; cloakgate resolves
// it by accepting whatever list the operator supplies at startup or on a
// reload, with no opinion on where it comes from.
func (n *NetworkAnalyzer) SetTORList(ips []string) {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	n.mu.Lock()
	n.torList = set
	n.mu.Unlock()
}

func (n *NetworkAnalyzer) isTOR(ip string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.torList == nil {
		return false
	}
	_, ok := n.torList[ip]
	return ok
}

func (NetworkAnalyzer) Name() string { return NameNetwork }

func (n *NetworkAnalyzer) Analyze(ctx context.Context, d visitor.Descriptor) decision.AnalyzerResult {
	ip := d.IP()
	var flags []string
	var contributions []float64

	if ip != nil && (ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()) {
		flags = append(flags, "private_ip_address")
		contributions = append(contributions, 0.9)
	}

	if ip != nil && data.IsDatacenterIP(ip) {
		flags = append(flags, "datacenter_ip")
		contributions = append(contributions, 0.7)
	}

	proxyHeaderCount := 0
	for _, h := range []string{"x-forwarded-for", "x-real-ip", "via", "forwarded"} {
		if d.Header(h) != "" {
			proxyHeaderCount++
		}
	}
	if proxyHeaderCount >= 2 {
		flags = append(flags, "multiple_proxy_headers")
		contributions = append(contributions, 0.1)
	}

	if ip != nil && n.isTOR(ip.String()) {
		flags = append(flags, "tor_exit_node")
		contributions = append(contributions, 0.9)
	}

	confidence := 0.6
	if n.intel != nil && ip != nil {
		result := n.intel.Lookup(ctx, ip)
		if result.Score > 0 {
			flags = append(flags, "threat_intel_flagged")
			contributions = append(contributions, result.Score*0.15)
			confidence = 0.8
		}
	}

	return decision.AnalyzerResult{
		Score:      maxFloat(contributions...),
		Confidence: confidence,
		Flags:      flags,
	}
}
