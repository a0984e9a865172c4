package analyzer_test

import (
	"context"
	"testing"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func TestNetworkAnalyzer_PrivateIP(t *testing.T) {
	n := analyzer.NewNetworkAnalyzer(nil)
	d := visitor.Descriptor{RemoteIP: "10.0.0.5"}
	res := n.Analyze(context.Background(), d)
	if res.Score != 0.9 {
		t.Fatalf("Score = %v, want 0.9", res.Score)
	}
	if res.Flags[0] != "private_ip_address" {
		t.Fatalf("Flags = %v", res.Flags)
	}
}

func TestNetworkAnalyzer_DatacenterIP(t *testing.T) {
	n := analyzer.NewNetworkAnalyzer(nil)
	d := visitor.Descriptor{RemoteIP: "3.5.6.7"} // within 3.0.0.0/8
	res := n.Analyze(context.Background(), d)
	var saw bool
	for _, f := range res.Flags {
		if f == "datacenter_ip" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("Flags = %v", res.Flags)
	}
}

func TestNetworkAnalyzer_TORExitNode(t *testing.T) {
	n := analyzer.NewNetworkAnalyzer(nil)
	n.SetTORList([]string{"198.51.100.7"})
	d := visitor.Descriptor{RemoteIP: "198.51.100.7"}
	res := n.Analyze(context.Background(), d)
	var saw bool
	for _, f := range res.Flags {
		if f == "tor_exit_node" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("Flags = %v", res.Flags)
	}
}

func TestNetworkAnalyzer_CleanPublicIP(t *testing.T) {
	n := analyzer.NewNetworkAnalyzer(nil)
	d := visitor.Descriptor{RemoteIP: "198.51.100.7"} // not TOR-listed, not datacenter
	res := n.Analyze(context.Background(), d)
	if res.Score != 0 {
		t.Fatalf("Score = %v, want 0", res.Score)
	}
}

func TestNetworkAnalyzer_MultipleProxyHeaders(t *testing.T) {
	n := analyzer.NewNetworkAnalyzer(nil)
	d := visitor.Descriptor{
		RemoteIP: "198.51.100.7",
		Headers:  map[string]string{"x-forwarded-for": "1.2.3.4", "via": "1.1 proxy"},
	}
	res := n.Analyze(context.Background(), d)
	var saw bool
	for _, f := range res.Flags {
		if f == "multiple_proxy_headers" {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("Flags = %v", res.Flags)
	}
}
