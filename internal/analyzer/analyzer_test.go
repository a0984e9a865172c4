package analyzer_test

import (
	"testing"

	"github.com/veil-waf/cloakgate/internal/analyzer"
)

func TestBank_ContainsAllSixInFixedOrder(t *testing.T) {
	network := analyzer.NewNetworkAnalyzer(nil)
	bank := analyzer.Bank(network)

	wantNames := []string{
		analyzer.NameUserAgent,
		analyzer.NameHeaders,
		analyzer.NameNetwork,
		analyzer.NameFingerprint,
		analyzer.NameHeadless,
		analyzer.NameBehavior,
	}
	if len(bank) != len(wantNames) {
		t.Fatalf("len(bank) = %d, want %d", len(bank), len(wantNames))
	}
	for i, a := range bank {
		if a.Name() != wantNames[i] {
			t.Errorf("bank[%d].Name() = %q, want %q", i, a.Name(), wantNames[i])
		}
	}
}
