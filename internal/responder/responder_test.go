package responder_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veil-waf/cloakgate/internal/decision"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/responder"
)

func TestWriteDecision_301SetsLocationAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	responder.WriteDecision(w, decision.Decision{RedirectURL: "https://example.com/offer", RedirectKind: string(pgstore.Redirect301)})

	if w.Code != 301 {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://example.com/offer" {
		t.Fatalf("Location = %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}
}

func TestWriteDecision_302SetsLocationAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	responder.WriteDecision(w, decision.Decision{RedirectURL: "https://example.com/safe", RedirectKind: string(pgstore.Redirect302)})

	if w.Code != 302 {
		t.Fatalf("status = %d, want 302", w.Code)
	}
}

func TestWriteDecision_JSRedirectEscapesSingleQuote(t *testing.T) {
	w := httptest.NewRecorder()
	maliciousURL := `https://example.com/x'</script><script>alert(1)</script>`
	responder.WriteDecision(w, decision.Decision{RedirectURL: maliciousURL, RedirectKind: string(pgstore.RedirectJS)})

	body := w.Body.String()
	if strings.Contains(body, "'</script><script>alert") {
		t.Fatalf("unescaped payload leaked into response body: %s", body)
	}
	if !strings.Contains(body, "window.location.href=") {
		t.Fatalf("missing expected JS redirect snippet: %s", body)
	}
}

func TestWriteDecision_MetaRedirectEscapesAmpersandAndQuote(t *testing.T) {
	w := httptest.NewRecorder()
	url := `https://example.com/offer?a=1&b="2"`
	responder.WriteDecision(w, decision.Decision{RedirectURL: url, RedirectKind: string(pgstore.RedirectMeta)})

	body := w.Body.String()
	if strings.Contains(body, `&b="2"`) {
		t.Fatalf("unescaped & or \" leaked into meta refresh body: %s", body)
	}
	if !strings.Contains(body, "http-equiv=\"refresh\"") {
		t.Fatalf("missing meta refresh tag: %s", body)
	}
}

func TestWriteDecision_DirectBehavesLike302(t *testing.T) {
	w := httptest.NewRecorder()
	responder.WriteDecision(w, decision.Decision{RedirectURL: "https://example.com/offer", RedirectKind: string(pgstore.RedirectDirect)})

	if w.Code != 302 {
		t.Fatalf("status = %d, want 302 for direct redirect kind", w.Code)
	}
}
