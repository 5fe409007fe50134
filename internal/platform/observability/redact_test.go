package observability

import (
	"strings"
	"testing"
)

func TestRedactQueryMasksGatewaySignature(t *testing.T) {
	raw := "vnp_TxnRef=DH20240601000123&vnp_Amount=27000000&vnp_SecureHash=abcdef0123&vnp_SecureHashType=HmacSHA512"
	got := RedactQuery(raw)

	if strings.Contains(got, "abcdef0123") {
		t.Fatalf("signature leaked: %s", got)
	}
	if !strings.Contains(got, "vnp_SecureHash=[redacted]") || !strings.Contains(got, "vnp_SecureHashType=[redacted]") {
		t.Fatalf("expected masked signature params, got %s", got)
	}
	if !strings.Contains(got, "vnp_TxnRef=DH20240601000123") || !strings.Contains(got, "vnp_Amount=27000000") {
		t.Fatalf("expected reconciliation params to survive, got %s", got)
	}
	if !strings.HasPrefix(got, "vnp_Amount=") {
		t.Fatalf("expected keys sorted, got %s", got)
	}
}

func TestRedactQueryEdgeCases(t *testing.T) {
	if got := RedactQuery(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := RedactQuery("a=%zz"); got != "" {
		t.Fatalf("expected unparseable query to be dropped, got %q", got)
	}
	long := "note=" + strings.Repeat("x", 2*maxLoggedQuery)
	if got := RedactQuery(long); len([]rune(got)) != maxLoggedQuery {
		t.Fatalf("expected truncation to %d runes, got %d", maxLoggedQuery, len([]rune(got)))
	}
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	if got := sanitizeString("ord_1\n\x00forged=1", 64); got != "ord_1forged=1" {
		t.Fatalf("unexpected sanitised value %q", got)
	}
	if got := SanitizeActor("  staff:uid-123  "); got != "staff:uid-123" {
		t.Fatalf("unexpected actor %q", got)
	}
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root route, got %q", got)
	}
}
