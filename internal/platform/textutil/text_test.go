package textutil

import "testing"

func TestPlainTextStripsMarkup(t *testing.T) {
	got := PlainText("  <b>Call</b> before   <script>alert(1)</script>delivery ", 0)
	if got != "Call before delivery" {
		t.Fatalf("unexpected plain text %q", got)
	}
}

func TestPlainTextTruncatesRunes(t *testing.T) {
	got := PlainText("Giao hàng nhanh", 9)
	if got != "Giao hàng" {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		" save10 ": "SAVE10",
		"ＳＡＶＥ１０":   "SAVE10",
		"dh 2025":  "DH2025",
		"":         "",
	}
	for input, want := range cases {
		if got := NormalizeCode(input); got != want {
			t.Fatalf("NormalizeCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPlainTextKeepsAmpersands(t *testing.T) {
	if got := PlainText("Nguyen & Sons", 0); got != "Nguyen & Sons" {
		t.Fatalf("unexpected plain text %q", got)
	}
}
