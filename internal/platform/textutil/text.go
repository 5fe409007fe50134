package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText strips every HTML element from free text, collapses whitespace and
// truncates the result to maxRunes when maxRunes is positive.
func PlainText(value string, maxRunes int) string {
	cleaned := html.UnescapeString(policy().Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return cleaned
}

// NormalizeCode folds a customer typed code (promotion or order) to its canonical
// form: NFKC so full-width characters match, upper case, no spaces.
func NormalizeCode(value string) string {
	folded := norm.NFKC.String(value)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
