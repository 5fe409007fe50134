package observability

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	maxLoggedQuery     = 512
	redactedValue      = "[redacted]"
)

// Gateway callbacks carry their signature in the query string. Any parameter whose
// lower-cased name contains one of these fragments is masked before logging.
var sensitiveParamFragments = []string{"securehash", "hashsecret", "signature", "token", "password"}

// sanitizeString drops control characters and truncates to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	b.Grow(len(value))
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeActor bounds a customer or staff identifier for logging.
func SanitizeActor(id string) string {
	return sanitizeString(strings.TrimSpace(id), 64)
}

// RedactQuery re-encodes a raw query with gateway signatures and credentials masked.
// Unparseable queries are dropped entirely.
func RedactQuery(rawQuery string) string {
	if strings.TrimSpace(rawQuery) == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		masked := isSensitiveParam(key)
		for _, value := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			if masked {
				b.WriteString(redactedValue)
				continue
			}
			b.WriteString(url.QueryEscape(value))
		}
	}
	return sanitizeString(b.String(), maxLoggedQuery)
}

func isSensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveParamFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
