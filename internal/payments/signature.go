package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// CanonicalString renders params as the gateway hashes them: names sorted
// lexicographically, name and value URL-encoded, pairs joined with '&'.
// Empty values and the hash parameters themselves are skipped.
func CanonicalString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == ParamSecureHash || key == ParamSecureHashType {
			continue
		}
		if params.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA512 of data under secret.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature over the canonical form of params
// and compares it with the received one in constant time.
func VerifySignature(secret string, params url.Values) bool {
	received := strings.TrimSpace(params.Get(ParamSecureHash))
	if received == "" || secret == "" {
		return false
	}
	receivedMAC, err := hex.DecodeString(received)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(CanonicalString(params)))
	return hmac.Equal(mac.Sum(nil), receivedMAC)
}
