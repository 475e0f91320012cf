package ledger

import (
	"regexp"
	"strings"
)

// RedactedToken replaces every sensitive match before storage.
const RedactedToken = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)r8_[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9._\-]{20,}`),
	regexp.MustCompile(`(?i)token[=:]\s*[a-zA-Z0-9._\-]{20,}`),
	regexp.MustCompile(`(?i)key[=:]\s*[a-zA-Z0-9._\-]{20,}`),
	regexp.MustCompile(`(?i)secret[=:]\s*[a-zA-Z0-9._\-]{20,}`),
	regexp.MustCompile(`(?i)password[=:]\s*\S+`),
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\b\d{13,19}\b`),
}

// piiKeys is a closed set; context values under these keys are dropped
// entirely rather than redacted.
var piiKeys = map[string]struct{}{
	"customer_name":    {},
	"customer_email":   {},
	"customer_address": {},
	"email":            {},
	"address":          {},
	"phone":            {},
	"name":             {},
	"password":         {},
	"api_key":          {},
	"secret":           {},
	"access_token":     {},
	"refresh_token":    {},
	"credit_card":      {},
	"ssn":              {},
}

// Redact replaces API keys, bearer tokens, credentials, email
// addresses, and card-like digit runs with the redaction token.
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, RedactedToken)
	}
	return s
}

// RedactContext drops PII keys, redacts string values, and recurses
// into nested maps. Other value types pass through unchanged.
func RedactContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	clean := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if _, pii := piiKeys[strings.ToLower(k)]; pii {
			continue
		}
		switch val := v.(type) {
		case string:
			clean[k] = Redact(val)
		case map[string]any:
			clean[k] = RedactContext(val)
		default:
			clean[k] = v
		}
	}
	return clean
}
