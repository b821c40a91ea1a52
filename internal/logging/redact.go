package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// Field names whose values never reach a log line.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"cookie",
	"session",
	"credential",
}

var secretPatterns = []*regexp.Regexp{
	// Bearer headers
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`),

	// JWTs (header.payload.signature)
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]*`),

	// token=... in query strings and form bodies
	regexp.MustCompile(`(?i)((?:token|session|auth)=)[^&\s"']+`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for i, pattern := range secretPatterns {
		if i == len(secretPatterns)-1 {
			result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
			continue
		}
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactURL returns raw with sensitive query parameters masked. The
// stream endpoint carries its token in the query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	query := u.Query()
	changed := false
	for key := range query {
		if IsSensitiveField(key) {
			query.Set(key, RedactedValue)
			changed = true
		}
	}
	if changed {
		u.RawQuery = strings.ReplaceAll(query.Encode(), url.QueryEscape(RedactedValue), RedactedValue)
	}
	return u.String()
}

// RedactMap redacts sensitive fields in a map.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))

	for k, v := range m {
		switch typed := v.(type) {
		case map[string]interface{}:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = RedactMap(typed)
			}
		case string:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = Redact(typed)
			}
		default:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = v
			}
		}
	}

	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
