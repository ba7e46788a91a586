package sse

import "strings"

// rateLimitMarker is matched case-insensitively against extracted text.
const rateLimitMarker = "rate limit"

// IsRateLimitError reports whether text mentions a rate limit in any letter case.
func IsRateLimitError(text string) bool {
	return strings.Contains(strings.ToLower(text), rateLimitMarker)
}

// ExtractErrorText returns the first text field that may carry an upstream error.
// Fields are tried in order: error (string), error.message, error.detail,
// delta.text and a top-level message string. Non-string values are skipped.
func ExtractErrorText(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}

	switch e := obj["error"].(type) {
	case string:
		return e, true
	case map[string]any:
		if s, ok := e["message"].(string); ok {
			return s, true
		}
		if s, ok := e["detail"].(string); ok {
			return s, true
		}
	}

	if delta, ok := obj["delta"].(map[string]any); ok {
		if s, ok := delta["text"].(string); ok {
			return s, true
		}
	}

	if s, ok := obj["message"].(string); ok {
		return s, true
	}
	return "", false
}
