// Package sse inspects server-sent event streams from LLM providers for
// rate-limit failures that arrive as ordinary stream content instead of an
// HTTP status.
package sse

import (
	"strings"

	json "github.com/goccy/go-json"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// DetectRateLimit scans a chunk of event-stream text and reports whether any
// data line carries a rate-limit message. JSON payloads are checked through
// ExtractErrorText; anything that does not parse as JSON is checked as raw text.
//
// Only complete lines are understood. A data line split across two chunks may
// be missed; use Detector when chunks come straight off the wire.
func DetectRateLimit(chunk string) bool {
	limited, _ := scanLines(chunk)
	return limited
}

type lineClass int

const (
	lineOther lineClass = iota
	// lineText carries extracted text that is not a rate limit.
	lineText
	lineRateLimit
)

// scanLines classifies each line of s and stops at the first rate limit.
// text reports whether a line with ordinary extracted text came before it.
func scanLines(s string) (limited, text bool) {
	for _, line := range strings.Split(s, "\n") {
		switch classifyLine(line) {
		case lineRateLimit:
			return true, text
		case lineText:
			text = true
		}
	}
	return false, text
}

func classifyLine(line string) lineClass {
	line = strings.TrimSuffix(line, "\r")
	data, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return lineOther
	}
	if strings.TrimSpace(data) == doneSentinel {
		return lineOther
	}

	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		if IsRateLimitError(data) {
			return lineRateLimit
		}
		return lineOther
	}
	text, ok := ExtractErrorText(v)
	switch {
	case !ok || text == "":
		return lineOther
	case IsRateLimitError(text):
		return lineRateLimit
	default:
		return lineText
	}
}

// DetectRateLimitJSON checks a complete, non-streamed JSON response body.
// Bodies that are not JSON never match.
func DetectRateLimitJSON(body []byte) bool {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	text, ok := ExtractErrorText(v)
	return ok && IsRateLimitError(text)
}
