package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const anthropicRateLimited = `event: message_start
data: {"type":"message_start","message":{"role":"assistant","stop_sequence":null,"usage":{"output_tokens":0,"input_tokens":0},"stop_reason":null,"model":"error","id":"msg_e76873af-d47","type":"message","content":[]}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"text":"","type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"text":"Rate limit error, please wait before trying again","type":"text_delta"}}

`

const anthropicHealthy = `event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"text":"Hello, how can I help you?","type":"text_delta"}}

`

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Rate limit exceeded", true},
		{"RATE LIMIT EXCEEDED", true},
		{"You have exceeded the rate limit", true},
		{"rAtE LiMiT", true},
		{"Internal server error", false},
		{"Authentication failed", false},
		{"ratelimit", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimitError(tt.text), tt.text)
	}
}

func TestExtractErrorText(t *testing.T) {
	tests := []struct {
		name   string
		v      any
		want   string
		wantOK bool
	}{
		{"error string", map[string]any{"error": "boom"}, "boom", true},
		{"error message", map[string]any{"error": map[string]any{"message": "m", "detail": "d"}}, "m", true},
		{"error detail", map[string]any{"error": map[string]any{"detail": "d"}}, "d", true},
		{"error wins over delta", map[string]any{"error": "e", "delta": map[string]any{"text": "t"}}, "e", true},
		{"delta text", map[string]any{"delta": map[string]any{"text": "t"}}, "t", true},
		{"delta wins over message", map[string]any{"delta": map[string]any{"text": "t"}, "message": "m"}, "t", true},
		{"top-level message", map[string]any{"message": "m"}, "m", true},
		{"error object without text falls through", map[string]any{"error": map[string]any{"code": 429.0}, "message": "m"}, "m", true},
		{"non-string message", map[string]any{"message": map[string]any{"role": "assistant"}}, "", false},
		{"non-string delta text", map[string]any{"delta": map[string]any{"text": 1.0}}, "", false},
		{"array", []any{"rate limit"}, "", false},
		{"string", "rate limit", "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractErrorText(tt.v)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectRateLimit(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  bool
	}{
		{"anthropic delta", anthropicRateLimited, true},
		{"healthy delta", anthropicHealthy, false},
		{"done only", "data: [DONE]\n", false},
		{"done with spaces", "data:   [DONE]  \n\n", false},
		{"empty", "", false},
		{"error string", `data: {"error":"Rate limit reached for requests"}`, true},
		{"error message", `data: {"type":"error","error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`, true},
		{"error detail", `data: {"error":{"detail":"rate limit, slow down"}}`, true},
		{"top-level message", `data: {"message":"RATE LIMIT"}`, true},
		{"other error", `data: {"error":{"message":"overloaded"}}`, false},
		{"raw text", "data: rate limit hit, try later\n", true},
		{"raw text unrelated", "data: upstream went away\n", false},
		{"json without text field", `data: {"type":"ping","note":"rate limit"}`, false},
		{"json number", "data: 42\n", false},
		{"no data prefix", `event: {"error":"rate limit"}`, false},
		{"missing space after colon", `data:{"error":"rate limit"}`, false},
		{"crlf lines", "data: {\"message\":\"Rate limit\"}\r\n\r\n", true},
		{"match after done", "data: [DONE]\ndata: {\"error\":\"rate limit\"}\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectRateLimit(tt.chunk))
		})
	}
}

func TestDetectRateLimitJSON(t *testing.T) {
	assert.True(t, DetectRateLimitJSON([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`)))
	assert.False(t, DetectRateLimitJSON([]byte(`{"type":"message","content":[{"type":"text","text":"rate limit"}]}`)))
	assert.False(t, DetectRateLimitJSON([]byte(`rate limit`)))
}
