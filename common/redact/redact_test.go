package redact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bdobrica/ghostai/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		sensitive []string
		want      string
	}{
		{
			name:      "api key in payload",
			input:     `{"error":"invalid key sk-or-v1-abcdef"}`,
			sensitive: []string{"sk-or-v1-abcdef"},
			want:      `{"error":"invalid key [REDACTED]"}`,
		},
		{
			name:      "short values ignored",
			input:     "abc abc",
			sensitive: []string{"abc"},
			want:      "abc abc",
		},
		{
			name:      "nothing to redact",
			input:     "all clear",
			sensitive: nil,
			want:      "all clear",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redact.String(tt.input, tt.sensitive...))
		})
	}
}

func TestPayload_TruncatesByRunes(t *testing.T) {
	assert.Equal(t, "при…", redact.Payload("привет", 3))
	assert.Equal(t, "short", redact.Payload("short", 10))
	assert.Equal(t, "[REDACTED] x", redact.Payload("secret-key x", 0, "secret-key"))
}
