package redact_test

import (
	"testing"

	"github.com/bdobrica/Kioku/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secrets []string
		want    string
	}{
		{
			name:    "bot token in url",
			in:      `Post "https://api.telegram.org/bot123456:ABCdef/getUpdates": timeout`,
			secrets: []string{"123456:ABCdef"},
			want:    `Post "https://api.telegram.org/bot[REDACTED]/getUpdates": timeout`,
		},
		{
			name:    "several secrets",
			in:      "key=sk-live-1 token=syt_abc",
			secrets: []string{"sk-live-1", "syt_abc"},
			want:    "key=[REDACTED] token=[REDACTED]",
		},
		{
			name:    "short secret ignored",
			in:      "abc token",
			secrets: []string{"abc"},
			want:    "abc token",
		},
		{
			name: "no secrets",
			in:   "plain",
			want: "plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.String(tt.in, tt.secrets...); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMap(t *testing.T) {
	m := map[string]any{
		"backend_model":   "qwen2.5",
		"backend_api_key": "sk-123",
		"matrix_token":    "syt_abc",
		"empty_secret":    "",
		"recent_limit":    40,
	}
	out := redact.Map(m)

	if out["backend_model"] != "qwen2.5" {
		t.Errorf("backend_model: got %v", out["backend_model"])
	}
	if out["backend_api_key"] != redact.Placeholder || out["matrix_token"] != redact.Placeholder {
		t.Errorf("secrets not redacted: %v", out)
	}
	if out["empty_secret"] != "" {
		t.Errorf("empty secret should stay empty, got %v", out["empty_secret"])
	}
	if out["recent_limit"] != 40 {
		t.Errorf("recent_limit: got %v", out["recent_limit"])
	}
	if m["backend_api_key"] != "sk-123" {
		t.Error("Map mutated its input")
	}
}
