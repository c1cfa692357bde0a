package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
)

func TestApplyFile_Overlay(t *testing.T) {
	cfg := Default()
	doc := `
recent_limit: 20
system_prompt: "Be terse."
keep_msgs_days: 7
vacuum_weekday: Saturday
summarizer: backend
humor:
  daily_cap: 2
  ambient:
    rate: 0.05
    min_gap: 45m
    block_keywords: [funeral, hospital]
  direct:
    min_length: 2
`
	if err := ApplyFile(&cfg, []byte(doc)); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.Context.RecentLimit != 20 || cfg.Context.SystemPrompt != "Be terse." {
		t.Errorf("context: got %+v", cfg.Context)
	}
	if cfg.Context.SummaryDays != 7 {
		t.Errorf("untouched summary_days changed: %d", cfg.Context.SummaryDays)
	}
	if cfg.Maintenance.KeepMessagesDays != 7 || cfg.Maintenance.VacuumWeekday != time.Saturday {
		t.Errorf("maintenance: got %+v", cfg.Maintenance)
	}
	if cfg.Maintenance.Summarizer != SummarizerBackend {
		t.Errorf("summarizer: got %q", cfg.Maintenance.Summarizer)
	}
	if cfg.Engine.DailyJokeCap != 2 {
		t.Errorf("daily cap: got %d", cfg.Engine.DailyJokeCap)
	}
	a := cfg.Engine.Ambient
	if a.Rate != 0.05 || a.MinGap != 45*time.Minute || len(a.BlockKeywords) != 2 {
		t.Errorf("ambient: got %+v", a)
	}
	if a.MinLength != 6 || a.MaxLength != 600 {
		t.Errorf("ambient length defaults lost: %+v", a)
	}
	if cfg.Engine.Direct.MinLength != 2 || cfg.Engine.Direct.Rate != 0.5 {
		t.Errorf("direct: got %+v", cfg.Engine.Direct)
	}
}

func TestValidateFile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "recnt_limit: 10\n"},
		{name: "rate above one", doc: "humor:\n  ambient:\n    rate: 1.5\n"},
		{name: "negative retention", doc: "keep_msgs_days: -1\n"},
		{name: "bad weekday", doc: "vacuum_weekday: funday\n"},
		{name: "bad summarizer", doc: "summarizer: magic\n"},
		{name: "numeric duration", doc: "humor:\n  direct:\n    min_gap: 60\n"},
		{name: "string limit", doc: "recent_limit: lots\n"},
		{name: "not yaml", doc: "recent_limit: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateFile([]byte(tt.doc)); err == nil {
				t.Errorf("expected validation error for %q", tt.doc)
			}
		})
	}
}

func TestValidateFile_Accepts(t *testing.T) {
	for _, doc := range []string{
		"",
		"vacuum_weekday: sun\n",
		"humor:\n  direct:\n    min_gap: 1m30s\n",
		"keep_sum_days: 0\n",
	} {
		if err := ValidateFile([]byte(doc)); err != nil {
			t.Errorf("ValidateFile(%q): %v", doc, err)
		}
	}
}

func TestLoad_EnvThenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.yaml")
	if err := os.WriteFile(path, []byte("recent_limit: 12\n"), 0o600); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}

	t.Setenv("KIOKU_TRANSPORT", "Telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("KIOKU_BACKEND", "ollama")
	t.Setenv("KIOKU_RECENT_LIMIT", "30")
	t.Setenv("KIOKU_SUMMARY_DAYS", "3")
	t.Setenv("KIOKU_VACUUM_WEEKDAY", "mon")
	t.Setenv("KIOKU_HUMOR_AMBIENT_RATE", "0.3")
	t.Setenv("KIOKU_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != TransportTelegram || cfg.Backend.Kind != llm.KindOllama {
		t.Errorf("process settings: transport %q backend %q", cfg.Transport, cfg.Backend.Kind)
	}
	if cfg.Context.RecentLimit != 12 {
		t.Errorf("file should override env: recent_limit %d", cfg.Context.RecentLimit)
	}
	if cfg.Context.SummaryDays != 3 {
		t.Errorf("env summary_days: got %d", cfg.Context.SummaryDays)
	}
	if cfg.Maintenance.VacuumWeekday != time.Monday {
		t.Errorf("vacuum weekday: got %v", cfg.Maintenance.VacuumWeekday)
	}
	if cfg.Engine.Ambient.Rate != 0.3 {
		t.Errorf("ambient rate: got %v", cfg.Engine.Ambient.Rate)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid telegram", mutate: func(c *Config) { c.Telegram.Token = "t" }},
		{name: "missing token", mutate: func(*Config) {}, wantErr: "TELEGRAM_BOT_TOKEN"},
		{
			name: "matrix without rooms",
			mutate: func(c *Config) {
				c.Transport = TransportMatrix
				c.Matrix = Matrix{Homeserver: "https://hs", UserID: "@k:hs", AccessToken: "x"}
			},
			wantErr: "MATRIX_ROOMS",
		},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "irc" }, wantErr: "unknown transport"},
		{
			name: "inverted humor lengths",
			mutate: func(c *Config) {
				c.Telegram.Token = "t"
				c.Engine.Direct.MinLength = 900
			},
			wantErr: "humor.direct.min_length",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
