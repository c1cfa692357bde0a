// Package memory turns stored chat history into the bounded context window
// handed to the generation backend, and provides backend-driven day
// summaries for the store.
package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

const (
	DefaultRecentLimit     = 40
	DefaultSummaryDays     = 7
	DefaultMaxSummaryChars = 2000

	DefaultSystemPrompt = "You are a helpful, direct, slightly sarcastic assistant. " +
		"Do not spam jokes. Answer concisely when possible."

	summaryHeader = "Memory summary:\n"
	ellipsis      = "..."
)

// ContextConfig bounds the assembled context window.
type ContextConfig struct {
	RecentLimit     int    // most recent messages pulled from the store
	SummaryDays     int    // how many days of summaries to include
	MaxSummaryChars int    // hard cap on the summary block
	SystemPrompt    string // leading instructions
}

// DefaultContextConfig returns a ContextConfig with the documented defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		RecentLimit:     DefaultRecentLimit,
		SummaryDays:     DefaultSummaryDays,
		MaxSummaryChars: DefaultMaxSummaryChars,
		SystemPrompt:    DefaultSystemPrompt,
	}
}

// History is the read side of the message store used by the assembler.
type History interface {
	RecentMessages(ctx context.Context, chatID string, limit int) ([]store.Message, error)
	Summaries(ctx context.Context, chatID string, days int) ([]store.Summary, error)
}

// Assembler builds the message list for a single generation call:
//
//	[system (+ memory summary), history oldest→newest, current user turn]
//
// It never writes to the store.
type Assembler struct {
	history History
	cfg     ContextConfig
}

// NewAssembler returns an Assembler. Zero numeric fields in cfg fall back to
// the defaults; an empty SystemPrompt stays empty.
func NewAssembler(h History, cfg ContextConfig) *Assembler {
	def := DefaultContextConfig()
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.SummaryDays <= 0 {
		cfg.SummaryDays = def.SummaryDays
	}
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = def.MaxSummaryChars
	}
	return &Assembler{history: h, cfg: cfg}
}

// Config returns the effective configuration.
func (a *Assembler) Config() ContextConfig {
	return a.cfg
}

// Build assembles the context window for chatID with userText as the
// current turn.
func (a *Assembler) Build(ctx context.Context, chatID, userText string) ([]llm.Message, error) {
	recent, err := a.history.RecentMessages(ctx, chatID, a.cfg.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: load recent messages: %w", err)
	}
	summaries, err := a.history.Summaries(ctx, chatID, a.cfg.SummaryDays)
	if err != nil {
		return nil, fmt.Errorf("memory: load summaries: %w", err)
	}

	msgs := make([]llm.Message, 0, len(recent)+2)
	msgs = append(msgs, llm.Message{
		Role:    store.RoleSystem,
		Content: a.systemMessage(summaries),
	})
	for _, m := range recent {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Text})
	}
	msgs = append(msgs, llm.Message{Role: store.RoleUser, Content: userText})
	return msgs, nil
}

// systemMessage joins the prompt and, when present, the summary block.
func (a *Assembler) systemMessage(summaries []store.Summary) string {
	block := SummaryBlock(summaries, a.cfg.MaxSummaryChars)
	if block == "" {
		return a.cfg.SystemPrompt
	}
	return a.cfg.SystemPrompt + "\n\n" + summaryHeader + block
}

// SummaryBlock renders summaries as "<day>: <summary>" lines and cuts the
// result to maxChars characters, ending in "..." when cut.
func SummaryBlock(summaries []store.Summary, maxChars int) string {
	if len(summaries) == 0 {
		return ""
	}
	lines := make([]string, 0, len(summaries))
	for _, s := range summaries {
		lines = append(lines, store.FormatDay(s.Day)+": "+s.Text)
	}
	return trimText(strings.Join(lines, "\n"), maxChars)
}

// trimText hard-cuts text to maxChars characters including the ellipsis.
func trimText(text string, maxChars int) string {
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	keep := maxChars - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string([]rune(text)[:keep]) + ellipsis
}
