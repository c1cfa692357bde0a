package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// summariserPrompt asks for the facts worth remembering about a day.
const summariserPrompt = "Summarise this chat day in 3-5 short sentences. " +
	"Keep names, decisions, plans and recurring topics. Do not add commentary."

// BackendSummarizer returns a store.Summarizer that asks the generation
// backend for a day summary. When the backend fails or answers with nothing,
// the heuristic summary is used instead so the day is still compressed.
func BackendSummarizer(p llm.Provider, logger *slog.Logger) store.Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, msgs []store.Message) (string, error) {
		if len(msgs) == 0 {
			return "", nil
		}

		text, err := p.Generate(ctx, summariserPrompt, []llm.Message{
			{Role: store.RoleUser, Content: formatTranscript(msgs)},
		})
		if err != nil {
			logger.Warn("memory: backend summary failed, using heuristic",
				"chat_id", msgs[0].ChatID,
				"messages", len(msgs),
				"err", err,
			)
			return store.HeuristicSummary(msgs), nil
		}
		return text, nil
	}
}

// formatTranscript renders messages as "role: text" lines.
func formatTranscript(msgs []store.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Text)
	}
	return b.String()
}
