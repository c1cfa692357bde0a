package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMinMessages is the smallest day worth summarising.
const DefaultMinMessages = 12

const (
	heuristicWindow    = 8
	heuristicMaxTopics = 12
	heuristicLineChars = 120
	topicMinChars      = 3
	topicMaxChars      = 16
	topicTrimSet       = ".,:;!?()[]{}\"'"
)

// Summarizer compresses an ordered slice of messages into summary text.
// Any function with this signature can be plugged into SummarizeDay.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

// SummarizeDay summarises the chat's messages for day and stores the result.
// Days with fewer than minMessages messages are skipped: ok is false and
// nothing is written. minMessages <= 0 selects DefaultMinMessages.
func (s *Store) SummarizeDay(ctx context.Context, chatID string, day time.Time, summarize Summarizer, minMessages int) (summary string, ok bool, err error) {
	if minMessages <= 0 {
		minMessages = DefaultMinMessages
	}

	msgs, err := s.MessagesForDay(ctx, chatID, day)
	if err != nil {
		return "", false, err
	}
	if len(msgs) < minMessages {
		slog.Debug("store: day below summary threshold",
			"chat_id", chatID,
			"day", FormatDay(day),
			"messages", len(msgs),
			"min", minMessages,
		)
		return "", false, nil
	}

	summary, err = summarize(ctx, msgs)
	if err != nil {
		return "", false, fmt.Errorf("store: summarize %s/%s: %w", chatID, FormatDay(day), err)
	}
	if summary == "" {
		return "", false, nil
	}
	if err := s.UpsertSummary(ctx, chatID, day, summary); err != nil {
		return "", false, err
	}
	return summary, true, nil
}

// HeuristicSummarizer is the Summarizer form of HeuristicSummary.
func HeuristicSummarizer(_ context.Context, msgs []Message) (string, error) {
	return HeuristicSummary(msgs), nil
}

// HeuristicSummary builds a cheap deterministic summary without calling a
// backend: a "topics:" line of up to 12 sorted distinct terms taken from
// the last 8 messages, followed by one "U:"/"A:" line per message cut to
// 120 characters.
func HeuristicSummary(msgs []Message) string {
	recent := msgs
	if len(recent) > heuristicWindow {
		recent = recent[len(recent)-heuristicWindow:]
	}

	seen := make(map[string]struct{})
	var terms []string
	for _, m := range recent {
		for _, tok := range strings.Fields(m.Text) {
			tok = strings.ToLower(strings.Trim(tok, topicTrimSet))
			n := utf8.RuneCountInString(tok)
			if n < topicMinChars || n > topicMaxChars {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			terms = append(terms, tok)
		}
	}
	sort.Strings(terms)
	if len(terms) > heuristicMaxTopics {
		terms = terms[:heuristicMaxTopics]
	}

	lines := make([]string, 0, len(recent)+1)
	if len(terms) > 0 {
		lines = append(lines, "topics: "+strings.Join(terms, ", "))
	}
	for _, m := range recent {
		prefix := "A"
		if m.Role == RoleUser {
			prefix = "U"
		}
		lines = append(lines, prefix+": "+truncateRunes(m.Text, heuristicLineChars))
	}
	return strings.Join(lines, "\n")
}

// truncateRunes returns at most n characters of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
