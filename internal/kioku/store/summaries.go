package store

import (
	"context"
	"fmt"
	"time"
)

// Summary is the compressed record of one chat's traffic on one UTC day.
type Summary struct {
	ChatID    string
	Day       time.Time // UTC midnight
	Text      string
	CreatedAt time.Time
}

// UpsertSummary stores the summary for (chatID, day), replacing any earlier
// one.
func (s *Store) UpsertSummary(ctx context.Context, chatID string, day time.Time, text string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO summaries (chat_id, day, summary, ts)
		VALUES (?, ?, ?, ?)`,
		chatID, FormatDay(day), text, toUnix(s.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: upsert summary %s/%s: %w", chatID, FormatDay(day), err)
	}
	return nil
}

// Summaries returns the chat's summaries with day >= today-days, ascending
// by day.
func (s *Store) Summaries(ctx context.Context, chatID string, days int) ([]Summary, error) {
	cutoff := FormatDay(s.Today().AddDate(0, 0, -days))

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, day, summary, ts
		FROM summaries
		WHERE chat_id = ? AND day >= ?
		ORDER BY day ASC`,
		chatID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum Summary
			day string
			ts  float64
		)
		if err := rows.Scan(&sum.ChatID, &day, &sum.Text, &ts); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		d, err := time.ParseInLocation(time.DateOnly, day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("store: parse summary day %q: %w", day, err)
		}
		sum.Day = d
		sum.CreatedAt = fromUnix(ts)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate summaries: %w", err)
	}
	return out, nil
}

// PruneSummaries deletes summaries whose day is older than keepDays before
// today. keepDays <= 0 disables pruning.
func (s *Store) PruneSummaries(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := FormatDay(s.Today().AddDate(0, 0, -keepDays))

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE day < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune summaries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune summaries: rows affected: %w", err)
	}
	return n, nil
}
