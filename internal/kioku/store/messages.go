package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn in a chat. (ChatID, MessageID) is unique; adding the
// same pair again replaces the earlier row.
type Message struct {
	ChatID    string
	MessageID string
	Role      string
	Text      string
	Timestamp time.Time // UTC
}

// DayOf returns UTC midnight of the calendar day containing t.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as YYYY-MM-DD, the key used in the summaries table.
func FormatDay(day time.Time) string {
	return DayOf(day).Format(time.DateOnly)
}

// toUnix converts t to the REAL seconds-since-epoch stored in the ts column.
func toUnix(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// fromUnix is the inverse of toUnix.
func fromUnix(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1e6))).UTC()
}

// AddMessage inserts or replaces a message. A zero timestamp means now.
// Callers are responsible for trimming; text must be non-empty.
func (s *Store) AddMessage(ctx context.Context, m Message) error {
	if m.Text == "" {
		return fmt.Errorf("store: add message %s/%s: empty text", m.ChatID, m.MessageID)
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (chat_id, msg_id, role, text, ts)
		VALUES (?, ?, ?, ?, ?)`,
		m.ChatID, m.MessageID, m.Role, m.Text, toUnix(ts),
	)
	if err != nil {
		return fmt.Errorf("store: add message %s/%s: %w", m.ChatID, m.MessageID, err)
	}
	return nil
}

// RecentMessages returns up to limit of the chat's most recent messages,
// oldest first.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, msg_id, role, text, ts
		FROM messages
		WHERE chat_id = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("store: query recent messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessagesForDay returns every message of the chat whose timestamp falls in
// [day 00:00 UTC, day+1 00:00 UTC), oldest first.
func (s *Store) MessagesForDay(ctx context.Context, chatID string, day time.Time) ([]Message, error) {
	start := DayOf(day)
	end := start.AddDate(0, 0, 1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, msg_id, role, text, ts
		FROM messages
		WHERE chat_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC, rowid ASC`,
		chatID, toUnix(start), toUnix(end),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query messages for %s: %w", FormatDay(start), err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("store: query messages for %s: %w", FormatDay(start), err)
	}
	return msgs, nil
}

// PruneMessages deletes messages older than keepDays before now and returns
// how many rows were removed. keepDays <= 0 disables pruning.
//
// Summaries of pruned days are left alone; they are the surviving record.
func (s *Store) PruneMessages(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := s.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE ts < ?`, toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune messages: rows affected: %w", err)
	}
	return n, nil
}

// MessageCount returns the number of stored messages for a chat.
func (s *Store) MessageCount(ctx context.Context, chatID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// ChatCount returns the number of distinct chats with stored messages.
func (s *Store) ChatCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT chat_id) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count chats: %w", err)
	}
	return n, nil
}

// scanMessages drains rows into a slice and closes them.
func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m  Message
			ts float64
		)
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.Role, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		m.Timestamp = fromUnix(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return msgs, nil
}
