// Package maintenance runs the per-chat housekeeping that keeps the store
// bounded: summarising yesterday, daily retention and the weekly vacuum.
//
// There is no background goroutine. Tick is called from the message path
// with the chat's session lock held, so a quiet chat does no work.
package maintenance

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Default retention settings.
const (
	DefaultKeepMessagesDays  = 14
	DefaultKeepSummariesDays = 60
	DefaultVacuumWeekday     = time.Sunday
)

// Config controls the scheduler. KeepMessagesDays and KeepSummariesDays
// <= 0 disable the matching prune.
type Config struct {
	KeepMessagesDays  int
	KeepSummariesDays int
	VacuumWeekday     time.Weekday
	MinMessages       int
	Summarizer        store.Summarizer
}

// DefaultConfig returns a Config with the documented defaults and the
// heuristic summarizer.
func DefaultConfig() Config {
	return Config{
		KeepMessagesDays:  DefaultKeepMessagesDays,
		KeepSummariesDays: DefaultKeepSummariesDays,
		VacuumWeekday:     DefaultVacuumWeekday,
		MinMessages:       store.DefaultMinMessages,
		Summarizer:        store.HeuristicSummarizer,
	}
}

// ParseWeekday accepts English weekday names or their three-letter
// abbreviations, case-insensitively.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// Store is the subset of *store.Store the scheduler drives.
type Store interface {
	Today() time.Time
	SummarizeDay(ctx context.Context, chatID string, day time.Time, summarize store.Summarizer, minMessages int) (string, bool, error)
	PruneMessages(ctx context.Context, keepDays int) (int64, error)
	PruneSummaries(ctx context.Context, keepDays int) (int64, error)
	Vacuum(ctx context.Context) error
}

// Report describes what a single Tick did.
type Report struct {
	Summarized      bool
	PrunedMessages  int64
	PrunedSummaries int64
	Vacuumed        bool
}

// Scheduler decides which maintenance steps are due for a chat. One
// Scheduler is shared by every chat in the process.
type Scheduler struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	// vacuum is whole-store; only the first chat to reach it each day runs it.
	mu         sync.Mutex
	lastVacuum time.Time
}

// New returns a Scheduler. A nil Summarizer selects the heuristic one and
// MinMessages <= 0 selects store.DefaultMinMessages.
func New(s Store, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Summarizer == nil {
		cfg.Summarizer = store.HeuristicSummarizer
	}
	if cfg.MinMessages <= 0 {
		cfg.MinMessages = store.DefaultMinMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, cfg: cfg, logger: logger}
}

// Tick runs every step that is due for chatID and records progress in st.
// Steps run in a fixed order: summarize yesterday, prune, vacuum.
// Summarizing first keeps yesterday's messages available to the summarizer
// even when retention is shorter than a day.
//
// Failures are logged and counted; the step is still marked done so a
// broken step is retried on the next eligible day rather than every turn.
func (s *Scheduler) Tick(ctx context.Context, chatID string, st *session.State) Report {
	var rep Report
	today := s.store.Today()

	yesterday := today.AddDate(0, 0, -1)
	if !st.LastSummaryDay.Equal(yesterday) {
		st.LastSummaryDay = yesterday
		_, ok, err := s.store.SummarizeDay(ctx, chatID, yesterday, s.cfg.Summarizer, s.cfg.MinMessages)
		metrics.MaintenanceRun("summarize", err)
		if err != nil {
			s.logger.Warn("maintenance: summarize failed",
				"chat_id", chatID,
				"day", store.FormatDay(yesterday),
				"err", err,
			)
		} else if ok {
			rep.Summarized = true
			s.logger.Info("maintenance: day summarized",
				"chat_id", chatID,
				"day", store.FormatDay(yesterday),
			)
		}
	}

	if !st.LastMaintenanceDay.Equal(today) {
		st.LastMaintenanceDay = today

		n, err := s.store.PruneMessages(ctx, s.cfg.KeepMessagesDays)
		metrics.MaintenanceRun("prune_messages", err)
		if err != nil {
			s.logger.Warn("maintenance: prune messages failed", "chat_id", chatID, "err", err)
		}
		rep.PrunedMessages = n

		n, err = s.store.PruneSummaries(ctx, s.cfg.KeepSummariesDays)
		metrics.MaintenanceRun("prune_summaries", err)
		if err != nil {
			s.logger.Warn("maintenance: prune summaries failed", "chat_id", chatID, "err", err)
		}
		rep.PrunedSummaries = n

		if rep.PrunedMessages > 0 || rep.PrunedSummaries > 0 {
			s.logger.Info("maintenance: retention applied",
				"messages", rep.PrunedMessages,
				"summaries", rep.PrunedSummaries,
			)
		}
	}

	if today.Weekday() == s.cfg.VacuumWeekday && !st.LastVacuumDay.Equal(today) {
		st.LastVacuumDay = today
		if s.claimVacuum(today) {
			err := s.store.Vacuum(ctx)
			metrics.MaintenanceRun("vacuum", err)
			if err != nil {
				s.logger.Warn("maintenance: vacuum failed", "err", err)
			} else {
				rep.Vacuumed = true
				s.logger.Info("maintenance: store compacted", "day", store.FormatDay(today))
			}
		}
	}

	return rep
}

// claimVacuum reports whether the caller is the first to vacuum on day.
func (s *Scheduler) claimVacuum(day time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastVacuum.Equal(day) {
		return false
	}
	s.lastVacuum = day
	return true
}
