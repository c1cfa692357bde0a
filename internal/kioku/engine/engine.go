// Package engine runs a single conversational turn: maintenance, memory,
// context assembly, the humor decision and the backend call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/humor"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/maintenance"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Input-policy rejections. Nothing is stored for these.
var (
	ErrEmptyMessage   = errors.New("engine: empty message")
	ErrMessageTooLong = errors.New("engine: message too long")
)

// ErrNoReply wraps backend failures. The user message stays stored; no
// assistant message is written.
var ErrNoReply = errors.New("engine: no reply")

const (
	DefaultMaxInputChars = 4000
	DefaultDailyJokeCap  = 4

	assistantSuffix = ":assistant"

	humorHint = "You may add one short, light-hearted remark if it fits naturally. " +
		"Keep the answer itself accurate and do not force it."
)

// Config tunes the engine.
type Config struct {
	MaxInputChars int
	Ambient       humor.Config
	Direct        humor.Config
	// DailyJokeCap limits ambient-mode humor per chat per day. Zero or
	// negative disables the cap.
	DailyJokeCap int
	// Backend names the generation backend in metrics.
	Backend string
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxInputChars: DefaultMaxInputChars,
		Ambient:       humor.AmbientConfig(),
		Direct:        humor.DirectConfig(),
		DailyJokeCap:  DefaultDailyJokeCap,
	}
}

// Store is the persistence the engine needs.
type Store interface {
	memory.History
	AddMessage(ctx context.Context, m store.Message) error
	Now() time.Time
}

// Ticker runs per-chat maintenance.
type Ticker interface {
	Tick(ctx context.Context, chatID string, st *session.State) maintenance.Report
}

// Engine handles inbound messages. It is safe for concurrent use; turns for
// the same chat are serialized.
type Engine struct {
	cfg       Config
	store     Store
	scheduler Ticker
	assembler *memory.Assembler
	provider  llm.Provider
	sessions  *session.Registry
	ambient   *humor.Gate
	direct    *humor.Gate
	logger    *slog.Logger

	retry retry.Config
}

// New wires an Engine. sessions may be nil, in which case a fresh registry
// is used.
func New(cfg Config, st Store, sched Ticker, asm *memory.Assembler, p llm.Provider, sessions *session.Registry, logger *slog.Logger) *Engine {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ambient, direct := humor.New(cfg.Ambient), humor.New(cfg.Direct)
	ambient.Now, direct.Now = st.Now, st.Now

	return &Engine{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		assembler: asm,
		provider:  p,
		sessions:  sessions,
		ambient:   ambient,
		direct:    direct,
		logger:    logger,
		retry:     retry.Once,
	}
}

// Sessions returns the engine's session registry.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// HandleMessage runs one turn for msg and returns the reply text.
func (e *Engine) HandleMessage(ctx context.Context, msg InboundMessage) (string, error) {
	ctx, _ = trace.Ensure(ctx)
	log := observability.FromContext(ctx, e.logger).With("chat_id", msg.ChatID, "msg_id", msg.MessageID)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		metrics.TurnHandled("rejected")
		return "", ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > e.cfg.MaxInputChars {
		metrics.TurnHandled("rejected")
		log.Info("engine: message rejected", "chars", n, "max", e.cfg.MaxInputChars)
		return "", ErrMessageTooLong
	}

	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.store.Now()
	}

	var reply string
	err := e.sessions.With(msg.ChatID, func(st *session.State) error {
		var err error
		reply, err = e.turn(ctx, log, msg, text, st)
		return err
	})
	metrics.SetActiveChats(e.sessions.Len())

	switch {
	case err == nil:
		metrics.TurnHandled("replied")
	case errors.Is(err, ErrNoReply):
		metrics.TurnHandled("no_reply")
		log.Warn("engine: backend produced no reply", "err", err)
	default:
		metrics.TurnHandled("error")
		log.Error("engine: turn failed", "err", err)
	}
	return reply, err
}

// turn runs with the chat's session lock held.
func (e *Engine) turn(ctx context.Context, log *slog.Logger, msg InboundMessage, text string, st *session.State) (string, error) {
	e.scheduler.Tick(ctx, msg.ChatID, st)

	// Built before the user message is stored so the current turn appears
	// once, at the end.
	msgs, err := e.assembler.Build(ctx, msg.ChatID, text)
	if err != nil {
		return "", fmt.Errorf("engine: build context: %w", err)
	}

	e.save(ctx, log, store.Message{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Role:      store.RoleUser,
		Text:      text,
		Timestamp: msg.Timestamp,
	})

	mode, joke := e.decideHumor(text, msg.ReplyToBot, st)
	system := msgs[0].Content
	if joke {
		system += "\n\n" + humorHint
	}

	start := time.Now()
	reply, err := e.provider.Generate(ctx, system, msgs[1:])
	metrics.ObserveBackendCall(e.cfg.Backend, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoReply, err)
	}

	if joke {
		st.LastHumor = e.store.Now()
		if mode == humor.ModeAmbient {
			st.JokesToday++
		}
	}

	e.save(ctx, log, store.Message{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID + assistantSuffix,
		Role:      store.RoleAssistant,
		Text:      reply,
		Timestamp: e.store.Now(),
	})

	e.scheduler.Tick(ctx, msg.ChatID, st)

	log.Info("engine: turn complete",
		"in_chars", utf8.RuneCountInString(text),
		"out_chars", utf8.RuneCountInString(reply),
		"context", len(msgs),
		"humor", joke,
		"humor_mode", string(mode),
	)
	return reply, nil
}

// decideHumor picks the gate for the turn and applies the daily cap.
func (e *Engine) decideHumor(text string, replyToBot bool, st *session.State) (humor.Mode, bool) {
	if replyToBot {
		ok := e.direct.ShouldAddHumor(text, st.LastHumor)
		metrics.HumorDecision(string(humor.ModeDirect), ok)
		return humor.ModeDirect, ok
	}

	st.ResetJokesIfNewDay(store.DayOf(e.store.Now()))
	if e.cfg.DailyJokeCap > 0 && st.JokesToday >= e.cfg.DailyJokeCap {
		metrics.HumorDecision(string(humor.ModeAmbient), false)
		return humor.ModeAmbient, false
	}
	ok := e.ambient.ShouldAddHumor(text, st.LastHumor)
	metrics.HumorDecision(string(humor.ModeAmbient), ok)
	return humor.ModeAmbient, ok
}

// save persists m with one retry. A final failure is logged and counted but
// does not end the turn.
func (e *Engine) save(ctx context.Context, log *slog.Logger, m store.Message) {
	err := retry.Do(ctx, e.retry, func() error {
		return e.store.AddMessage(ctx, m)
	})
	if err != nil {
		metrics.StoreError("add_message")
		log.Error("engine: message not stored",
			"role", m.Role,
			"stored_id", m.MessageID,
			"err", err,
		)
		return
	}
	metrics.MessageStored(m.Role)
}
