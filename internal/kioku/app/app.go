// Package app wires configuration, storage, the backend, the engine and one
// transport into a running Kioku process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/engine"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/maintenance"
	"github.com/bdobrica/Kioku/internal/kioku/matrix"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
	"github.com/bdobrica/Kioku/internal/kioku/telegram"
)

// TooLongReply is sent back when a message exceeds the input limit.
const TooLongReply = "That message is too long for me, could you shorten it?"

// App is a running Kioku instance.
type App struct {
	cfg       config.Config
	store     *store.Store
	engine    *engine.Engine
	transport engine.Transport
	health    *HealthServer
	logger    *slog.Logger
}

// New opens the database and builds every component. Nothing runs until
// Run is called.
func New(cfg config.Config) (*App, error) {
	logger := slog.Default()

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	provider, err := llm.New(cfg.Backend)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: backend: %w", err)
	}

	transport, err := newTransport(cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		store:     st,
		transport: transport,
		logger:    logger,
	}
	a.engine = buildEngine(cfg, st, provider, logger)

	if cfg.HTTPAddr != "" {
		a.health = NewHealthServer(cfg.HTTPAddr, a, settings(cfg))
	}
	return a, nil
}

func buildEngine(cfg config.Config, st *store.Store, p llm.Provider, logger *slog.Logger) *engine.Engine {
	mc := maintenance.Config{
		KeepMessagesDays:  cfg.Maintenance.KeepMessagesDays,
		KeepSummariesDays: cfg.Maintenance.KeepSummariesDays,
		VacuumWeekday:     cfg.Maintenance.VacuumWeekday,
		MinMessages:       cfg.Maintenance.MinMessages,
		Summarizer:        store.HeuristicSummarizer,
	}
	if cfg.Maintenance.Summarizer == config.SummarizerBackend {
		mc.Summarizer = memory.BackendSummarizer(p, logger)
	}

	ec := cfg.Engine
	if ec.Backend == "" {
		ec.Backend = string(cfg.Backend.Kind)
	}

	return engine.New(ec, st,
		maintenance.New(st, mc, logger),
		memory.NewAssembler(st, cfg.Context),
		p, session.NewRegistry(), logger)
}

func newTransport(cfg config.Config, st *store.Store, logger *slog.Logger) (engine.Transport, error) {
	switch cfg.Transport {
	case config.TransportMatrix:
		t, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
		}, st, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return t, nil
	case config.TransportTelegram:
		t, err := telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			Workers: cfg.Telegram.Workers,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("app: unknown transport %q", cfg.Transport)
	}
}

// Run starts the transport and the optional HTTP server, then blocks until
// SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.logger.Info("app: starting transport", "transport", a.cfg.Transport)
	if err := a.transport.Start(ctx, a.handle); err != nil {
		return fmt.Errorf("app: start transport: %w", err)
	}

	a.logger.Info("Kioku is running; press Ctrl+C to stop")
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop stops the transport and the HTTP server and closes the database.
func (a *App) Stop() {
	a.logger.Info("app: stopping transport")
	a.transport.Stop()

	if a.health != nil {
		a.health.Stop()
	}

	a.logger.Info("app: closing database")
	if err := a.store.Close(); err != nil {
		a.logger.Warn("app: close store", "err", err)
	}
}

// ChatCount implements statusProvider.
func (a *App) ChatCount(ctx context.Context) (int, error) {
	return a.store.ChatCount(ctx)
}

// ActiveChats implements statusProvider.
func (a *App) ActiveChats() int {
	return a.engine.Sessions().Len()
}

// handle is the transport Handler: one engine turn and the reply. The
// engine logs its own failures.
func (a *App) handle(ctx context.Context, msg engine.InboundMessage) {
	ctx, _ = trace.Ensure(ctx)
	reply, err := a.engine.HandleMessage(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrMessageTooLong):
		reply = TooLongReply
	default:
		return
	}

	if err := a.transport.Send(ctx, msg.ChatID, reply); err != nil {
		observability.FromContext(ctx, a.logger).Error("app: send reply", "chat_id", msg.ChatID, "err", err)
	}
}

// settings is the non-secret view of cfg served by /status. Credential
// fields are included so redact.Map can mask them.
func settings(cfg config.Config) map[string]any {
	return map[string]any{
		"database_path":        cfg.DatabasePath,
		"transport":            cfg.Transport,
		"backend":              string(cfg.Backend.Kind),
		"backend_url":          cfg.Backend.BaseURL,
		"backend_model":        cfg.Backend.Model,
		"backend_api_key":      cfg.Backend.APIKey,
		"telegram_token":       cfg.Telegram.Token,
		"matrix_user_id":       cfg.Matrix.UserID,
		"matrix_access_token":  cfg.Matrix.AccessToken,
		"recent_limit":         cfg.Context.RecentLimit,
		"summary_days":         cfg.Context.SummaryDays,
		"keep_msgs_days":       cfg.Maintenance.KeepMessagesDays,
		"keep_sum_days":        cfg.Maintenance.KeepSummariesDays,
		"vacuum_weekday":       cfg.Maintenance.VacuumWeekday.String(),
		"summary_min_messages": cfg.Maintenance.MinMessages,
		"summarizer":           cfg.Maintenance.Summarizer,
		"max_input_chars":      cfg.Engine.MaxInputChars,
		"humor_daily_cap":      cfg.Engine.DailyJokeCap,
	}
}
