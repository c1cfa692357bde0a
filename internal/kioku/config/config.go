// Package config assembles Kioku's runtime configuration from defaults,
// environment variables and an optional YAML tuning file.
//
// Precedence, lowest first: built-in defaults, environment, tuning file.
// Process settings (paths, credentials, transport) are environment-only.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bdobrica/Kioku/common/environment"
	"github.com/bdobrica/Kioku/internal/kioku/engine"
	"github.com/bdobrica/Kioku/internal/kioku/humor"
	"github.com/bdobrica/Kioku/internal/kioku/llm"
	"github.com/bdobrica/Kioku/internal/kioku/maintenance"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Transport names.
const (
	TransportTelegram = "telegram"
	TransportMatrix   = "matrix"
)

// Summarizer names.
const (
	SummarizerHeuristic = "heuristic"
	SummarizerBackend   = "backend"
)

const defaultTelegramWorkers = 4

// Maintenance mirrors maintenance.Config with the summarizer chosen by name.
type Maintenance struct {
	KeepMessagesDays  int
	KeepSummariesDays int
	VacuumWeekday     time.Weekday
	MinMessages       int
	Summarizer        string
}

// Telegram holds the bot credentials and worker pool size.
type Telegram struct {
	Token   string
	Workers int
}

// Matrix holds the homeserver login and the rooms to serve.
type Matrix struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string
}

// Config is the complete runtime configuration.
type Config struct {
	DatabasePath string
	Transport    string
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	ConfigFile   string

	Backend     llm.Config
	Context     memory.ContextConfig
	Maintenance Maintenance
	Engine      engine.Config

	Telegram Telegram
	Matrix   Matrix
}

// Default returns the built-in configuration.
func Default() Config {
	mc := maintenance.DefaultConfig()
	return Config{
		DatabasePath: "./kioku.db",
		Transport:    TransportTelegram,
		LogLevel:     "info",
		LogFormat:    "text",
		Backend:      llm.Config{Kind: llm.KindOpenAI},
		Context:      memory.DefaultContextConfig(),
		Maintenance: Maintenance{
			KeepMessagesDays:  mc.KeepMessagesDays,
			KeepSummariesDays: mc.KeepSummariesDays,
			VacuumWeekday:     mc.VacuumWeekday,
			MinMessages:       store.DefaultMinMessages,
			Summarizer:        SummarizerHeuristic,
		},
		Engine:   engine.DefaultConfig(),
		Telegram: Telegram{Workers: defaultTelegramWorkers},
	}
}

// Load builds the configuration from the environment and, when
// KIOKU_CONFIG_FILE is set, the tuning file it names. The result is
// validated.
func Load() (Config, error) {
	cfg := Default()
	applyEnv(&cfg)

	if cfg.ConfigFile != "" {
		data, err := os.ReadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", cfg.ConfigFile, err)
		}
		if err := ApplyFile(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", cfg.ConfigFile, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DatabasePath = environment.StringOr("KIOKU_DATABASE_PATH", cfg.DatabasePath)
	cfg.Transport = strings.ToLower(environment.StringOr("KIOKU_TRANSPORT", cfg.Transport))
	cfg.HTTPAddr = environment.StringOr("KIOKU_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = environment.StringOr("KIOKU_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = environment.StringOr("KIOKU_LOG_FORMAT", cfg.LogFormat)
	cfg.ConfigFile = environment.StringOr("KIOKU_CONFIG_FILE", cfg.ConfigFile)

	cfg.Backend.Kind = llm.Kind(strings.ToLower(environment.StringOr("KIOKU_BACKEND", string(cfg.Backend.Kind))))
	cfg.Backend.BaseURL = environment.StringOr("KIOKU_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Model = environment.StringOr("KIOKU_BACKEND_MODEL", cfg.Backend.Model)
	cfg.Backend.APIKey = environment.StringOr("KIOKU_BACKEND_API_KEY", cfg.Backend.APIKey)
	cfg.Backend.Timeout = environment.DurationOr("KIOKU_BACKEND_TIMEOUT", cfg.Backend.Timeout)
	cfg.Backend.MaxTokens = environment.IntOr("KIOKU_BACKEND_MAX_TOKENS", cfg.Backend.MaxTokens)

	cfg.Context.RecentLimit = environment.IntOr("KIOKU_RECENT_LIMIT", cfg.Context.RecentLimit)
	cfg.Context.SummaryDays = environment.IntOr("KIOKU_SUMMARY_DAYS", cfg.Context.SummaryDays)
	cfg.Context.MaxSummaryChars = environment.IntOr("KIOKU_MAX_SUMMARY_CHARS", cfg.Context.MaxSummaryChars)
	cfg.Context.SystemPrompt = environment.StringOr("KIOKU_SYSTEM_PROMPT", cfg.Context.SystemPrompt)

	m := &cfg.Maintenance
	m.KeepMessagesDays = environment.IntOr("KIOKU_KEEP_MESSAGES_DAYS", m.KeepMessagesDays)
	m.KeepSummariesDays = environment.IntOr("KIOKU_KEEP_SUMMARIES_DAYS", m.KeepSummariesDays)
	if d, ok := maintenance.ParseWeekday(os.Getenv("KIOKU_VACUUM_WEEKDAY")); ok {
		m.VacuumWeekday = d
	}
	m.MinMessages = environment.IntOr("KIOKU_SUMMARY_MIN_MESSAGES", m.MinMessages)
	m.Summarizer = strings.ToLower(environment.StringOr("KIOKU_SUMMARIZER", m.Summarizer))

	cfg.Engine.MaxInputChars = environment.IntOr("KIOKU_MAX_INPUT_CHARS", cfg.Engine.MaxInputChars)
	cfg.Engine.DailyJokeCap = environment.IntOr("KIOKU_HUMOR_DAILY_CAP", cfg.Engine.DailyJokeCap)
	humorEnv("KIOKU_HUMOR_AMBIENT_", &cfg.Engine.Ambient)
	humorEnv("KIOKU_HUMOR_DIRECT_", &cfg.Engine.Direct)

	cfg.Telegram.Token = environment.StringOr("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.Workers = environment.IntOr("TELEGRAM_WORKERS", cfg.Telegram.Workers)

	cfg.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", cfg.Matrix.UserID)
	cfg.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", cfg.Matrix.AccessToken)
	cfg.Matrix.Rooms = environment.StringSliceOr("MATRIX_ROOMS", cfg.Matrix.Rooms)
}

func humorEnv(prefix string, h *humor.Config) {
	h.Rate = environment.Float64Or(prefix+"RATE", h.Rate)
	h.MinGap = environment.DurationOr(prefix+"MIN_GAP", h.MinGap)
	h.MinLength = environment.IntOr(prefix+"MIN_LENGTH", h.MinLength)
	h.MaxLength = environment.IntOr(prefix+"MAX_LENGTH", h.MaxLength)
	h.BlockKeywords = environment.StringSliceOr(prefix+"BLOCK_KEYWORDS", h.BlockKeywords)
}

// Validate checks cross-field constraints the tuning file schema cannot
// express, plus the environment-only settings.
func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportTelegram:
		if c.Telegram.Token == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required for the telegram transport"))
		}
		if c.Telegram.Workers <= 0 {
			errs = append(errs, fmt.Errorf("TELEGRAM_WORKERS must be positive, got %d", c.Telegram.Workers))
		}
	case TransportMatrix:
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			errs = append(errs, errors.New("MATRIX_HOMESERVER, MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required for the matrix transport"))
		}
		if len(c.Matrix.Rooms) == 0 {
			errs = append(errs, errors.New("MATRIX_ROOMS is required for the matrix transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportTelegram, TransportMatrix))
	}

	switch c.Backend.Kind {
	case llm.KindOpenAI, llm.KindOllama, "":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend.Kind))
	}

	switch c.Maintenance.Summarizer {
	case SummarizerHeuristic, SummarizerBackend:
	default:
		errs = append(errs, fmt.Errorf("unknown summarizer %q", c.Maintenance.Summarizer))
	}

	for name, h := range map[string]humor.Config{"ambient": c.Engine.Ambient, "direct": c.Engine.Direct} {
		if h.Rate < 0 || h.Rate > 1 {
			errs = append(errs, fmt.Errorf("humor.%s.rate must be within [0, 1], got %v", name, h.Rate))
		}
		if h.MinLength > h.MaxLength {
			errs = append(errs, fmt.Errorf("humor.%s.min_length %d exceeds max_length %d", name, h.MinLength, h.MaxLength))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
