// Package humor decides whether a reply may carry a light joke.
//
// The decision is a pure rule over the incoming text and the time of the
// last joke, followed by a biased coin flip. Randomness and the clock are
// injectable so the rule can be tested deterministically.
package humor

import (
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"
)

// Default gate parameters.
const (
	DefaultRate      = 0.2
	DefaultMinGap    = 180 * time.Second
	DefaultMinLength = 6
	DefaultMaxLength = 600
)

// Mode selects which gate parameters apply to a turn.
type Mode string

const (
	// ModeAmbient applies to ordinary messages.
	ModeAmbient Mode = "ambient"
	// ModeDirect applies when the user replies to one of the bot's messages.
	ModeDirect Mode = "direct"
)

// Config holds the parameters of a single gate.
type Config struct {
	Rate          float64
	MinGap        time.Duration
	MinLength     int
	MaxLength     int
	BlockKeywords []string
}

// DefaultConfig returns the base gate parameters.
func DefaultConfig() Config {
	return Config{
		Rate:      DefaultRate,
		MinGap:    DefaultMinGap,
		MinLength: DefaultMinLength,
		MaxLength: DefaultMaxLength,
	}
}

// AmbientConfig returns the parameters used for ordinary messages.
func AmbientConfig() Config {
	c := DefaultConfig()
	c.Rate = 0.15
	c.MinGap = 30 * time.Minute
	return c
}

// DirectConfig returns the parameters used for replies to the bot.
func DirectConfig() Config {
	c := DefaultConfig()
	c.Rate = 0.5
	c.MinGap = 60 * time.Second
	return c
}

// Rand is the source of the final coin flip. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Gate applies Config to individual messages. Safe for concurrent use as
// long as the injected Rand is.
type Gate struct {
	cfg      Config
	keywords []string

	// Rand and Now are exposed for tests; New sets production values.
	Rand Rand
	Now  func() time.Time
}

// New returns a Gate for cfg using the process-wide random source and the
// wall clock.
func New(cfg Config) *Gate {
	kw := make([]string, 0, len(cfg.BlockKeywords))
	for _, k := range cfg.BlockKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Gate{
		cfg:      cfg,
		keywords: kw,
		Rand:     globalRand{},
		Now:      time.Now,
	}
}

// Config returns the gate parameters.
func (g *Gate) Config() Config {
	return g.cfg
}

// ShouldAddHumor reports whether the reply to text may include humor.
// A zero lastHumor means no joke has been made yet.
func (g *Gate) ShouldAddHumor(text string, lastHumor time.Time) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}

	n := utf8.RuneCountInString(t)
	if n < g.cfg.MinLength || n > g.cfg.MaxLength {
		return false
	}

	for _, k := range g.keywords {
		if strings.Contains(t, k) {
			return false
		}
	}

	if !lastHumor.IsZero() && g.Now().Sub(lastHumor) < g.cfg.MinGap {
		return false
	}

	return g.Rand.Float64() < g.cfg.Rate
}
