package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kioku/internal/kioku/humor"
	"github.com/bdobrica/Kioku/internal/kioku/maintenance"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "kioku://config/schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// humorFile is one humor mode in the tuning file. Nil fields keep the
// current value.
type humorFile struct {
	Rate          *float64       `yaml:"rate"`
	MinGap        *time.Duration `yaml:"min_gap"`
	MinLength     *int           `yaml:"min_length"`
	MaxLength     *int           `yaml:"max_length"`
	BlockKeywords []string       `yaml:"block_keywords"`
}

type fileConfig struct {
	RecentLimit        *int    `yaml:"recent_limit"`
	SummaryDays        *int    `yaml:"summary_days"`
	MaxSummaryChars    *int    `yaml:"max_summary_chars"`
	SystemPrompt       *string `yaml:"system_prompt"`
	KeepMsgsDays       *int    `yaml:"keep_msgs_days"`
	KeepSumDays        *int    `yaml:"keep_sum_days"`
	VacuumWeekday      *string `yaml:"vacuum_weekday"`
	SummaryMinMessages *int    `yaml:"summary_min_messages"`
	Summarizer         *string `yaml:"summarizer"`
	MaxInputChars      *int    `yaml:"max_input_chars"`

	Humor struct {
		Ambient  humorFile `yaml:"ambient"`
		Direct   humorFile `yaml:"direct"`
		DailyCap *int      `yaml:"daily_cap"`
	} `yaml:"humor"`
}

// ValidateFile checks a YAML tuning document against the embedded schema.
func ValidateFile(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}

	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert yaml: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("convert yaml: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid tuning file: %w", err)
	}
	return nil
}

// ApplyFile validates a YAML tuning document and overlays it on cfg.
func ApplyFile(cfg *Config, data []byte) error {
	if err := ValidateFile(data); err != nil {
		return err
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}

	setInt(&cfg.Context.RecentLimit, f.RecentLimit)
	setInt(&cfg.Context.SummaryDays, f.SummaryDays)
	setInt(&cfg.Context.MaxSummaryChars, f.MaxSummaryChars)
	if f.SystemPrompt != nil {
		cfg.Context.SystemPrompt = *f.SystemPrompt
	}

	setInt(&cfg.Maintenance.KeepMessagesDays, f.KeepMsgsDays)
	setInt(&cfg.Maintenance.KeepSummariesDays, f.KeepSumDays)
	setInt(&cfg.Maintenance.MinMessages, f.SummaryMinMessages)
	if f.VacuumWeekday != nil {
		d, ok := maintenance.ParseWeekday(*f.VacuumWeekday)
		if !ok {
			return fmt.Errorf("vacuum_weekday: unknown weekday %q", *f.VacuumWeekday)
		}
		cfg.Maintenance.VacuumWeekday = d
	}
	if f.Summarizer != nil {
		cfg.Maintenance.Summarizer = *f.Summarizer
	}

	setInt(&cfg.Engine.MaxInputChars, f.MaxInputChars)
	setInt(&cfg.Engine.DailyJokeCap, f.Humor.DailyCap)
	f.Humor.Ambient.apply(&cfg.Engine.Ambient)
	f.Humor.Direct.apply(&cfg.Engine.Direct)
	return nil
}

func (h humorFile) apply(c *humor.Config) {
	if h.Rate != nil {
		c.Rate = *h.Rate
	}
	if h.MinGap != nil {
		c.MinGap = *h.MinGap
	}
	setInt(&c.MinLength, h.MinLength)
	setInt(&c.MaxLength, h.MaxLength)
	if h.BlockKeywords != nil {
		c.BlockKeywords = h.BlockKeywords
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
