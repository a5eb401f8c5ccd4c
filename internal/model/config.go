package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Limits and defaults for exam shape.
const (
	DefaultTotalQuestions = 20
	MaxTotalQuestions     = 100
)

// PromptVariant selects the wording of generation prompts.
type PromptVariant string

const (
	PromptDefault  PromptVariant = "default"
	PromptGrounded PromptVariant = "grounded"
	PromptConcise  PromptVariant = "concise"
)

// RatioDefaults is the baseline type distribution used for omitted ratios.
type RatioDefaults struct {
	SingleChoice   float64
	MultipleChoice float64
	OpenEnded      float64
}

// DefaultRatios is the baseline 50/30/20 split.
var DefaultRatios = RatioDefaults{SingleChoice: 0.5, MultipleChoice: 0.3, OpenEnded: 0.2}

// GenerationConfig is the requested exam shape. Pointer fields distinguish
// "not given" from zero: any count set means counts drive generation.
type GenerationConfig struct {
	SingleChoiceCount   *int `json:"single_choice_count,omitempty" validate:"omitempty,min=0"`
	MultipleChoiceCount *int `json:"multiple_choice_count,omitempty" validate:"omitempty,min=0"`
	OpenEndedCount      *int `json:"open_ended_count,omitempty" validate:"omitempty,min=0"`

	SingleChoiceRatio   *float64 `json:"single_choice_ratio,omitempty" validate:"omitempty,min=0"`
	MultipleChoiceRatio *float64 `json:"multiple_choice_ratio,omitempty" validate:"omitempty,min=0"`
	OpenEndedRatio      *float64 `json:"open_ended_ratio,omitempty" validate:"omitempty,min=0"`

	TotalQuestions int           `json:"total_questions,omitempty" validate:"omitempty,min=1,max=100"`
	Difficulty     Difficulty    `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard mixed"`
	Language       string        `json:"language,omitempty" validate:"omitempty,oneof=en ru"`
	Seed           *int64        `json:"seed,omitempty"`
	Provider       string        `json:"provider,omitempty" validate:"omitempty,oneof=openai yandex anthropic gemini local"`
	ModelName      string        `json:"model_name,omitempty"`
	PromptVariant  PromptVariant `json:"prompt_variant,omitempty" validate:"omitempty,oneof=default grounded concise"`
	Strict         bool          `json:"strict,omitempty"`
}

// CountsGiven reports whether explicit counts drive generation.
func (c GenerationConfig) CountsGiven() bool {
	return c.SingleChoiceCount != nil || c.MultipleChoiceCount != nil || c.OpenEndedCount != nil
}

// Counts is the per-type question count list.
type Counts struct {
	SingleChoice   int `json:"single_choice" yaml:"single_choice"`
	MultipleChoice int `json:"multiple_choice" yaml:"multiple_choice"`
	OpenEnded      int `json:"open_ended" yaml:"open_ended"`
}

// Total is the sum of all counts.
func (c Counts) Total() int {
	return c.SingleChoice + c.MultipleChoice + c.OpenEnded
}

// Ratios is a fully populated type distribution summing to 1.0.
type Ratios struct {
	SingleChoice   float64 `json:"single_choice" yaml:"single_choice"`
	MultipleChoice float64 `json:"multiple_choice" yaml:"multiple_choice"`
	OpenEnded      float64 `json:"open_ended" yaml:"open_ended"`
}

// Source names which half of the config drove generation.
type Source string

const (
	SourceCounts Source = "counts"
	SourceRatios Source = "ratios"
)

// ResolvedConfig is a GenerationConfig with every field populated. Counts is
// filled by the generator when ratios drive; Ratios is always populated.
type ResolvedConfig struct {
	Source         Source        `json:"source"`
	Counts         Counts        `json:"counts"`
	Ratios         Ratios        `json:"ratios"`
	TotalQuestions int           `json:"total_questions"`
	Difficulty     Difficulty    `json:"difficulty"`
	Language       string        `json:"language"`
	Seed           *int64        `json:"seed,omitempty"`
	Provider       string        `json:"provider"`
	ModelName      string        `json:"model_name,omitempty"`
	PromptVariant  PromptVariant `json:"prompt_variant"`
	Strict         bool          `json:"strict,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Resolve applies defaults and the counts-over-ratios precedence rule.
func (c GenerationConfig) Resolve(defaults RatioDefaults) (ResolvedConfig, error) {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ResolvedConfig{}, fmt.Errorf("invalid config field %s: failed %q", fe.Field(), fe.Tag())
		}
		return ResolvedConfig{}, fmt.Errorf("validate config: %w", err)
	}

	rc := ResolvedConfig{
		Difficulty:    c.Difficulty,
		Language:      c.Language,
		Seed:          c.Seed,
		Provider:      c.Provider,
		ModelName:     c.ModelName,
		PromptVariant: c.PromptVariant,
		Strict:        c.Strict,
	}
	if rc.Difficulty == "" {
		rc.Difficulty = DifficultyMedium
	}
	if rc.Language == "" {
		rc.Language = "en"
	}
	if rc.Provider == "" {
		rc.Provider = "local"
	}
	if rc.PromptVariant == "" {
		rc.PromptVariant = PromptDefault
	}

	if c.CountsGiven() {
		counts := Counts{
			SingleChoice:   deref(c.SingleChoiceCount),
			MultipleChoice: deref(c.MultipleChoiceCount),
			OpenEnded:      deref(c.OpenEndedCount),
		}
		if counts.SingleChoice < 0 || counts.MultipleChoice < 0 || counts.OpenEnded < 0 {
			return ResolvedConfig{}, errors.New("question counts must not be negative")
		}
		total := counts.Total()
		if total == 0 {
			return ResolvedConfig{}, errors.New("at least one count must be positive")
		}
		if total > MaxTotalQuestions {
			return ResolvedConfig{}, fmt.Errorf("total questions %d exceeds limit %d", total, MaxTotalQuestions)
		}
		rc.Source = SourceCounts
		rc.Counts = counts
		rc.TotalQuestions = total
		rc.Ratios = Ratios{
			SingleChoice:   Round(float64(counts.SingleChoice)/float64(total), 4),
			MultipleChoice: Round(float64(counts.MultipleChoice)/float64(total), 4),
			OpenEnded:      Round(float64(counts.OpenEnded)/float64(total), 4),
		}
		return rc, nil
	}

	single := derefOr(c.SingleChoiceRatio, defaults.SingleChoice)
	multiple := derefOr(c.MultipleChoiceRatio, defaults.MultipleChoice)
	open := derefOr(c.OpenEndedRatio, defaults.OpenEnded)
	sum := single + multiple + open
	if sum <= 0 {
		return ResolvedConfig{}, errors.New("question type ratios must sum to a positive value")
	}
	rc.Source = SourceRatios
	rc.Ratios = Ratios{
		SingleChoice:   single / sum,
		MultipleChoice: multiple / sum,
		OpenEnded:      open / sum,
	}
	rc.TotalQuestions = c.TotalQuestions
	if rc.TotalQuestions == 0 {
		rc.TotalQuestions = DefaultTotalQuestions
	}
	return rc, nil
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Ptr returns a pointer to v. Handy for building configs literally.
func Ptr[T any](v T) *T { return &v }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
