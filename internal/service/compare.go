package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pavelanni/examgen/internal/ingest"
	"github.com/pavelanni/examgen/internal/llm/prompts"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/validator"
)

// AllVariants lists the prompt variants compared by default.
var AllVariants = []model.PromptVariant{model.PromptDefault, model.PromptGrounded, model.PromptConcise}

// VariantReport is the outcome of one build with a prompt variant.
type VariantReport struct {
	Variant         model.PromptVariant `json:"variant"`
	Questions       int                 `json:"questions"`
	Quality         validator.Quality   `json:"quality"`
	GroundedRatio   float64             `json:"grounded_ratio"`
	SectionCoverage float64             `json:"section_coverage"`
	Issues          []model.Issue       `json:"issues,omitempty"`
	// Error is set when the build failed; the other fields are then zero.
	Error string `json:"error,omitempty"`
}

// VariantComparison ranks prompt variants on the same material.
type VariantComparison struct {
	Variants []VariantReport `json:"variants"`
	// Best has the highest overall quality, ties broken by grounded ratio.
	// Empty when every build failed.
	Best model.PromptVariant `json:"best,omitempty"`
}

// CompareVariants builds one exam per prompt variant from the same markdown
// and config and reports quality and grounding for each. Nothing is stored.
// An empty variants list compares AllVariants.
func (s *Service) CompareVariants(ctx context.Context, markdown string, cfg model.GenerationConfig,
	variants []model.PromptVariant,
) (*VariantComparison, error) {
	if len(variants) == 0 {
		variants = AllVariants
	}
	for _, v := range variants {
		if !prompts.IsValidVariant(string(v)) {
			return nil, fmt.Errorf("%w: unknown prompt variant %q", ErrInvalidRequest, v)
		}
	}
	cfg, gw, err := s.prepare(cfg)
	if err != nil {
		return nil, err
	}

	doc := ingest.Parse(markdown)
	out := &VariantComparison{}
	for _, v := range slices.Compact(slices.Clone(variants)) {
		vcfg := cfg
		vcfg.PromptVariant = v
		exam, err := s.newAssembler(gw, vcfg, nil).Build(ctx, doc, vcfg)
		if err != nil {
			if !errors.Is(err, model.ErrBuildFailure) {
				return nil, err
			}
			slog.Warn("variant build failed", "variant", v, "error", err)
			out.Variants = append(out.Variants, VariantReport{Variant: v, Error: err.Error()})
			continue
		}
		out.Variants = append(out.Variants, VariantReport{
			Variant:         v,
			Questions:       len(exam.Questions),
			Quality:         validator.EvaluateQuality(exam.Questions),
			GroundedRatio:   exam.ValidationSummary.GroundedRatio,
			SectionCoverage: exam.ValidationSummary.SectionCoverage,
			Issues:          exam.ValidationSummary.SoftIssues,
		})
	}

	var best *VariantReport
	for i := range out.Variants {
		r := &out.Variants[i]
		if r.Error != "" {
			continue
		}
		if best == nil || cmp.Or(
			cmp.Compare(r.Quality.Overall, best.Quality.Overall),
			cmp.Compare(r.GroundedRatio, best.GroundedRatio),
		) > 0 {
			best = r
		}
	}
	if best != nil {
		out.Best = best.Variant
	}
	slog.Info("compared prompt variants", "variants", len(out.Variants), "best", out.Best)
	return out, nil
}
