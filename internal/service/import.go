package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
	"github.com/pavelanni/examgen/internal/validator"
)

// Import validates an externally authored exam and stores it. Questions get
// the structural, source reference and duplicate checks; grounding needs the
// source text, which an import does not carry, so it is skipped. The
// validation summary is recomputed and counts are derived from the
// questions. An id already stored with other content fails with
// store.ErrConflict.
func (s *Service) Import(ctx context.Context, exam *model.Exam) (*model.Exam, error) {
	if exam == nil {
		return nil, fmt.Errorf("%w: empty exam", ErrInvalidRequest)
	}
	if !store.ValidExamID(exam.ExamID) {
		return nil, fmt.Errorf("%w: invalid exam id %q", ErrInvalidRequest, exam.ExamID)
	}
	if len(exam.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam %s has no questions", ErrInvalidRequest, exam.ExamID)
	}

	out := *exam
	out.Questions = slices.Clone(exam.Questions)
	ids := make(map[string]bool, len(out.Questions))
	for _, q := range out.Questions {
		if q.ID == "" || ids[q.ID] {
			return nil, fmt.Errorf("%w: question ids must be unique and non-empty, got %q", ErrInvalidRequest, q.ID)
		}
		ids[q.ID] = true
	}

	if len(out.SectionIDs) == 0 {
		for _, q := range out.Questions {
			for _, ref := range q.SourceRefs {
				if !slices.Contains(out.SectionIDs, ref) {
					out.SectionIDs = append(out.SectionIDs, ref)
				}
			}
		}
	}
	sections := make([]model.Section, len(out.SectionIDs))
	for i, id := range out.SectionIDs {
		sections[i] = model.Section{ID: id, OrderIndex: i}
	}

	vopts := s.cfg.Validator
	vopts.Strict = false
	res := validator.New(vopts).Assess(out.Questions, sections)
	if len(res.Rejected) > 0 {
		problems := make([]string, 0, len(res.Rejected))
		for _, r := range res.Rejected {
			problems = append(problems, r.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}

	rc := out.ConfigUsed
	if rc.Language == "" {
		rc.Language = "en"
	}
	if rc.Language != "en" && rc.Language != "ru" {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, rc.Language)
	}
	rc.Counts = model.Counts{}
	for _, q := range out.Questions {
		switch q.Type {
		case model.TypeSingleChoice:
			rc.Counts.SingleChoice++
		case model.TypeMultipleChoice:
			rc.Counts.MultipleChoice++
		case model.TypeOpenEnded:
			rc.Counts.OpenEnded++
		}
	}
	rc.TotalQuestions = len(out.Questions)
	rc.Source = model.SourceCounts
	n := float64(rc.TotalQuestions)
	rc.Ratios = model.Ratios{
		SingleChoice:   model.Round(float64(rc.Counts.SingleChoice)/n, 4),
		MultipleChoice: model.Round(float64(rc.Counts.MultipleChoice)/n, 4),
		OpenEnded:      model.Round(float64(rc.Counts.OpenEnded)/n, 4),
	}
	if rc.PromptVariant == "" {
		rc.PromptVariant = model.PromptDefault
	}
	out.ConfigUsed = rc

	var soft []model.Issue
	for _, is := range res.SoftIssues() {
		if is.Check != validator.CheckGrounding {
			soft = append(soft, is)
		}
	}
	out.ValidationSummary = model.ValidationSummary{
		SectionCoverage: res.Metrics.SectionCoverage,
		DuplicateCount:  res.Metrics.DuplicateCount,
		Requested:       len(out.Questions),
		Warnings:        []string{"imported exam: grounding not checked"},
		SoftIssues:      soft,
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = s.cfg.Now().UTC().Truncate(time.Second)
	}

	if _, err := s.store.SaveExam(ctx, &out); err != nil {
		return nil, err
	}
	slog.Info("exam imported", "exam_id", out.ExamID, "questions", len(out.Questions), "soft_issues", len(soft))
	return &out, nil
}
