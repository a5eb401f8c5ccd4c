// Package validator checks candidate questions for structure, source
// traceability, duplication, and grounding in the source text.
package validator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/examgen/internal/metrics"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/textnorm"
)

// Check names used in issues.
const (
	CheckStructure  = "structure"
	CheckSourceRef  = "source_ref"
	CheckDuplicate  = "duplicate"
	CheckGrounding  = "grounding"
	CheckAllCorrect = "all_correct"
)

// Default thresholds.
const (
	DefaultDuplicateThreshold = 0.85
	DefaultGroundingThreshold = 0.15
)

// Options tunes the heuristic checks.
type Options struct {
	// DuplicateThreshold is the stem token Jaccard at or above which two
	// questions count as duplicates.
	DuplicateThreshold float64
	// GroundingThreshold is the minimum share of question tokens found in
	// the referenced sections.
	GroundingThreshold float64
	// DuplicatesHard rejects duplicates instead of reporting them.
	DuplicatesHard bool
	// Strict rejects questions below the grounding threshold.
	Strict bool
}

// DefaultOptions returns the standard thresholds with soft duplicate and
// grounding checks.
func DefaultOptions() Options {
	return Options{
		DuplicateThreshold: DefaultDuplicateThreshold,
		GroundingThreshold: DefaultGroundingThreshold,
	}
}

// Metrics summarizes the accepted question set.
type Metrics struct {
	GroundedRatio   float64 `json:"grounded_ratio"`
	SectionCoverage float64 `json:"section_coverage"`
	DuplicateCount  int     `json:"duplicate_count"`
}

// Result is the verdict for one candidate set. Accepted keeps input order.
type Result struct {
	Passed   bool
	Accepted []model.Question
	Rejected []*model.ValidationHardFailure
	Issues   []model.Issue
	Metrics  Metrics
}

// HardIssues returns the blocking issues.
func (r Result) HardIssues() []model.Issue {
	var out []model.Issue
	for _, is := range r.Issues {
		if is.Severity == model.SeverityHard {
			out = append(out, is)
		}
	}
	return out
}

// SoftIssues returns the advisory issues.
func (r Result) SoftIssues() []model.Issue {
	var out []model.Issue
	for _, is := range r.Issues {
		if is.Severity == model.SeveritySoft {
			out = append(out, is)
		}
	}
	return out
}

// Validator runs the checks with fixed options.
type Validator struct {
	opts Options
}

// New creates a validator. Zero thresholds take the defaults.
func New(opts Options) *Validator {
	if opts.DuplicateThreshold <= 0 {
		opts.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if opts.GroundingThreshold <= 0 {
		opts.GroundingThreshold = DefaultGroundingThreshold
	}
	return &Validator{opts: opts}
}

// Options returns the effective options.
func (v *Validator) Options() Options { return v.opts }

type seenStem struct {
	id     string
	norm   string
	tokens []string
}

// Validate checks questions against sections. Questions with hard issues are
// rejected individually; the set as a whole never fails here.
func (v *Validator) Validate(questions []model.Question, sections []model.Section) Result {
	return v.run(nil, questions, sections, true)
}

// ValidateAgainst checks candidates that join an already accepted set.
// Accepted questions are not re-checked and always win the duplicate check:
// a candidate repeating one of them is the duplicate. The result lists only
// candidates, and its metrics describe the accepted candidates.
func (v *Validator) ValidateAgainst(accepted, candidates []model.Question, sections []model.Section) Result {
	return v.run(accepted, candidates, sections, true)
}

// Assess runs the same checks as Validate without counting issues in the
// metrics collectors. It summarizes sets that were already validated.
func (v *Validator) Assess(questions []model.Question, sections []model.Section) Result {
	return v.run(nil, questions, sections, false)
}

func (v *Validator) run(prior, questions []model.Question, sections []model.Section, record bool) Result {
	index := make(map[string]model.Section, len(sections))
	for _, s := range sections {
		index[s.ID] = s
	}

	var (
		res      Result
		seen     []seenStem
		grounded int
	)
	for _, q := range prior {
		seen = append(seen, seenStem{id: q.ID, norm: textnorm.Normalize(q.Stem), tokens: textnorm.Tokens(q.Stem)})
	}
	report := func(q model.Question, check string, sev model.Severity, msg string) {
		res.Issues = append(res.Issues, model.Issue{QuestionID: q.ID, Check: check, Severity: sev, Message: msg})
		if record {
			metrics.ValidationIssues.WithLabelValues(check, string(sev)).Inc()
		}
	}
	reject := func(q model.Question, check string, problems []string) {
		for _, p := range problems {
			report(q, check, model.SeverityHard, p)
		}
		res.Rejected = append(res.Rejected, &model.ValidationHardFailure{QuestionID: q.ID, Check: check, Problems: problems})
	}

	for _, q := range questions {
		if problems := q.CheckStructure(); len(problems) > 0 {
			reject(q, CheckStructure, problems)
			continue
		}
		if problems := checkSourceRefs(q, index); len(problems) > 0 {
			reject(q, CheckSourceRef, problems)
			continue
		}

		if q.AllOptionsCorrect() {
			report(q, CheckAllCorrect, model.SeveritySoft, "every option is marked correct")
		}

		norm := textnorm.Normalize(q.Stem)
		toks := textnorm.Tokens(q.Stem)
		if dup, ok := v.findDuplicate(norm, toks, seen); ok {
			res.Metrics.DuplicateCount++
			msg := fmt.Sprintf("stem duplicates question %s", dup)
			if v.opts.DuplicatesHard {
				reject(q, CheckDuplicate, []string{msg})
				continue
			}
			report(q, CheckDuplicate, model.SeveritySoft, msg)
		}

		score := Grounding(q, index)
		if score < v.opts.GroundingThreshold {
			msg := fmt.Sprintf("grounding overlap %.2f below %.2f", score, v.opts.GroundingThreshold)
			if v.opts.Strict {
				reject(q, CheckGrounding, []string{msg})
				continue
			}
			report(q, CheckGrounding, model.SeveritySoft, msg)
		} else {
			grounded++
		}

		seen = append(seen, seenStem{id: q.ID, norm: norm, tokens: toks})
		res.Accepted = append(res.Accepted, q)
	}

	if n := len(res.Accepted); n > 0 {
		res.Metrics.GroundedRatio = model.Round(float64(grounded)/float64(n), 4)
	}
	res.Metrics.SectionCoverage = SectionCoverage(res.Accepted, sections)
	res.Passed = len(res.Rejected) == 0

	slog.Debug("validated questions",
		"prior", len(prior), "candidates", len(questions), "accepted", len(res.Accepted),
		"rejected", len(res.Rejected), "issues", len(res.Issues))
	return res
}

func (v *Validator) findDuplicate(norm string, toks []string, seen []seenStem) (string, bool) {
	for _, s := range seen {
		if norm != "" && norm == s.norm {
			return s.id, true
		}
		if len(toks) > 0 && textnorm.Jaccard(toks, s.tokens) >= v.opts.DuplicateThreshold {
			return s.id, true
		}
	}
	return "", false
}

func checkSourceRefs(q model.Question, index map[string]model.Section) []string {
	if len(q.SourceRefs) == 0 {
		return []string{"no source references"}
	}
	var problems []string
	for _, ref := range q.SourceRefs {
		if _, ok := index[ref]; !ok {
			problems = append(problems, fmt.Sprintf("unknown section %q", ref))
		}
	}
	return problems
}

// Grounding is the share of distinct question tokens (stem and options) that
// occur in the headings and text of the referenced sections.
func Grounding(q model.Question, index map[string]model.Section) float64 {
	var ref strings.Builder
	for _, id := range q.SourceRefs {
		s, ok := index[id]
		if !ok {
			continue
		}
		ref.WriteString(strings.Join(s.HeadingPath, " "))
		ref.WriteByte('\n')
		ref.WriteString(s.Text)
		ref.WriteByte('\n')
	}
	query := q.Stem + " " + strings.Join(q.Options, " ")
	return textnorm.Coverage(textnorm.Tokens(query), textnorm.Tokens(ref.String()))
}

// SectionCoverage is the fraction of sections referenced by at least one
// question, rounded to four places.
func SectionCoverage(questions []model.Question, sections []model.Section) float64 {
	if len(sections) == 0 {
		return 0
	}
	known := make(map[string]bool, len(sections))
	for _, s := range sections {
		known[s.ID] = true
	}
	used := make(map[string]bool)
	for _, q := range questions {
		for _, ref := range q.SourceRefs {
			if known[ref] {
				used[ref] = true
			}
		}
	}
	return model.Round(float64(len(used))/float64(len(sections)), 4)
}
