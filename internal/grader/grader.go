// Package grader scores submitted answers against an assembled exam.
package grader

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/llm/prompts"
	"github.com/pavelanni/examgen/internal/metrics"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/retry"
)

// PassThreshold is the open-ended score reported as correct.
const PassThreshold = 0.7

// DefaultConcurrency is the number of open-ended grading calls in flight.
const DefaultConcurrency = 4

var tracer = otel.Tracer("examgen/grader")

// Options tunes a Grader.
type Options struct {
	// PartialCredit awards fractional credit on multiple-choice questions.
	// When false they are scored by exact match only.
	PartialCredit bool
	Concurrency   int
	// Policy governs open-ended grading calls. One retry by default.
	Policy retry.Policy
	// Now stamps GradedAt; defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions enables partial credit and a single retry.
func DefaultOptions() Options {
	return Options{
		PartialCredit: true,
		Concurrency:   DefaultConcurrency,
		Policy:        retry.Policy{MaxAttempts: 2, Backoff: retry.DefaultPolicy().Backoff},
	}
}

// Grader scores answers. The gateway is only used for open-ended questions.
type Grader struct {
	gw   llm.Gateway
	opts Options
}

// New creates a grader.
func New(gw llm.Gateway, opts Options) *Grader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultOptions().Policy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Grader{gw: gw, opts: opts}
}

// Grade scores answers against exam. Answers to unknown questions are
// ignored; questions without an answer score zero. It never fails on a
// per-question problem; the only error is cancellation of ctx.
func (g *Grader) Grade(ctx context.Context, exam *model.Exam, answers []model.AnswerSubmission) (*model.GradeResponse, error) {
	ctx, span := tracer.Start(ctx, "grader.Grade", trace.WithAttributes(
		attribute.String("exam_id", exam.ExamID),
		attribute.Int("answers", len(answers)),
	))
	defer span.End()

	byQuestion := make(map[string]model.AnswerSubmission, len(answers))
	for _, a := range answers {
		if _, ok := exam.QuestionByID(a.QuestionID); !ok {
			slog.Debug("ignoring answer to unknown question", "exam_id", exam.ExamID, "question", a.QuestionID)
			continue
		}
		if _, dup := byQuestion[a.QuestionID]; !dup {
			byQuestion[a.QuestionID] = a
		}
	}

	lang := exam.ConfigUsed.Language
	results := make([]model.QuestionResult, len(exam.Questions))

	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, q := range exam.Questions {
		a, answered := byQuestion[q.ID]
		if q.Type != model.TypeOpenEnded {
			results[i] = g.gradeChoice(q, a.Choice, answered, lang)
			continue
		}
		eg.Go(func() error {
			results[i] = g.gradeOpen(ctx, q, a.TextAnswer, lang)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	resp := &model.GradeResponse{
		ExamID:       exam.ExamID,
		SubmissionID: SubmissionID(exam.ExamID, answers),
		Summary:      Summarize(results),
		PerQuestion:  results,
		GradedAt:     g.opts.Now().UTC().Truncate(time.Second),
	}
	metrics.ScorePercent.Observe(resp.Summary.ScorePercent)
	span.SetAttributes(attribute.Float64("score_percent", resp.Summary.ScorePercent))
	return resp, nil
}

func (g *Grader) gradeChoice(q model.Question, given []int, answered bool, lang string) model.QuestionResult {
	res := model.QuestionResult{
		QuestionID: q.ID,
		Type:       q.Type,
		Given:      slices.Clone(given),
		Expected:   slices.Clone(q.Correct),
	}
	if !answered || len(given) == 0 {
		res.Feedback = i18n.Message(lang, i18n.MsgNoAnswer, nil)
		return res
	}

	res.IsCorrect = sameSet(given, q.Correct)
	switch {
	case res.IsCorrect:
		res.PartialCredit = 1
	case q.Type == model.TypeMultipleChoice && g.opts.PartialCredit:
		res.PartialCredit = model.Round(PartialCredit(q.Correct, given), 4)
	}

	switch {
	case res.IsCorrect:
		res.Feedback = i18n.Message(lang, i18n.MsgCorrect, nil)
	case res.PartialCredit > 0:
		res.Feedback = i18n.Message(lang, i18n.MsgPartiallyCorrect, map[string]any{
			"Credit": strconv.FormatFloat(res.PartialCredit, 'f', -1, 64),
		})
	default:
		res.Feedback = i18n.Message(lang, i18n.MsgIncorrect, nil)
	}
	return res
}

func (g *Grader) gradeOpen(ctx context.Context, q model.Question, text *string, lang string) model.QuestionResult {
	res := model.QuestionResult{
		QuestionID:   q.ID,
		Type:         q.Type,
		ExpectedText: q.ReferenceAnswer,
	}
	answer := ""
	if text != nil {
		answer = strings.TrimSpace(*text)
	}
	res.GivenText = answer
	if answer == "" {
		res.Feedback = i18n.Message(lang, i18n.MsgNoAnswer, nil)
		res.RubricScores = make([]float64, len(q.Rubric))
		res.Metrics = &model.AnswerMetrics{}
		return res
	}

	provider := g.gw.Name()
	out := retry.Do(ctx, g.opts.Policy, func(actx context.Context, attempt int) (llm.GradeResult, error) {
		rendered, err := prompts.BuildGrading(lang, q, answer)
		if err != nil {
			return llm.GradeResult{}, retry.Permanent(err)
		}
		raw, err := g.gw.Complete(actx, llm.Prompt{
			Key:    "grade/" + q.ID,
			System: rendered.System,
			User:   rendered.User,
			Inputs: map[string]string{
				llm.InputReference: q.ReferenceAnswer,
				llm.InputAnswer:    answer,
				llm.InputRubric:    strings.Join(q.Rubric, "\n"),
				llm.InputLanguage:  lang,
			},
		}, llm.SchemaGrade)
		if err != nil {
			if !llm.IsRetryable(err) {
				return llm.GradeResult{}, retry.Permanent(err)
			}
			return llm.GradeResult{}, err
		}
		return llm.Decode[llm.GradeResult](raw, llm.SchemaGrade)
	})

	if out.Err != nil {
		metrics.GradingCalls.WithLabelValues(provider, "failed").Inc()
		failure := &model.GradingProviderFailure{QuestionID: q.ID, Err: out.Err}
		slog.Warn("open-ended grading failed", "question", q.ID, "attempts", out.Attempts, "error", failure)
		res.Feedback = i18n.Message(lang, i18n.MsgGradingFailed, map[string]any{"Error": out.Err.Error()})
		res.RubricScores = make([]float64, len(q.Rubric))
		res.Metrics = &model.AnswerMetrics{AnswerLength: len(strings.Fields(answer))}
		return res
	}
	metrics.GradingCalls.WithLabelValues(provider, "ok").Inc()

	score := clamp01(out.Value.Score)
	rubric := make([]float64, len(out.Value.RubricScores))
	for i, s := range out.Value.RubricScores {
		rubric[i] = clamp01(s)
	}
	res.PartialCredit = model.Round(score, 4)
	res.IsCorrect = score >= PassThreshold
	res.Feedback = strings.TrimSpace(out.Value.Feedback)
	res.RubricScores = rubric
	res.Metrics = OpenEndedMetrics(rubric, answer, q.ReferenceAnswer)
	return res
}

// PartialCredit is (correct picks - wrong picks) / |expected|, clamped to
// [0, 1]. Repeated indices count once.
func PartialCredit(expected, given []int) float64 {
	exp := make(map[int]bool, len(expected))
	for _, e := range expected {
		exp[e] = true
	}
	if len(exp) == 0 {
		return 0
	}
	seen := make(map[int]bool, len(given))
	right, wrong := 0, 0
	for _, g := range given {
		if seen[g] {
			continue
		}
		seen[g] = true
		if exp[g] {
			right++
		} else {
			wrong++
		}
	}
	return clamp01(float64(right-wrong) / float64(len(exp)))
}

// Summarize aggregates results. Only choice questions count toward
// CorrectCount; every question contributes its partial credit to the score.
func Summarize(results []model.QuestionResult) model.GradeSummary {
	s := model.GradeSummary{Total: len(results)}
	if len(results) == 0 {
		return s
	}
	var credit float64
	for _, r := range results {
		credit += r.PartialCredit
		if r.IsCorrect && r.Type.IsChoice() {
			s.CorrectCount++
		}
	}
	s.ScorePercent = model.Round(credit/float64(len(results))*100, 2)
	return s
}

var termRe = regexp.MustCompile(`[\p{L}\p{N}]{4,}`)

var metricStopwords = map[string]bool{
	"about": true, "question": true, "answer": true, "what": true,
	"which": true, "explain": true, "select": true, "choose": true,
}

func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range termRe.FindAllString(strings.ToLower(s), -1) {
		if !metricStopwords[t] {
			out[t] = true
		}
	}
	return out
}

// OpenEndedMetrics computes rubric coverage, reference-term overlap, and
// word count for a graded answer.
func OpenEndedMetrics(rubricScores []float64, answer, reference string) *model.AnswerMetrics {
	m := &model.AnswerMetrics{AnswerLength: len(strings.Fields(answer))}
	if len(rubricScores) > 0 {
		var sum float64
		for _, s := range rubricScores {
			sum += s
		}
		m.RubricCoverage = model.Round(sum/float64(len(rubricScores)), 4)
	}
	ref := terms(reference)
	if len(ref) > 0 {
		student := terms(answer)
		hit := 0
		for t := range ref {
			if student[t] {
				hit++
			}
		}
		m.ReferenceOverlap = model.Round(float64(hit)/float64(len(ref)), 4)
	}
	return m
}

// SubmissionID derives a stable id for a set of answers to an exam.
func SubmissionID(examID string, answers []model.AnswerSubmission) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(examID))
	body, _ := json.Marshal(answers)
	h.Write(body)
	return "sub-" + hex.EncodeToString(h.Sum(nil)[:6])
}

func sameSet(a, b []int) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// FormatSummary renders a summary for logs and CLI output.
func FormatSummary(s model.GradeSummary) string {
	return fmt.Sprintf("%d/%d correct, %.2f%%", s.CorrectCount, s.Total, s.ScorePercent)
}
