// Package assembler drives generation and validation through bounded
// repair rounds and freezes the result into an Exam.
package assembler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"github.com/pavelanni/examgen/internal/generator"
	"github.com/pavelanni/examgen/internal/ingest"
	"github.com/pavelanni/examgen/internal/metrics"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/validator"
)

// DefaultMaxRounds bounds regeneration rounds after the first draft.
const DefaultMaxRounds = 3

var tracer = otel.Tracer("examgen/assembler")

// State is a step of the build state machine.
type State string

const (
	StateDrafting    State = "DRAFTING"
	StateValidating  State = "VALIDATING"
	StateNeedsRepair State = "NEEDS_REPAIR"
	StateAssembled   State = "ASSEMBLED"
	StateFailed      State = "FAILED"
)

// Saver persists a finished exam and returns its location.
type Saver interface {
	SaveExam(ctx context.Context, exam *model.Exam) (string, error)
}

// Options tunes an Assembler.
type Options struct {
	// MaxRounds is the number of repair rounds allowed after the first
	// draft. Zero selects DefaultMaxRounds; a negative value disables repair.
	MaxRounds int
	// Ratios is the baseline for omitted type ratios.
	Ratios model.RatioDefaults
	// Saver, when set, receives every successfully assembled exam.
	Saver Saver
	// Now stamps CreatedAt; defaults to time.Now.
	Now func() time.Time
	// OnTransition observes state changes.
	OnTransition func(from, to State)
}

// Assembler builds exams from documents.
type Assembler struct {
	gen  *generator.Generator
	val  *validator.Validator
	opts Options
}

// New creates an assembler.
func New(gen *generator.Generator, val *validator.Validator, opts Options) *Assembler {
	if opts.MaxRounds < 0 {
		opts.MaxRounds = 0
	} else if opts.MaxRounds == 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.Ratios == (model.RatioDefaults{}) {
		opts.Ratios = model.DefaultRatios
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{gen: gen, val: val, opts: opts}
}

// snapshot is the accepted set after one round. It is never modified once
// built; the next round derives a new one.
type snapshot struct {
	round    int
	accepted []generator.Generated // slot order
}

func (s snapshot) questions() []model.Question {
	qs := make([]model.Question, len(s.accepted))
	for i, g := range s.accepted {
		qs[i] = g.Question
	}
	return qs
}

func (s snapshot) has(slot int) bool {
	for _, g := range s.accepted {
		if g.Slot.Index == slot {
			return true
		}
	}
	return false
}

type build struct {
	state State
	opts  *Options
}

func (b *build) to(next State) {
	if b.opts.OnTransition != nil {
		b.opts.OnTransition(b.state, next)
	}
	slog.Debug("exam build transition", "from", b.state, "to", next)
	b.state = next
}

// BuildMarkdown parses markdown into sections and builds an exam from them.
func (a *Assembler) BuildMarkdown(ctx context.Context, markdown string, cfg model.GenerationConfig) (*model.Exam, error) {
	return a.Build(ctx, ingest.Parse(markdown), cfg)
}

// Build runs DRAFTING, VALIDATING and NEEDS_REPAIR until every slot is
// filled or the repair budget is spent. It fails with a BuildError only when
// the document has no sections or no question survives. A shortfall is
// reported as a warning on the exam.
func (a *Assembler) Build(ctx context.Context, doc model.Document, cfg model.GenerationConfig) (*model.Exam, error) {
	rc, err := cfg.Resolve(a.opts.Ratios)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}

	ctx, span := tracer.Start(ctx, "assembler.Build", trace.WithAttributes(
		attribute.Int("sections", len(doc.Sections)),
		attribute.Int("requested", rc.TotalQuestions),
		attribute.String("provider", rc.Provider),
	))
	defer span.End()

	b := &build{opts: &a.opts}
	fail := func(err error) (*model.Exam, error) {
		b.to(StateFailed)
		outcome := "failed"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		metrics.Builds.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(doc.Sections) == 0 {
		return fail(&model.BuildError{Reason: "source content has no sections"})
	}

	plan, err := a.gen.Plan(ctx, doc, rc)
	if err != nil {
		return fail(err)
	}
	rc.Counts = generator.Counts(rc)

	var (
		snap     snapshot
		failures []*model.GenerationFailure
		rejected int
		rounds   int
	)
	pending := plan.Slots
	for round := 0; ; round++ {
		rounds = round + 1
		b.to(StateDrafting)
		next, roundFailures, roundRejected, err := a.runRound(ctx, doc, rc, snap, round, pending, b)
		if err != nil {
			return fail(err)
		}
		snap = next
		failures = append(failures, roundFailures...)
		rejected += roundRejected

		var missing []generator.Slot
		for _, s := range plan.Slots {
			if !snap.has(s.Index) {
				missing = append(missing, s)
			}
		}
		if len(missing) == 0 || round >= a.opts.MaxRounds {
			break
		}
		b.to(StateNeedsRepair)
		slog.Info("regenerating missing questions", "round", round+1, "missing", len(missing))
		pending = make([]generator.Slot, len(missing))
		for i, s := range missing {
			pending[i] = plan.Replacement(s, round+1)
		}
	}
	metrics.RegenerationRounds.Observe(float64(rounds - 1))

	if len(snap.accepted) == 0 {
		return fail(&model.BuildError{
			Reason: fmt.Sprintf("no questions survived %d rounds", rounds),
			Err:    joinFailures(failures),
		})
	}

	exam := a.freeze(doc, rc, snap, rounds, rejected, failures)
	if a.opts.Saver != nil {
		loc, err := a.opts.Saver.SaveExam(ctx, exam)
		if err != nil {
			return fail(fmt.Errorf("save exam: %w", err))
		}
		slog.Info("exam saved", "exam_id", exam.ExamID, "location", loc)
	}
	b.to(StateAssembled)
	metrics.Builds.WithLabelValues("assembled").Inc()
	span.SetAttributes(attribute.String("exam_id", exam.ExamID), attribute.Int("questions", len(exam.Questions)))
	span.SetStatus(codes.Ok, "")
	return exam, nil
}

// runRound drafts pending slots, validates them against the previous
// snapshot, and returns the next snapshot. Questions accepted in earlier
// rounds are carried over unchanged.
func (a *Assembler) runRound(ctx context.Context, doc model.Document, rc model.ResolvedConfig, prev snapshot,
	round int, pending []generator.Slot, b *build,
) (snapshot, []*model.GenerationFailure, int, error) {
	ctx, span := tracer.Start(ctx, "assembler.round", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("pending", len(pending)),
	))
	defer span.End()

	out, err := a.gen.GenerateSlots(ctx, doc, rc, pending)
	if err != nil {
		span.RecordError(err)
		return snapshot{}, nil, 0, err
	}

	b.to(StateValidating)
	res := a.val.ValidateAgainst(prev.questions(), snapshot{accepted: out.Questions}.questions(), doc.Sections)

	keep := make(map[string]bool, len(res.Accepted))
	for _, q := range res.Accepted {
		keep[q.ID] = true
	}
	next := snapshot{round: round, accepted: slices.Clone(prev.accepted)}
	for _, c := range out.Questions {
		if keep[c.Question.ID] {
			next.accepted = append(next.accepted, c)
		}
	}
	slices.SortStableFunc(next.accepted, func(x, y generator.Generated) int { return x.Slot.Index - y.Slot.Index })
	for _, r := range res.Rejected {
		slog.Debug("question rejected", "round", round, "question", r.QuestionID, "check", r.Check, "problems", r.Problems)
	}
	span.SetAttributes(attribute.Int("accepted", len(next.accepted)), attribute.Int("rejected", len(res.Rejected)))
	return next, out.Failures, len(res.Rejected), nil
}

// freeze renumbers the accepted questions, computes the summary from the
// final set, and stamps the exam id.
func (a *Assembler) freeze(doc model.Document, rc model.ResolvedConfig, snap snapshot, rounds, rejected int,
	failures []*model.GenerationFailure,
) *model.Exam {
	questions := snap.questions()
	for i := range questions {
		questions[i].ID = fmt.Sprintf("q-%03d", i+1)
	}

	final := a.val.Assess(questions, doc.Sections)
	summary := model.ValidationSummary{
		GroundedRatio:   final.Metrics.GroundedRatio,
		SectionCoverage: final.Metrics.SectionCoverage,
		DuplicateCount:  final.Metrics.DuplicateCount,
		AttemptsUsed:    rounds,
		Requested:       rc.TotalQuestions,
		RejectedCount:   rejected,
		SoftIssues:      final.SoftIssues(),
	}
	if len(questions) < rc.TotalQuestions {
		w := fmt.Sprintf("generated %d of %d requested questions", len(questions), rc.TotalQuestions)
		summary.Warnings = append(summary.Warnings, w)
		slog.Warn("exam shortfall", "generated", len(questions), "requested", rc.TotalQuestions, "rounds", rounds)
	}
	if len(failures) > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d generation attempts failed after retries", len(failures)))
	}

	return &model.Exam{
		ExamID:            ExamID(doc, rc, questions),
		Title:             doc.Title,
		Questions:         questions,
		ConfigUsed:        rc,
		ValidationSummary: summary,
		SectionIDs:        doc.IDs(),
		CreatedAt:         a.opts.Now().UTC().Truncate(time.Second),
	}
}

// ExamID derives the exam identifier. With a seed it is a BLAKE2b digest of
// the sections, the resolved config and the final questions, so a rebuild
// gets the same id only when it produced the same exam; without a seed it is
// random.
func ExamID(doc model.Document, rc model.ResolvedConfig, questions []model.Question) string {
	if rc.Seed == nil {
		return "ex-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	h, _ := blake2b.New256(nil)
	for _, s := range doc.Sections {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		h.Write([]byte(s.Text))
		h.Write([]byte{0})
	}
	cfg, _ := json.Marshal(rc)
	h.Write(cfg)
	h.Write([]byte{0})
	qs, _ := json.Marshal(questions)
	h.Write(qs)
	return "ex-" + hex.EncodeToString(h.Sum(nil)[:8])
}

func joinFailures(failures []*model.GenerationFailure) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
