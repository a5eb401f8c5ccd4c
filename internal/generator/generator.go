// Package generator turns document sections into candidate exam questions,
// one gateway call per requested slot.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/llm/prompts"
	"github.com/pavelanni/examgen/internal/metrics"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/retry"
)

// DefaultConcurrency is the number of generation calls in flight.
const DefaultConcurrency = 4

// DefaultTemperature is the sampling temperature for generation calls.
const DefaultTemperature = 0.7

// Options tunes a Generator. Zero values select defaults.
type Options struct {
	Concurrency int
	Policy      retry.Policy
	Selection   Selection
	Temperature float32

	// Retriever, Focus and TopK narrow the section pool before planning.
	// With an empty Focus every section is used.
	Retriever Retriever
	Focus     string
	TopK      int
}

// Generator issues generation calls for planned slots.
type Generator struct {
	gw   llm.Gateway
	opts Options
}

// New creates a generator backed by gw.
func New(gw llm.Gateway, opts Options) *Generator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Selection == "" {
		opts.Selection = SelectRoundRobin
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	return &Generator{gw: gw, opts: opts}
}

// Generated is a parsed question with the slot that produced it.
type Generated struct {
	Slot     Slot
	Question model.Question
	Attempts int
}

// Output is the outcome of generating a batch of slots. Questions are in
// slot order; failed slots appear only in Failures.
type Output struct {
	Questions []Generated
	Failures  []*model.GenerationFailure
	Attempts  int
}

// Plan resolves per-type counts for rc and assigns each slot a section and
// difficulty. The same seed, document and config always give the same plan.
func (g *Generator) Plan(ctx context.Context, doc model.Document, rc model.ResolvedConfig) (Plan, error) {
	sections := doc.Sections
	if g.opts.Retriever != nil && strings.TrimSpace(g.opts.Focus) != "" {
		picked, err := g.opts.Retriever.Retrieve(ctx, doc, g.opts.Focus, g.opts.TopK)
		if err != nil {
			return Plan{}, fmt.Errorf("retrieve sections: %w", err)
		}
		if len(picked) > 0 {
			sections = picked
		} else {
			slog.Warn("no sections matched focus, using all", "focus", g.opts.Focus)
		}
	}
	rng := NewRand(rc.Seed)
	return MakePlan(sections, Counts(rc), rc.Difficulty, g.opts.Selection, rng), nil
}

// Generate plans and generates one batch of questions for doc. Questions get
// temporary ids in slot order.
func (g *Generator) Generate(ctx context.Context, doc model.Document, rc model.ResolvedConfig) ([]model.Question, []*model.GenerationFailure, error) {
	plan, err := g.Plan(ctx, doc, rc)
	if err != nil {
		return nil, nil, err
	}
	out, err := g.GenerateSlots(ctx, doc, rc, plan.Slots)
	if err != nil {
		return nil, nil, err
	}
	qs := make([]model.Question, len(out.Questions))
	for i, gq := range out.Questions {
		qs[i] = gq.Question
	}
	return qs, out.Failures, nil
}

// GenerateSlots issues one gateway call per slot through a bounded worker
// pool. Each call is retried per the policy; a slot that never yields a
// parseable question is reported as a failure and dropped. If ctx is done,
// calls already in flight finish but every result is discarded.
func (g *Generator) GenerateSlots(ctx context.Context, doc model.Document, rc model.ResolvedConfig, slots []Slot) (Output, error) {
	type outcome struct {
		q        model.Question
		attempts int
		err      error
	}
	results := make([]outcome, len(slots))

	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, slot := range slots {
		if ctx.Err() != nil {
			break
		}
		section, ok := doc.SectionByID(slot.SectionID)
		if !ok {
			results[i] = outcome{err: fmt.Errorf("unknown section %q", slot.SectionID)}
			continue
		}
		eg.Go(func() error {
			q, attempts, err := g.generateOne(ctx, rc, slot, section)
			results[i] = outcome{q: q, attempts: attempts, err: err}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	var out Output
	for i, r := range results {
		slot := slots[i]
		out.Attempts += r.attempts
		if r.err != nil {
			metrics.GenerationFailures.WithLabelValues(string(slot.Type)).Inc()
			slog.Warn("generation slot dropped",
				"slot", slot.Index, "type", slot.Type, "section", slot.SectionID,
				"attempts", r.attempts, "error", r.err)
			out.Failures = append(out.Failures, &model.GenerationFailure{
				Slot:     slot.Index,
				Type:     slot.Type,
				Section:  slot.SectionID,
				Attempts: r.attempts,
				Err:      r.err,
			})
			continue
		}
		out.Questions = append(out.Questions, Generated{Slot: slot, Question: r.q, Attempts: r.attempts})
	}
	return out, nil
}

func (g *Generator) generateOne(ctx context.Context, rc model.ResolvedConfig, slot Slot, section model.Section) (model.Question, int, error) {
	rendered, err := prompts.BuildGeneration(rc.Language, rc.PromptVariant, slot.Type, slot.Difficulty, section.Text)
	if err != nil {
		return model.Question{}, 0, fmt.Errorf("build prompt: %w", err)
	}
	hint := llm.SchemaChoice
	if slot.Type == model.TypeOpenEnded {
		hint = llm.SchemaOpenEnded
	}
	p := llm.Prompt{
		Key:         slot.Key(),
		System:      rendered.System,
		User:        rendered.User,
		Temperature: g.opts.Temperature,
		Inputs: map[string]string{
			llm.InputContent:    section.Text,
			llm.InputHeading:    section.Heading(),
			llm.InputType:       string(slot.Type),
			llm.InputDifficulty: string(slot.Difficulty),
			llm.InputLanguage:   rc.Language,
		},
	}

	provider := g.gw.Name()
	start := time.Now()
	res := retry.Do(ctx, g.opts.Policy, func(actx context.Context, attempt int) (model.Question, error) {
		raw, err := g.gw.Complete(actx, p, hint)
		if err != nil {
			metrics.GenerationCalls.WithLabelValues(provider, "provider_error").Inc()
			slog.Debug("generation call failed", "slot", slot.Index, "attempt", attempt, "error", err)
			if !llm.IsRetryable(err) {
				return model.Question{}, retry.Permanent(err)
			}
			return model.Question{}, err
		}
		q, err := parseQuestion(raw, slot, section)
		if err != nil {
			metrics.GenerationCalls.WithLabelValues(provider, "malformed").Inc()
			slog.Debug("malformed generation response", "slot", slot.Index, "attempt", attempt, "error", err)
			return model.Question{}, err
		}
		metrics.GenerationCalls.WithLabelValues(provider, "ok").Inc()
		return q, nil
	})
	metrics.GenerationDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	return res.Value, res.Attempts, res.Err
}

// parseQuestion decodes a gateway response for slot. Strings are trimmed and
// correct indices deduplicated and sorted; range and count rules are left to
// the validator.
func parseQuestion(raw string, slot Slot, section model.Section) (model.Question, error) {
	q := model.Question{
		ID:         TempID(slot.Index),
		Type:       slot.Type,
		SourceRefs: []string{section.ID},
		Meta: model.QuestionMeta{
			Difficulty: slot.Difficulty,
			Tags:       slices.Clone(section.HeadingPath),
		},
	}

	if slot.Type == model.TypeOpenEnded {
		resp, err := llm.Decode[llm.OpenEndedResponse](raw, llm.SchemaOpenEnded)
		if err != nil {
			return model.Question{}, err
		}
		q.Stem = strings.TrimSpace(resp.Stem)
		q.ReferenceAnswer = strings.TrimSpace(resp.ReferenceAnswer)
		for _, c := range resp.Rubric {
			if c = strings.TrimSpace(c); c != "" {
				q.Rubric = append(q.Rubric, c)
			}
		}
		if q.Stem == "" || q.ReferenceAnswer == "" || len(q.Rubric) == 0 {
			return model.Question{}, fmt.Errorf("%w: blank open-ended fields", llm.ErrMalformed)
		}
		return q, nil
	}

	resp, err := llm.Decode[llm.ChoiceResponse](raw, llm.SchemaChoice)
	if err != nil {
		return model.Question{}, err
	}
	q.Stem = strings.TrimSpace(resp.Stem)
	if q.Stem == "" {
		return model.Question{}, fmt.Errorf("%w: blank stem", llm.ErrMalformed)
	}
	q.Options = make([]string, len(resp.Options))
	for i, opt := range resp.Options {
		q.Options[i] = strings.TrimSpace(opt)
	}
	q.Correct = slices.Compact(slices.Sorted(slices.Values(resp.Correct)))
	return q, nil
}

// TempID is the provisional id of the question generated for a slot.
func TempID(slot int) string {
	return fmt.Sprintf("q-%03d", slot+1)
}
