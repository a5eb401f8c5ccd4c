package assembler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examgen/internal/generator"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/retry"
	"github.com/pavelanni/examgen/internal/validator"
)

const lesson = `# Concurrency in Go

## Goroutines

Goroutines are lightweight threads managed by the runtime scheduler. Starting one costs a few kilobytes of stack.

## Channels

Channels connect goroutines. Unbuffered channels synchronize sender and receiver; buffered channels queue values.

## Select

The select statement waits on multiple channel operations and proceeds with whichever becomes ready first.

## Mutexes

A mutex guards shared memory. Lock before touching protected state and unlock when finished, usually with defer.
`

var fixedNow = time.Date(2026, 3, 1, 12, 30, 45, 123, time.UTC)

type memSaver struct {
	mu    sync.Mutex
	exams []*model.Exam
}

func (m *memSaver) SaveExam(_ context.Context, e *model.Exam) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams = append(m.exams, e)
	return "mem://" + e.ExamID, nil
}

func (m *memSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exams)
}

// faultyGateway returns a structurally broken question for prompts whose key
// matches broken, and defers to the stub otherwise.
type faultyGateway struct {
	stub   *llm.StubGateway
	broken func(key string) bool
}

func (f *faultyGateway) Name() string { return "test/faulty" }

func (f *faultyGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.stub.Embed(ctx, text)
}

func (f *faultyGateway) Complete(ctx context.Context, p llm.Prompt, hint llm.SchemaHint) (string, error) {
	if f.broken(p.Key) {
		return `{"stem":"Broken?","options":["only","two"],"correct":[0]}`, nil
	}
	return f.stub.Complete(ctx, p, hint)
}

func newAssembler(gw llm.Gateway, opts Options) *Assembler {
	gen := generator.New(gw, generator.Options{Policy: retry.Policy{MaxAttempts: 2, Timeout: -1}})
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return New(gen, validator.New(validator.DefaultOptions()), opts)
}

func scenarioConfig() model.GenerationConfig {
	return model.GenerationConfig{
		SingleChoiceCount:   model.Ptr(2),
		MultipleChoiceCount: model.Ptr(1),
		OpenEndedCount:      model.Ptr(0),
		Seed:                model.Ptr[int64](7),
	}
}

func TestBuildScenario(t *testing.T) {
	saver := &memSaver{}
	var states []State
	a := newAssembler(llm.NewStub(), Options{
		Saver:        saver,
		OnTransition: func(_, to State) { states = append(states, to) },
	})

	exam, err := a.BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.NoError(t, err)

	require.Len(t, exam.Questions, 3)
	assert.Equal(t, "Concurrency in Go", exam.Title)
	assert.Equal(t, []string{"goroutines", "channels", "select", "mutexes"}, exam.SectionIDs)
	single := 0
	for i, q := range exam.Questions {
		assert.Equal(t, generator.TempID(i), q.ID)
		require.NotEmpty(t, q.SourceRefs)
		for _, ref := range q.SourceRefs {
			assert.Contains(t, exam.SectionIDs, ref)
		}
		switch q.Type {
		case model.TypeSingleChoice:
			single++
			assert.Len(t, q.Correct, 1)
		case model.TypeMultipleChoice:
			assert.GreaterOrEqual(t, len(q.Correct), 1)
		}
	}
	assert.Equal(t, 2, single)

	assert.True(t, strings.HasPrefix(exam.ExamID, "ex-"))
	assert.Len(t, exam.ExamID, 3+16)
	assert.Equal(t, fixedNow.Truncate(time.Second), exam.CreatedAt)
	assert.Equal(t, model.Counts{SingleChoice: 2, MultipleChoice: 1}, exam.ConfigUsed.Counts)
	assert.Equal(t, 1, exam.ValidationSummary.AttemptsUsed)
	assert.Equal(t, 3, exam.ValidationSummary.Requested)
	assert.Empty(t, exam.ValidationSummary.Warnings)
	assert.InDelta(t, 0.75, exam.ValidationSummary.SectionCoverage, 1e-9)

	assert.Equal(t, 1, saver.count())
	assert.Equal(t, []State{StateDrafting, StateValidating, StateAssembled}, states)
}

func TestBuildDeterministicWithSeed(t *testing.T) {
	first, err := newAssembler(llm.NewStub(), Options{}).BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.NoError(t, err)
	second, err := newAssembler(llm.NewStub(), Options{}).BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.NoError(t, err)

	assert.Equal(t, first.ExamID, second.ExamID)
	assert.Equal(t, first.Questions, second.Questions)
}

func TestBuildWithoutSeedRandomID(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Seed = nil
	a := newAssembler(llm.NewStub(), Options{})
	first, err := a.BuildMarkdown(context.Background(), lesson, cfg)
	require.NoError(t, err)
	second, err := a.BuildMarkdown(context.Background(), lesson, cfg)
	require.NoError(t, err)

	assert.Len(t, first.ExamID, 3+8)
	assert.NotEqual(t, first.ExamID, second.ExamID)
}

func TestBuildEmptyInput(t *testing.T) {
	saver := &memSaver{}
	a := newAssembler(llm.NewStub(), Options{Saver: saver})

	for _, src := range []string{"", "  \n\n"} {
		exam, err := a.BuildMarkdown(context.Background(), src, scenarioConfig())
		assert.Nil(t, exam)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrBuildFailure)
		var be *model.BuildError
		assert.ErrorAs(t, err, &be)
	}
	assert.Zero(t, saver.count())
}

func TestBuildInvalidConfig(t *testing.T) {
	a := newAssembler(llm.NewStub(), Options{})
	_, err := a.BuildMarkdown(context.Background(), lesson, model.GenerationConfig{
		SingleChoiceCount: model.Ptr(0),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrBuildFailure)
	assert.Contains(t, err.Error(), "at least one count must be positive")
}

func TestBuildRepairsRejectedSlot(t *testing.T) {
	gw := &faultyGateway{stub: llm.NewStub(), broken: func(key string) bool {
		return strings.HasPrefix(key, "slot-001/r0/")
	}}
	var states []State
	a := newAssembler(gw, Options{OnTransition: func(_, to State) { states = append(states, to) }})

	exam, err := a.BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.NoError(t, err)

	assert.Len(t, exam.Questions, 3)
	assert.Equal(t, 2, exam.ValidationSummary.AttemptsUsed)
	assert.Equal(t, 1, exam.ValidationSummary.RejectedCount)
	assert.Empty(t, exam.ValidationSummary.Warnings)
	assert.Equal(t, []State{
		StateDrafting, StateValidating, StateNeedsRepair,
		StateDrafting, StateValidating, StateAssembled,
	}, states)
	for _, q := range exam.Questions {
		assert.NotEqual(t, "Broken?", q.Stem)
	}
}

func TestBuildShortfallWarns(t *testing.T) {
	gw := &faultyGateway{stub: llm.NewStub(), broken: func(key string) bool {
		return strings.HasPrefix(key, "slot-000/")
	}}
	a := newAssembler(gw, Options{MaxRounds: 2})

	exam, err := a.BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.NoError(t, err)

	assert.Len(t, exam.Questions, 2)
	assert.Equal(t, "q-001", exam.Questions[0].ID)
	assert.Equal(t, 3, exam.ValidationSummary.AttemptsUsed)
	assert.Equal(t, 3, exam.ValidationSummary.RejectedCount)
	require.NotEmpty(t, exam.ValidationSummary.Warnings)
	assert.Contains(t, exam.ValidationSummary.Warnings[0], "2 of 3")
}

func TestBuildZeroSurvivorsFails(t *testing.T) {
	saver := &memSaver{}
	gw := &faultyGateway{stub: llm.NewStub(), broken: func(string) bool { return true }}
	a := newAssembler(gw, Options{Saver: saver, MaxRounds: 1})

	exam, err := a.BuildMarkdown(context.Background(), lesson, scenarioConfig())
	assert.Nil(t, exam)
	assert.ErrorIs(t, err, model.ErrBuildFailure)
	assert.Zero(t, saver.count())
}

func TestBuildGenerationFailuresInBuildError(t *testing.T) {
	gw := &errGateway{err: errors.New("upstream exploded")}
	a := newAssembler(gw, Options{MaxRounds: -1})

	_, err := a.BuildMarkdown(context.Background(), lesson, scenarioConfig())
	require.ErrorIs(t, err, model.ErrBuildFailure)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	var gf *model.GenerationFailure
	assert.ErrorAs(t, err, &gf)
}

func TestBuildCancelled(t *testing.T) {
	saver := &memSaver{}
	a := newAssembler(llm.NewStub(), Options{Saver: saver})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exam, err := a.BuildMarkdown(ctx, lesson, scenarioConfig())
	assert.Nil(t, exam)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, saver.count())
}

func TestExamIDStable(t *testing.T) {
	doc := model.Document{Sections: []model.Section{{ID: "a", Text: "alpha"}}}
	rc := model.ResolvedConfig{Seed: model.Ptr[int64](1), TotalQuestions: 3}
	qs := []model.Question{{ID: "q-001", Type: model.TypeSingleChoice, Stem: "Alpha?"}}
	assert.Equal(t, ExamID(doc, rc, qs), ExamID(doc, rc, qs))

	other := rc
	other.Seed = model.Ptr[int64](2)
	assert.NotEqual(t, ExamID(doc, rc, qs), ExamID(doc, other, qs))

	reworded := []model.Question{{ID: "q-001", Type: model.TypeSingleChoice, Stem: "Beta?"}}
	assert.NotEqual(t, ExamID(doc, rc, qs), ExamID(doc, rc, reworded))
}

// scriptedGateway answers prompts for which reply returns true and defers to
// the stub otherwise.
type scriptedGateway struct {
	stub  *llm.StubGateway
	reply func(key string) (string, bool)
}

func (s *scriptedGateway) Name() string { return "test/scripted" }

func (s *scriptedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.stub.Embed(ctx, text)
}

func (s *scriptedGateway) Complete(ctx context.Context, p llm.Prompt, hint llm.SchemaHint) (string, error) {
	if out, ok := s.reply(p.Key); ok {
		return out, nil
	}
	return s.stub.Complete(ctx, p, hint)
}

func fixedStem(stem string) *scriptedGateway {
	return &scriptedGateway{stub: llm.NewStub(), reply: func(key string) (string, bool) {
		n := strings.TrimPrefix(strings.SplitN(key, "/", 2)[0], "slot-")
		return `{"stem":"` + stem + ` ` + n + `?","options":["goroutines","mutexes","channels"],"correct":[1]}`, true
	}}
}

func TestBuildSeededIDFollowsQuestions(t *testing.T) {
	cfg := model.GenerationConfig{SingleChoiceCount: model.Ptr(2), Seed: model.Ptr[int64](7)}

	first, err := newAssembler(fixedStem("FIRST"), Options{}).BuildMarkdown(context.Background(), lesson, cfg)
	require.NoError(t, err)
	again, err := newAssembler(fixedStem("FIRST"), Options{}).BuildMarkdown(context.Background(), lesson, cfg)
	require.NoError(t, err)
	second, err := newAssembler(fixedStem("SECOND"), Options{}).BuildMarkdown(context.Background(), lesson, cfg)
	require.NoError(t, err)

	assert.Equal(t, first.ExamID, again.ExamID)
	assert.NotEqual(t, first.ExamID, second.ExamID, "different questions under one seed must not share an id")
}

func TestBuildKeepsEarlierRoundOverDuplicateReplacement(t *testing.T) {
	const stem = "Which primitive guards shared memory in Go?"
	gw := &scriptedGateway{stub: llm.NewStub(), reply: func(key string) (string, bool) {
		switch {
		case strings.HasPrefix(key, "slot-000/r0/"):
			return `{"stem":"Broken?","options":["only","two"],"correct":[0]}`, true
		case strings.HasPrefix(key, "slot-001/"):
			return `{"stem":"` + stem + `","options":["goroutines","mutexes","channels"],"correct":[1]}`, true
		case strings.HasPrefix(key, "slot-000/"):
			return `{"stem":"` + stem + `","options":["goroutines","mutexes","REPLACEMENT"],"correct":[1]}`, true
		}
		return "", false
	}}
	gen := generator.New(gw, generator.Options{Policy: retry.Policy{MaxAttempts: 1, Timeout: -1}})
	val := validator.New(validator.Options{DuplicatesHard: true})
	a := New(gen, val, Options{MaxRounds: 1, Now: func() time.Time { return fixedNow }})

	exam, err := a.BuildMarkdown(context.Background(), lesson, model.GenerationConfig{
		SingleChoiceCount: model.Ptr(2),
		Seed:              model.Ptr[int64](7),
	})
	require.NoError(t, err)

	require.Len(t, exam.Questions, 1)
	assert.Equal(t, stem, exam.Questions[0].Stem)
	assert.Equal(t, []string{"goroutines", "mutexes", "channels"}, exam.Questions[0].Options)
	assert.Equal(t, 2, exam.ValidationSummary.RejectedCount)
	assert.Equal(t, 2, exam.ValidationSummary.AttemptsUsed)
}

type errGateway struct{ err error }

func (e *errGateway) Name() string { return "test/err" }

func (e *errGateway) Embed(context.Context, string) ([]float32, error) { return nil, e.err }

func (e *errGateway) Complete(context.Context, llm.Prompt, llm.SchemaHint) (string, error) {
	return "", e.err
}
