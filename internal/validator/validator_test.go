package validator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examgen/internal/metrics"
	"github.com/pavelanni/examgen/internal/model"
)

var sections = []model.Section{
	{ID: "channels", HeadingPath: []string{"Channels"}, Text: "Buffered channels queue values until a receiver is ready. Unbuffered channels synchronize."},
	{ID: "mutexes", HeadingPath: []string{"Mutexes"}, Text: "A mutex guards shared memory between goroutines."},
	{ID: "select", HeadingPath: []string{"Select"}, Text: "Select waits on several channel operations."},
}

func choice(id, stem string, refs ...string) model.Question {
	return model.Question{
		ID:         id,
		Type:       model.TypeSingleChoice,
		Stem:       stem,
		Options:    []string{"buffered", "unbuffered", "receiver"},
		Correct:    []int{0},
		SourceRefs: refs,
		Meta:       model.QuestionMeta{Difficulty: model.DifficultyEasy},
	}
}

func TestValidateAcceptsGoodQuestions(t *testing.T) {
	qs := []model.Question{
		choice("q-001", "Which channels queue values until a receiver is ready?", "channels"),
		{
			ID: "q-002", Type: model.TypeOpenEnded,
			Stem:            "Explain what a mutex guards between goroutines.",
			ReferenceAnswer: "Shared memory.",
			Rubric:          []string{"Mentions shared memory", "Mentions goroutines"},
			SourceRefs:      []string{"mutexes"},
		},
	}
	res := New(DefaultOptions()).Validate(qs, sections)

	assert.True(t, res.Passed)
	assert.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Rejected)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1.0, res.Metrics.GroundedRatio)
	assert.InDelta(t, 0.6667, res.Metrics.SectionCoverage, 1e-9)
	assert.Zero(t, res.Metrics.DuplicateCount)
}

func TestValidateStructuralRejects(t *testing.T) {
	tooFew := choice("q-001", "Which channels queue values?", "channels")
	tooFew.Options = tooFew.Options[:2]

	dupOpt := choice("q-002", "Which channels synchronize?", "channels")
	dupOpt.Options = []string{"a", "A ", "b"}

	badIndex := choice("q-003", "Which one is buffered?", "channels")
	badIndex.Correct = []int{5}

	twoCorrect := choice("q-004", "Which single one is unbuffered?", "channels")
	twoCorrect.Correct = []int{0, 1}

	noRubric := model.Question{ID: "q-005", Type: model.TypeOpenEnded, Stem: "Explain buffered channels.",
		ReferenceAnswer: "They queue.", SourceRefs: []string{"channels"}}

	good := choice("q-006", "Which channels queue values until a receiver is ready?", "channels")

	res := New(DefaultOptions()).Validate([]model.Question{tooFew, dupOpt, badIndex, twoCorrect, noRubric, good}, sections)

	assert.False(t, res.Passed)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "q-006", res.Accepted[0].ID)
	require.Len(t, res.Rejected, 5)
	for _, r := range res.Rejected {
		assert.Equal(t, CheckStructure, r.Check)
		assert.NotEmpty(t, r.Problems)
	}
	for _, is := range res.HardIssues() {
		assert.Equal(t, model.SeverityHard, is.Severity)
	}
}

func TestValidateSourceRefs(t *testing.T) {
	res := New(DefaultOptions()).Validate([]model.Question{
		choice("q-001", "Which channels queue values?"),
		choice("q-002", "Which channels queue values today?", "channels", "nowhere"),
	}, sections)

	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, CheckSourceRef, res.Rejected[0].Check)
	assert.Equal(t, []string{"no source references"}, res.Rejected[0].Problems)
	assert.Contains(t, res.Rejected[1].Problems[0], "nowhere")
	assert.Zero(t, res.Metrics.SectionCoverage)
}

func TestValidateDuplicatesSoftByDefault(t *testing.T) {
	qs := []model.Question{
		choice("q-001", "Which channels queue values until a receiver is ready?", "channels"),
		choice("q-002", "which CHANNELS queue values, until a receiver is ready", "channels"),
		choice("q-003", "Buffered channels queue values until which receiver is ready?", "channels"),
	}
	res := New(DefaultOptions()).Validate(qs, sections)

	assert.True(t, res.Passed)
	assert.Len(t, res.Accepted, 3)
	assert.Equal(t, 2, res.Metrics.DuplicateCount)
	soft := res.SoftIssues()
	require.Len(t, soft, 2)
	assert.Equal(t, CheckDuplicate, soft[0].Check)
	assert.Equal(t, "q-002", soft[0].QuestionID)
	assert.Contains(t, soft[0].Message, "q-001")
}

func TestValidateDuplicatesHard(t *testing.T) {
	qs := []model.Question{
		choice("q-001", "Which channels queue values until a receiver is ready?", "channels"),
		choice("q-002", "Which channels queue values until a receiver is ready?", "channels"),
	}
	res := New(Options{DuplicatesHard: true}).Validate(qs, sections)

	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "q-001", res.Accepted[0].ID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, CheckDuplicate, res.Rejected[0].Check)
}

func TestValidateGrounding(t *testing.T) {
	offTopic := choice("q-001", "Who painted the famous portrait hanging in Paris?", "mutexes")
	offTopic.Options = []string{"Leonardo", "Raphael", "Michelangelo"}

	res := New(DefaultOptions()).Validate([]model.Question{offTopic}, sections)
	assert.True(t, res.Passed)
	require.Len(t, res.Accepted, 1)
	assert.Zero(t, res.Metrics.GroundedRatio)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, CheckGrounding, res.Issues[0].Check)
	assert.Equal(t, model.SeveritySoft, res.Issues[0].Severity)

	strict := New(Options{Strict: true}).Validate([]model.Question{offTopic}, sections)
	assert.False(t, strict.Passed)
	assert.Empty(t, strict.Accepted)
	assert.Equal(t, CheckGrounding, strict.Rejected[0].Check)
}

func TestValidateAllCorrectWarning(t *testing.T) {
	q := choice("q-001", "Which words describe buffered channels and receivers?", "channels")
	q.Type = model.TypeMultipleChoice
	q.Correct = []int{0, 1, 2}

	res := New(DefaultOptions()).Validate([]model.Question{q}, sections)
	assert.True(t, res.Passed)
	assert.Len(t, res.Accepted, 1)
	require.NotEmpty(t, res.SoftIssues())
	assert.Equal(t, CheckAllCorrect, res.SoftIssues()[0].Check)
}

func TestGrounding(t *testing.T) {
	index := map[string]model.Section{"channels": sections[0]}
	q := choice("q-001", "Buffered channels queue values?", "channels")
	assert.Equal(t, 1.0, Grounding(q, index))

	q.SourceRefs = []string{"missing"}
	assert.Zero(t, Grounding(q, index))
}

func TestSectionCoverage(t *testing.T) {
	qs := []model.Question{
		choice("q-001", "x", "channels"),
		choice("q-002", "y", "channels", "select"),
	}
	assert.InDelta(t, 0.6667, SectionCoverage(qs, sections), 1e-9)
	assert.Zero(t, SectionCoverage(qs, nil))
}

func TestEvaluateQuality(t *testing.T) {
	assert.Equal(t, 0.0, EvaluateQuality(nil).Overall)

	qs := []model.Question{
		choice("q-001", "Which channels queue values until a receiver is ready?", "channels"),
		choice("q-002", "Too short?", "channels"),
		choice("q-003", "Which one of these words names a synchronizing channel", "channels"),
	}
	qs[1].Meta.Difficulty = model.DifficultyMedium
	qs[2].Meta.Difficulty = model.DifficultyHard

	got := EvaluateQuality(qs)
	assert.Equal(t, 1.0, got.Answerability)
	assert.InDelta(t, 0.3333, got.Coherence, 1e-9)
	assert.Equal(t, 1.0, got.Balance)
	assert.Equal(t, map[model.Difficulty]int{model.DifficultyEasy: 1, model.DifficultyMedium: 1, model.DifficultyHard: 1}, got.Distribution)
	assert.InDelta(t, 0.8, got.Overall, 1e-9)
}

func TestValidateAgainstKeepsAccepted(t *testing.T) {
	accepted := []model.Question{choice("q-002", "Which channels queue values until a receiver is ready?", "channels")}
	candidates := []model.Question{
		choice("q-001", "Which channels queue values until a receiver is ready?", "channels"),
		choice("q-003", "What does a mutex guard between goroutines?", "mutexes"),
	}
	res := New(Options{DuplicatesHard: true}).ValidateAgainst(accepted, candidates, sections)

	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "q-001", res.Rejected[0].QuestionID, "the earlier accepted question wins")
	assert.Contains(t, res.Rejected[0].Problems[0], "q-002")
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "q-003", res.Accepted[0].ID)
	assert.Equal(t, 1, res.Metrics.DuplicateCount)
}

func TestAssessDoesNotCountIssues(t *testing.T) {
	bad := choice("q-001", "Which channels queue values?", "channels")
	bad.Options = bad.Options[:2]
	counter := metrics.ValidationIssues.WithLabelValues(CheckStructure, string(model.SeverityHard))
	v := New(DefaultOptions())

	before := testutil.ToFloat64(counter)
	validated := v.Validate([]model.Question{bad}, sections)
	afterValidate := testutil.ToFloat64(counter)
	assessed := v.Assess([]model.Question{bad}, sections)

	assert.Equal(t, before+1, afterValidate)
	assert.Equal(t, afterValidate, testutil.ToFloat64(counter))
	assert.Equal(t, validated.Issues, assessed.Issues)
	assert.Equal(t, validated.Metrics, assessed.Metrics)
}
