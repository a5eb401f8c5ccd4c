package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCountsOverrideRatios(t *testing.T) {
	cfg := GenerationConfig{
		SingleChoiceCount:   Ptr(7),
		MultipleChoiceCount: Ptr(2),
		OpenEndedCount:      Ptr(1),
		SingleChoiceRatio:   Ptr(0.1),
		TotalQuestions:      50,
	}
	rc, err := cfg.Resolve(DefaultRatios)
	require.NoError(t, err)

	assert.Equal(t, SourceCounts, rc.Source)
	assert.Equal(t, Counts{SingleChoice: 7, MultipleChoice: 2, OpenEnded: 1}, rc.Counts)
	assert.Equal(t, 10, rc.TotalQuestions)
	assert.InDelta(t, 0.7, rc.Ratios.SingleChoice, 1e-9)
	assert.InDelta(t, 0.2, rc.Ratios.MultipleChoice, 1e-9)
	assert.InDelta(t, 0.1, rc.Ratios.OpenEnded, 1e-9)
}

func TestResolveMissingCountsAreZero(t *testing.T) {
	rc, err := GenerationConfig{SingleChoiceCount: Ptr(2), MultipleChoiceCount: Ptr(1)}.Resolve(DefaultRatios)
	require.NoError(t, err)
	assert.Equal(t, 0, rc.Counts.OpenEnded)
	assert.Equal(t, 3, rc.TotalQuestions)
}

func TestResolveRatios(t *testing.T) {
	tests := []struct {
		name  string
		cfg   GenerationConfig
		want  Ratios
		wantN int
	}{
		{
			name:  "defaults",
			cfg:   GenerationConfig{},
			want:  Ratios{SingleChoice: 0.5, MultipleChoice: 0.3, OpenEnded: 0.2},
			wantN: DefaultTotalQuestions,
		},
		{
			name:  "normalized",
			cfg:   GenerationConfig{SingleChoiceRatio: Ptr(2.0), MultipleChoiceRatio: Ptr(1.0), OpenEndedRatio: Ptr(1.0), TotalQuestions: 8},
			want:  Ratios{SingleChoice: 0.5, MultipleChoice: 0.25, OpenEnded: 0.25},
			wantN: 8,
		},
		{
			name:  "omitted ratio takes baseline",
			cfg:   GenerationConfig{OpenEndedRatio: Ptr(0.0), TotalQuestions: 16},
			want:  Ratios{SingleChoice: 0.625, MultipleChoice: 0.375, OpenEnded: 0},
			wantN: 16,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := tt.cfg.Resolve(DefaultRatios)
			require.NoError(t, err)
			assert.Equal(t, SourceRatios, rc.Source)
			assert.Equal(t, tt.wantN, rc.TotalQuestions)
			assert.InDelta(t, tt.want.SingleChoice, rc.Ratios.SingleChoice, 1e-9)
			assert.InDelta(t, tt.want.MultipleChoice, rc.Ratios.MultipleChoice, 1e-9)
			assert.InDelta(t, tt.want.OpenEnded, rc.Ratios.OpenEnded, 1e-9)
			sum := rc.Ratios.SingleChoice + rc.Ratios.MultipleChoice + rc.Ratios.OpenEnded
			assert.InDelta(t, 1.0, sum, 1e-9)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GenerationConfig
		wantMsg string
	}{
		{"all counts zero", GenerationConfig{SingleChoiceCount: Ptr(0), OpenEndedCount: Ptr(0)}, "at least one count must be positive"},
		{"negative count", GenerationConfig{SingleChoiceCount: Ptr(-1)}, "SingleChoiceCount"},
		{"too many", GenerationConfig{SingleChoiceCount: Ptr(90), OpenEndedCount: Ptr(20)}, "exceeds limit"},
		{"zero ratios", GenerationConfig{SingleChoiceRatio: Ptr(0.0), MultipleChoiceRatio: Ptr(0.0), OpenEndedRatio: Ptr(0.0)}, "positive"},
		{"bad language", GenerationConfig{Language: "de"}, "Language"},
		{"bad difficulty", GenerationConfig{Difficulty: "extreme"}, "Difficulty"},
		{"total out of range", GenerationConfig{TotalQuestions: 101}, "TotalQuestions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Resolve(DefaultRatios)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestResolveFillsDefaults(t *testing.T) {
	rc, err := GenerationConfig{}.Resolve(DefaultRatios)
	require.NoError(t, err)
	assert.Equal(t, DifficultyMedium, rc.Difficulty)
	assert.Equal(t, "en", rc.Language)
	assert.Equal(t, "local", rc.Provider)
	assert.Equal(t, PromptDefault, rc.PromptVariant)
	assert.Nil(t, rc.Seed)
}

func TestBuildErrorIs(t *testing.T) {
	cause := errors.New("no sections")
	err := error(&BuildError{Reason: "empty input", Err: cause})
	assert.ErrorIs(t, err, ErrBuildFailure)
	assert.ErrorIs(t, err, cause)

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "empty input", be.Reason)
}

func TestCheckStructure(t *testing.T) {
	base := Question{
		ID:         "q-001",
		Type:       TypeSingleChoice,
		Stem:       "Which planet is closest to the sun?",
		Options:    []string{"Mercury", "Venus", "Earth"},
		Correct:    []int{0},
		SourceRefs: []string{"planets"},
	}
	tests := []struct {
		name   string
		mutate func(q *Question)
		ok     bool
	}{
		{"valid single", func(q *Question) {}, true},
		{"two options", func(q *Question) { q.Options = q.Options[:2] }, false},
		{"six options", func(q *Question) { q.Options = []string{"a", "b", "c", "d", "e", "f"} }, false},
		{"empty option", func(q *Question) { q.Options[1] = "  " }, false},
		{"duplicate option", func(q *Question) { q.Options[2] = "mercury" }, false},
		{"index out of range", func(q *Question) { q.Correct = []int{3} }, false},
		{"two correct on single", func(q *Question) { q.Correct = []int{0, 1} }, false},
		{"empty stem", func(q *Question) { q.Stem = "" }, false},
		{"multiple ok", func(q *Question) { q.Type = TypeMultipleChoice; q.Correct = []int{0, 2} }, true},
		{"multiple none", func(q *Question) { q.Type = TypeMultipleChoice; q.Correct = nil }, false},
		{"multiple duplicate index", func(q *Question) { q.Type = TypeMultipleChoice; q.Correct = []int{1, 1} }, false},
		{"choice with rubric", func(q *Question) { q.Rubric = []string{"x"} }, false},
		{"open ended ok", func(q *Question) {
			q.Type = TypeOpenEnded
			q.Options, q.Correct = nil, nil
			q.ReferenceAnswer = "Mercury"
			q.Rubric = []string{"names Mercury"}
		}, true},
		{"open ended with options", func(q *Question) {
			q.Type = TypeOpenEnded
			q.ReferenceAnswer = "Mercury"
			q.Rubric = []string{"names Mercury"}
		}, false},
		{"open ended no rubric", func(q *Question) {
			q.Type = TypeOpenEnded
			q.Options, q.Correct = nil, nil
			q.ReferenceAnswer = "Mercury"
		}, false},
		{"unknown type", func(q *Question) { q.Type = "essay" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base
			q.Options = append([]string(nil), base.Options...)
			q.Correct = append([]int(nil), base.Correct...)
			tt.mutate(&q)
			problems := q.CheckStructure()
			if tt.ok {
				assert.Empty(t, problems)
			} else {
				assert.NotEmpty(t, problems)
			}
		})
	}
}

func TestAllOptionsCorrect(t *testing.T) {
	q := Question{Type: TypeMultipleChoice, Options: []string{"a", "b", "c"}, Correct: []int{0, 1, 2}}
	assert.True(t, q.AllOptionsCorrect())
	q.Correct = []int{0, 1}
	assert.False(t, q.AllOptionsCorrect())
}

func TestGradeRequestValidate(t *testing.T) {
	assert.NoError(t, GradeRequest{ExamID: "ex-1", Answers: []AnswerSubmission{{QuestionID: "q-001"}}}.Validate())
	assert.NoError(t, GradeRequest{ExamID: "ex-1"}.Validate())

	err := GradeRequest{Answers: []AnswerSubmission{{QuestionID: "q-001"}}}.Validate()
	assert.ErrorContains(t, err, "ExamID")

	err = GradeRequest{ExamID: "ex-1", Answers: []AnswerSubmission{{Choice: []int{1}}}}.Validate()
	assert.ErrorContains(t, err, "QuestionID")
}
