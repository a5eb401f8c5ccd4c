package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AnswerSubmission is one submitted answer. Choice is used for choice
// questions; TextAnswer for open-ended ones.
type AnswerSubmission struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Choice     []int   `json:"choice,omitempty"`
	TextAnswer *string `json:"text_answer,omitempty"`
}

// GradeRequest is a set of answers against a stored exam.
type GradeRequest struct {
	ExamID  string             `json:"exam_id" validate:"required"`
	Answers []AnswerSubmission `json:"answers" validate:"dive"`
}

// Validate checks required fields of the request and its answers.
func (r GradeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid request field %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("validate request: %w", err)
	}
	return nil
}

// GradeSummary aggregates per-question results.
type GradeSummary struct {
	Total        int     `json:"total"`
	CorrectCount int     `json:"correct_count"`
	ScorePercent float64 `json:"score_percent"`
}

// AnswerMetrics are heuristic signals computed for open-ended answers.
type AnswerMetrics struct {
	RubricCoverage   float64 `json:"rubric_coverage"`
	ReferenceOverlap float64 `json:"reference_overlap"`
	AnswerLength     int     `json:"answer_length"`
}

// QuestionResult is the graded outcome of a single question.
type QuestionResult struct {
	QuestionID    string         `json:"question_id"`
	Type          QuestionType   `json:"type"`
	IsCorrect     bool           `json:"is_correct"`
	PartialCredit float64        `json:"partial_credit"`
	Given         []int          `json:"given,omitempty"`
	GivenText     string         `json:"given_text,omitempty"`
	Expected      []int          `json:"expected,omitempty"`
	ExpectedText  string         `json:"expected_text,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	RubricScores  []float64      `json:"rubric_scores,omitempty"`
	Metrics       *AnswerMetrics `json:"metrics,omitempty"`
}

// GradeResponse is the immutable grading artifact for one submission.
type GradeResponse struct {
	ExamID       string           `json:"exam_id"`
	SubmissionID string           `json:"submission_id"`
	Summary      GradeSummary     `json:"summary"`
	PerQuestion  []QuestionResult `json:"per_question"`
	GradedAt     time.Time        `json:"graded_at"`
}
