package model

import (
	"strings"
	"time"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	// DifficultyMixed asks the generator to spread questions across the three levels.
	DifficultyMixed Difficulty = "mixed"
)

// Levels lists the concrete difficulty levels in ascending order.
var Levels = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// QuestionType is the tagged variant of a question.
type QuestionType string

const (
	TypeSingleChoice   QuestionType = "single_choice"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeOpenEnded      QuestionType = "open_ended"
)

// IsChoice reports whether answers to this type are option indices.
func (t QuestionType) IsChoice() bool {
	return t == TypeSingleChoice || t == TypeMultipleChoice
}

// Section is a titled unit of source content. Sections are immutable once
// ingested; ID is unique within a document and OrderIndex is monotonic.
type Section struct {
	ID          string   `json:"id"`
	HeadingPath []string `json:"heading_path"`
	Text        string   `json:"text"`
	OrderIndex  int      `json:"order_index"`
}

// Heading returns the innermost heading of the section, or "" for untitled content.
func (s Section) Heading() string {
	if len(s.HeadingPath) == 0 {
		return ""
	}
	return s.HeadingPath[len(s.HeadingPath)-1]
}

// Document is parsed source material: an ordered list of sections.
type Document struct {
	Title    string    `json:"title,omitempty"`
	Sections []Section `json:"sections"`
}

// SectionByID looks up a section by its identifier.
func (d Document) SectionByID(id string) (Section, bool) {
	for _, s := range d.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// IDs returns the section identifiers in document order.
func (d Document) IDs() []string {
	ids := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		ids = append(ids, s.ID)
	}
	return ids
}

// QuestionMeta carries descriptive metadata for a question.
type QuestionMeta struct {
	Difficulty Difficulty `json:"difficulty"`
	Tags       []string   `json:"tags,omitempty"`
}

// Question is a single exam question.
//
// Options and Correct are set for choice types only; ReferenceAnswer and
// Rubric are set for open-ended questions only.
type Question struct {
	ID              string       `json:"id"`
	Type            QuestionType `json:"type"`
	Stem            string       `json:"stem"`
	Options         []string     `json:"options,omitempty"`
	Correct         []int        `json:"correct,omitempty"`
	ReferenceAnswer string       `json:"reference_answer,omitempty"`
	Rubric          []string     `json:"rubric,omitempty"`
	SourceRefs      []string     `json:"source_refs"`
	Meta            QuestionMeta `json:"meta"`
}

// Option-count bounds for choice questions.
const (
	MinOptions = 3
	MaxOptions = 5
)

// CheckStructure lists violations of the structural invariants of a question.
// An empty result means the question is structurally sound. Source references
// are not checked here because they need the originating document.
func (q Question) CheckStructure() []string {
	var problems []string
	if strings.TrimSpace(q.Stem) == "" {
		problems = append(problems, "empty stem")
	}

	switch q.Type {
	case TypeSingleChoice, TypeMultipleChoice:
		if n := len(q.Options); n < MinOptions || n > MaxOptions {
			problems = append(problems, "option count must be between 3 and 5")
		}
		seen := make(map[string]bool, len(q.Options))
		for _, opt := range q.Options {
			key := strings.ToLower(strings.TrimSpace(opt))
			if key == "" {
				problems = append(problems, "empty option")
				continue
			}
			if seen[key] {
				problems = append(problems, "duplicate option "+`"`+opt+`"`)
			}
			seen[key] = true
		}
		picked := make(map[int]bool, len(q.Correct))
		for _, idx := range q.Correct {
			if idx < 0 || idx >= len(q.Options) {
				problems = append(problems, "correct index out of range")
				continue
			}
			if picked[idx] {
				problems = append(problems, "duplicate correct index")
			}
			picked[idx] = true
		}
		if q.Type == TypeSingleChoice && len(q.Correct) != 1 {
			problems = append(problems, "single_choice needs exactly one correct index")
		}
		if q.Type == TypeMultipleChoice && len(q.Correct) < 1 {
			problems = append(problems, "multiple_choice needs at least one correct index")
		}
		if q.ReferenceAnswer != "" || len(q.Rubric) > 0 {
			problems = append(problems, "reference answer and rubric are only valid for open_ended")
		}
	case TypeOpenEnded:
		if len(q.Options) > 0 || len(q.Correct) > 0 {
			problems = append(problems, "open_ended must not carry options")
		}
		if strings.TrimSpace(q.ReferenceAnswer) == "" {
			problems = append(problems, "open_ended needs a reference answer")
		}
		if len(q.Rubric) == 0 {
			problems = append(problems, "open_ended needs a rubric")
		}
		for _, c := range q.Rubric {
			if strings.TrimSpace(c) == "" {
				problems = append(problems, "empty rubric criterion")
				break
			}
		}
	default:
		problems = append(problems, "unknown question type "+string(q.Type))
	}
	return problems
}

// AllOptionsCorrect reports a multiple-choice question without distractors.
func (q Question) AllOptionsCorrect() bool {
	return q.Type == TypeMultipleChoice && len(q.Options) > 0 && len(q.Correct) >= len(q.Options)
}

// Severity separates blocking validation issues from advisory ones.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Issue is a single validation finding.
type Issue struct {
	QuestionID string   `json:"question_id"`
	Check      string   `json:"check"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
}

// ValidationSummary is attached to every assembled exam.
type ValidationSummary struct {
	GroundedRatio   float64  `json:"grounded_ratio"`
	SectionCoverage float64  `json:"section_coverage"`
	DuplicateCount  int      `json:"duplicate_count"`
	AttemptsUsed    int      `json:"attempts_used"`
	Requested       int      `json:"requested"`
	RejectedCount   int      `json:"rejected_count"`
	Warnings        []string `json:"warnings,omitempty"`
	SoftIssues      []Issue  `json:"soft_issues,omitempty"`
}

// Exam is the finished, immutable artifact produced by the assembler.
type Exam struct {
	ExamID            string            `json:"exam_id"`
	Title             string            `json:"title,omitempty"`
	Questions         []Question        `json:"questions"`
	ConfigUsed        ResolvedConfig    `json:"config_used"`
	ValidationSummary ValidationSummary `json:"validation_summary"`
	SectionIDs        []string          `json:"section_ids"`
	CreatedAt         time.Time         `json:"created_at"`
}

// QuestionByID looks up a question in the exam.
func (e *Exam) QuestionByID(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
