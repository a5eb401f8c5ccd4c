package model

import "time"

// ExamExport is the top-level structure for exam result export.
type ExamExport struct {
	ExamID       string          `json:"exam_id"`
	Title        string          `json:"title,omitempty"`
	ExportedAt   time.Time       `json:"exported_at"`
	NumQuestions int             `json:"num_questions"`
	Exam         *Exam           `json:"exam"`
	Results      []GradeResponse `json:"results"`
	MeanScore    float64         `json:"mean_score"`
}
