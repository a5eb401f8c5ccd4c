package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examgen/internal/model"
)

// Export formats accepted by WriteExport.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Export builds the export document for one exam and every grade recorded
// against it.
func Export(ctx context.Context, s Store, examID string, now time.Time) (*model.ExamExport, error) {
	exam, err := s.LoadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	grades, err := s.ListGrades(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list grades of %s: %w", examID, err)
	}

	var mean float64
	for _, g := range grades {
		mean += g.Summary.ScorePercent
	}
	if len(grades) > 0 {
		mean = model.Round(mean/float64(len(grades)), 2)
	}
	if grades == nil {
		grades = []model.GradeResponse{}
	}

	return &model.ExamExport{
		ExamID:       exam.ExamID,
		Title:        exam.Title,
		ExportedAt:   now.UTC().Truncate(time.Second),
		NumQuestions: len(exam.Questions),
		Exam:         exam,
		Results:      grades,
		MeanScore:    mean,
	}, nil
}

// WriteExport encodes exp as JSON or YAML. YAML keys follow the JSON field
// names.
func WriteExport(w io.Writer, exp *model.ExamExport, format string) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exp)
	case FormatYAML, "yml":
		body, err := json.Marshal(exp)
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
