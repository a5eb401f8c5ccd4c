package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/examgen/internal/model"
)

func TestGenerationConfigFlags(t *testing.T) {
	cmd := generateCmd()
	for name, val := range map[string]string{
		"single":     "3",
		"open":       "0",
		"seed":       "42",
		"difficulty": "hard",
		"lang":       "ru",
	} {
		if err := cmd.Flags().Set(name, val); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	cfg, err := generationConfig(cmd, viperForCmd(cmd))
	if err != nil {
		t.Fatalf("generationConfig: %v", err)
	}
	if cfg.SingleChoiceCount == nil || *cfg.SingleChoiceCount != 3 {
		t.Errorf("single count = %v, want 3", cfg.SingleChoiceCount)
	}
	if cfg.OpenEndedCount == nil || *cfg.OpenEndedCount != 0 {
		t.Errorf("open count = %v, want explicit 0", cfg.OpenEndedCount)
	}
	if cfg.MultipleChoiceCount != nil {
		t.Errorf("multiple count should stay unset, got %d", *cfg.MultipleChoiceCount)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("seed = %v, want 42", cfg.Seed)
	}
	if cfg.Difficulty != model.DifficultyHard {
		t.Errorf("difficulty = %q", cfg.Difficulty)
	}
	if cfg.Language != "ru" {
		t.Errorf("language = %q, want ru from --lang", cfg.Language)
	}
}

func TestGenerationConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.yaml")
	body := "total_questions: 12\nopen_ended_ratio: 0.5\nlanguage: en\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := generateCmd()
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("total", "8"); err != nil {
		t.Fatal(err)
	}
	cfg, err := generationConfig(cmd, viperForCmd(cmd))
	if err != nil {
		t.Fatalf("generationConfig: %v", err)
	}
	if cfg.TotalQuestions != 8 {
		t.Errorf("flag should override file: total = %d", cfg.TotalQuestions)
	}
	if cfg.OpenEndedRatio == nil || *cfg.OpenEndedRatio != 0.5 {
		t.Errorf("open ratio = %v, want 0.5", cfg.OpenEndedRatio)
	}
	if cfg.PromptVariant != model.PromptDefault {
		t.Errorf("prompt variant = %q", cfg.PromptVariant)
	}
}

func TestParseAnswers(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		examID  string
		answers int
	}{
		{"request", `{"exam_id":"ex-1","answers":[{"question_id":"q-001","choice":[1]}]}`, "ex-1", 1},
		{"bare list", `[{"question_id":"q-001"},{"question_id":"q-002","text_answer":"x"}]`, "", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseAnswers([]byte(tt.body))
			if err != nil {
				t.Fatalf("parseAnswers: %v", err)
			}
			if req.ExamID != tt.examID || len(req.Answers) != tt.answers {
				t.Errorf("got exam %q with %d answers", req.ExamID, len(req.Answers))
			}
		})
	}
	if _, err := parseAnswers([]byte("nope")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestCompareSharesGenerationFlags(t *testing.T) {
	cmd := compareCmd()
	for name, val := range map[string]string{"multiple": "2", "variants": "default,concise"} {
		if err := cmd.Flags().Set(name, val); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	v := viperForCmd(cmd)
	cfg, err := generationConfig(cmd, v)
	if err != nil {
		t.Fatalf("generationConfig: %v", err)
	}
	if cfg.MultipleChoiceCount == nil || *cfg.MultipleChoiceCount != 2 {
		t.Errorf("multiple count = %v, want 2", cfg.MultipleChoiceCount)
	}
	if got := v.GetStringSlice("variants"); len(got) != 2 || got[1] != "concise" {
		t.Errorf("variants = %v", got)
	}
}
