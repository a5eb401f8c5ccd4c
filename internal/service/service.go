// Package service wires ingestion, generation, validation, assembly,
// grading and storage behind the operations exposed by the CLI and the HTTP
// API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/examgen/internal/assembler"
	"github.com/pavelanni/examgen/internal/generator"
	"github.com/pavelanni/examgen/internal/grader"
	"github.com/pavelanni/examgen/internal/ingest"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
	"github.com/pavelanni/examgen/internal/validator"
)

// ErrInvalidRequest marks caller mistakes: bad config or malformed answers.
var ErrInvalidRequest = errors.New("invalid request")

// Config holds the tunables of every pipeline stage.
type Config struct {
	// LLM carries provider credentials. Provider and Model name the default
	// gateway used when a request does not pick one.
	LLM       llm.Config
	Generator generator.Options
	Validator validator.Options
	MaxRounds int
	Ratios    model.RatioDefaults
	Grader    grader.Options
	// Now stamps exams, grades and exports; defaults to time.Now.
	Now func() time.Time
}

// Service runs exam builds and gradings against a store.
type Service struct {
	store store.Store
	cfg   Config

	mu       sync.Mutex
	gateways map[string]llm.Gateway
}

// New creates a service. gw serves the default provider named in
// cfg.LLM; other providers are created on first use.
func New(st store.Store, gw llm.Gateway, cfg Config) *Service {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.ProviderLocal
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Grader.Now == nil {
		cfg.Grader.Now = cfg.Now
	}
	return &Service{
		store:    st,
		cfg:      cfg,
		gateways: map[string]llm.Gateway{gatewayKey(cfg.LLM.Provider, cfg.LLM.Model): gw},
	}
}

// Store returns the backing store.
func (s *Service) Store() store.Store { return s.store }

func gatewayKey(provider, modelName string) string {
	return provider + "/" + modelName
}

// gateway returns the gateway for provider and model, creating and caching
// it when needed. An empty model on the default provider means the default
// gateway.
func (s *Service) gateway(provider, modelName string) (llm.Gateway, error) {
	if provider == s.cfg.LLM.Provider && modelName == "" {
		modelName = s.cfg.LLM.Model
	}
	key := gatewayKey(provider, modelName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gw, ok := s.gateways[key]; ok {
		return gw, nil
	}
	lc := s.cfg.LLM
	lc.Provider = provider
	lc.Model = modelName
	gw, err := llm.New(lc)
	if err != nil {
		return nil, err
	}
	slog.Info("created LLM gateway", "name", gw.Name())
	s.gateways[key] = gw
	return gw, nil
}

// Generate builds an exam from markdown and stores it. Config errors wrap
// ErrInvalidRequest; unrecoverable builds wrap model.ErrBuildFailure.
func (s *Service) Generate(ctx context.Context, markdown string, cfg model.GenerationConfig) (*model.Exam, error) {
	cfg, gw, err := s.prepare(cfg)
	if err != nil {
		return nil, err
	}
	exam, err := s.newAssembler(gw, cfg, s.store).Build(ctx, ingest.Parse(markdown), cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("exam generated",
		"exam_id", exam.ExamID,
		"questions", len(exam.Questions),
		"requested", exam.ValidationSummary.Requested,
		"rounds", exam.ValidationSummary.AttemptsUsed,
	)
	return exam, nil
}

// prepare fills the default provider, checks cfg, and picks its gateway.
func (s *Service) prepare(cfg model.GenerationConfig) (model.GenerationConfig, llm.Gateway, error) {
	if cfg.Provider == "" {
		cfg.Provider = s.cfg.LLM.Provider
	}
	if _, err := cfg.Resolve(s.ratios()); err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	gw, err := s.gateway(cfg.Provider, cfg.ModelName)
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return cfg, gw, nil
}

// newAssembler wires a build for cfg. A nil saver leaves the exam unsaved.
func (s *Service) newAssembler(gw llm.Gateway, cfg model.GenerationConfig, saver assembler.Saver) *assembler.Assembler {
	vopts := s.cfg.Validator
	vopts.Strict = vopts.Strict || cfg.Strict
	return assembler.New(generator.New(gw, s.cfg.Generator), validator.New(vopts), assembler.Options{
		MaxRounds: s.cfg.MaxRounds,
		Ratios:    s.cfg.Ratios,
		Saver:     saver,
		Now:       s.cfg.Now,
	})
}

func (s *Service) ratios() model.RatioDefaults {
	if s.cfg.Ratios == (model.RatioDefaults{}) {
		return model.DefaultRatios
	}
	return s.cfg.Ratios
}

// Exam loads a stored exam.
func (s *Service) Exam(ctx context.Context, id string) (*model.Exam, error) {
	return s.store.LoadExam(ctx, id)
}

// Exams lists stored exams.
func (s *Service) Exams(ctx context.Context) ([]store.ExamInfo, error) {
	return s.store.ListExams(ctx)
}

// Grades lists the recorded grades of an exam.
func (s *Service) Grades(ctx context.Context, examID string) ([]model.GradeResponse, error) {
	if _, err := s.store.LoadExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.store.ListGrades(ctx, examID)
}

// Grade scores a submission against its stored exam and records the result.
func (s *Service) Grade(ctx context.Context, req model.GradeRequest) (*model.GradeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	exam, err := s.store.LoadExam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	g, err := s.grader(exam)
	if err != nil {
		return nil, err
	}
	resp, err := g.Grade(ctx, exam, req.Answers)
	if err != nil {
		return nil, err
	}
	key, err := s.store.SaveGrade(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("save grade: %w", err)
	}
	slog.Info("submission graded", "exam_id", exam.ExamID, "grade", key, "summary", grader.FormatSummary(resp.Summary))
	return resp, nil
}

// grader uses the provider the exam was generated with.
func (s *Service) grader(exam *model.Exam) (*grader.Grader, error) {
	provider := exam.ConfigUsed.Provider
	if provider == "" {
		provider = s.cfg.LLM.Provider
	}
	gw, err := s.gateway(provider, exam.ConfigUsed.ModelName)
	if err != nil {
		return nil, fmt.Errorf("grading gateway: %w", err)
	}
	return grader.New(gw, s.cfg.Grader), nil
}

// Quality scores the question set of a stored exam.
func (s *Service) Quality(ctx context.Context, examID string) (validator.Quality, error) {
	exam, err := s.store.LoadExam(ctx, examID)
	if err != nil {
		return validator.Quality{}, err
	}
	return validator.EvaluateQuality(exam.Questions), nil
}

// ConsistencyReport compares repeated gradings of one submission.
type ConsistencyReport struct {
	ExamID string              `json:"exam_id"`
	Runs   []grader.ScoreStats `json:"runs"`
	// Reliability is the mean agreement of each run with the first.
	Reliability float64 `json:"reliability"`
}

// Consistency grades the same answers runs times without recording the
// results and reports how much the scores move between runs.
func (s *Service) Consistency(ctx context.Context, req model.GradeRequest, runs int) (*ConsistencyReport, error) {
	if runs < 2 {
		return nil, fmt.Errorf("%w: consistency needs at least 2 runs, got %d", ErrInvalidRequest, runs)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	exam, err := s.store.LoadExam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}
	g, err := s.grader(exam)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{ExamID: exam.ExamID}
	var first []model.QuestionResult
	var agreement float64
	for i := range runs {
		resp, err := g.Grade(ctx, exam, req.Answers)
		if err != nil {
			return nil, err
		}
		report.Runs = append(report.Runs, grader.Stats(resp.PerQuestion))
		if i == 0 {
			first = resp.PerQuestion
			continue
		}
		agreement += grader.Reliability(first, resp.PerQuestion)
	}
	report.Reliability = model.Round(agreement/float64(runs-1), 4)
	return report, nil
}

// Export builds the export document of an exam and its grades.
func (s *Service) Export(ctx context.Context, examID string) (*model.ExamExport, error) {
	return store.Export(ctx, s.store, examID, s.cfg.Now())
}
