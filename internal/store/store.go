// Package store persists assembled exams and grading results.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/pavelanni/examgen/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an exam does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an exam id is already stored with different
// content. Stored exams are never replaced.
var ErrConflict = errors.New("exam already exists with different content")

// Store keeps exams and the grades recorded against them.
type Store interface {
	// SaveExam stores e under its ExamID and returns that id. Saving an id
	// that is already stored keeps the stored document; it succeeds when the
	// content matches (see sameExam) and fails with ErrConflict otherwise.
	SaveExam(ctx context.Context, e *model.Exam) (string, error)
	LoadExam(ctx context.Context, id string) (*model.Exam, error)
	// SaveGrade appends a grading result to its exam and returns the key
	// "<exam_id>-<n>", where n counts grades of that exam from 1.
	SaveGrade(ctx context.Context, g *model.GradeResponse) (string, error)
	// ListGrades returns grades of an exam in the order they were saved.
	ListGrades(ctx context.Context, examID string) ([]model.GradeResponse, error)
	// ListExams returns a summary of every stored exam, oldest first.
	ListExams(ctx context.Context) ([]ExamInfo, error)
	Close() error
}

// ExamInfo summarizes a stored exam.
type ExamInfo struct {
	ExamID       string    `json:"exam_id"`
	Title        string    `json:"title,omitempty"`
	NumQuestions int       `json:"num_questions"`
	CreatedAt    time.Time `json:"created_at"`
}

func infoOf(e *model.Exam) ExamInfo {
	return ExamInfo{
		ExamID:       e.ExamID,
		Title:        e.Title,
		NumQuestions: len(e.Questions),
		CreatedAt:    e.CreatedAt,
	}
}

// sameExam reports whether two exams carry the same content. CreatedAt and
// the validation summary are ignored so a reproducible rebuild matches the
// stored exam.
func sameExam(a, b *model.Exam) bool {
	type content struct {
		Title      string
		Questions  []model.Question
		ConfigUsed model.ResolvedConfig
		SectionIDs []string
	}
	ja, errA := json.Marshal(content{a.Title, a.Questions, a.ConfigUsed, a.SectionIDs})
	jb, errB := json.Marshal(content{b.Title, b.Questions, b.ConfigUsed, b.SectionIDs})
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// keepExisting decides a save of e over the stored exam.
func keepExisting(stored, e *model.Exam) (string, error) {
	if !sameExam(stored, e) {
		return "", fmt.Errorf("save exam %s: %w", e.ExamID, ErrConflict)
	}
	slog.Debug("exam already stored", "exam_id", e.ExamID)
	return e.ExamID, nil
}

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidExamID reports whether id can name an exam in every backend.
func ValidExamID(id string) bool {
	return validID.MatchString(id)
}

func gradeKey(examID string, n int) string {
	return fmt.Sprintf("%s-%d", examID, n)
}

// SQLiteStore keeps exams and grades as JSON documents in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath. Use ":memory:" for a
// throwaway database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		num_questions INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		submission_id TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		correct_count INTEGER NOT NULL DEFAULT 0,
		score_percent REAL NOT NULL DEFAULT 0,
		graded_at DATETIME NOT NULL,
		body TEXT NOT NULL,
		UNIQUE (exam_id, seq),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveExam inserts an exam document. An existing id is never overwritten.
func (s *SQLiteStore) SaveExam(ctx context.Context, e *model.Exam) (string, error) {
	if e.ExamID == "" {
		return "", errors.New("save exam: empty exam id")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode exam: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT body FROM exams WHERE id = ?`, e.ExamID).Scan(&existing)
	switch {
	case err == nil:
		var stored model.Exam
		if err := json.Unmarshal([]byte(existing), &stored); err != nil {
			return "", fmt.Errorf("decode exam %s: %w", e.ExamID, err)
		}
		return keepExisting(&stored, e)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("query exam %s: %w", e.ExamID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, num_questions, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		e.ExamID, e.Title, len(e.Questions), e.CreatedAt, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert exam %s: %w", e.ExamID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	slog.Debug("saved exam", "exam_id", e.ExamID, "questions", len(e.Questions))
	return e.ExamID, nil
}

// LoadExam returns the exam with the given id or ErrNotFound.
func (s *SQLiteStore) LoadExam(ctx context.Context, id string) (*model.Exam, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM exams WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query exam %s: %w", id, err)
	}
	var e model.Exam
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("decode exam %s: %w", id, err)
	}
	return &e, nil
}

// SaveGrade appends a grade to its exam. The exam must exist.
func (s *SQLiteStore) SaveGrade(ctx context.Context, g *model.GradeResponse) (string, error) {
	body, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encode grade: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE id = ?`, g.ExamID).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check exam %s: %w", g.ExamID, err)
	}
	if exists == 0 {
		return "", fmt.Errorf("exam %s: %w", g.ExamID, ErrNotFound)
	}

	var seq int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM grades WHERE exam_id = ?`, g.ExamID).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next grade seq: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO grades (exam_id, seq, submission_id, total, correct_count, score_percent, graded_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ExamID, seq, g.SubmissionID, g.Summary.Total, g.Summary.CorrectCount, g.Summary.ScorePercent, g.GradedAt, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert grade: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return gradeKey(g.ExamID, seq), nil
}

// ListGrades returns the grades of an exam ordered by seq.
func (s *SQLiteStore) ListGrades(ctx context.Context, examID string) ([]model.GradeResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM grades WHERE exam_id = ? ORDER BY seq`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grades []model.GradeResponse
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var g model.GradeResponse
		if err := json.Unmarshal([]byte(body), &g); err != nil {
			return nil, fmt.Errorf("decode grade: %w", err)
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// ListExams returns exam summaries ordered by creation time.
func (s *SQLiteStore) ListExams(ctx context.Context) ([]ExamInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, num_questions, created_at FROM exams ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []ExamInfo
	for rows.Next() {
		var info ExamInfo
		if err := rows.Scan(&info.ExamID, &info.Title, &info.NumQuestions, &info.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, info)
	}
	return exams, rows.Err()
}
