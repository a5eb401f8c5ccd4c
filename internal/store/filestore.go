package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pavelanni/examgen/internal/model"
)

// FileStore keeps one JSON file per document in a directory:
// exam_<id>.json for exams and grade_<id>_<n>.json for grades.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore uses dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) examPath(id string) string {
	return filepath.Join(s.dir, "exam_"+id+".json")
}

func checkID(id string) error {
	if !ValidExamID(id) {
		return fmt.Errorf("invalid exam id %q", id)
	}
	return nil
}

// SaveExam writes exam_<id>.json. An existing file is never overwritten.
func (s *FileStore) SaveExam(_ context.Context, e *model.Exam) (string, error) {
	if err := checkID(e.ExamID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored model.Exam
	err := readJSON(s.examPath(e.ExamID), &stored)
	switch {
	case err == nil:
		return keepExisting(&stored, e)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read exam %s: %w", e.ExamID, err)
	}
	if err := writeJSON(s.examPath(e.ExamID), e); err != nil {
		return "", fmt.Errorf("write exam %s: %w", e.ExamID, err)
	}
	return e.ExamID, nil
}

// LoadExam reads exam_<id>.json.
func (s *FileStore) LoadExam(_ context.Context, id string) (*model.Exam, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	var e model.Exam
	if err := readJSON(s.examPath(id), &e); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read exam %s: %w", id, err)
	}
	return &e, nil
}

// SaveGrade writes the next grade_<id>_<n>.json for the exam.
func (s *FileStore) SaveGrade(_ context.Context, g *model.GradeResponse) (string, error) {
	if err := checkID(g.ExamID); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.examPath(g.ExamID)); err != nil {
		return "", fmt.Errorf("exam %s: %w", g.ExamID, ErrNotFound)
	}
	files, err := s.gradeFiles(g.ExamID)
	if err != nil {
		return "", err
	}
	n := 1
	if len(files) > 0 {
		n = files[len(files)-1].seq + 1
	}
	path := filepath.Join(s.dir, fmt.Sprintf("grade_%s_%d.json", g.ExamID, n))
	if err := writeJSON(path, g); err != nil {
		return "", fmt.Errorf("write grade: %w", err)
	}
	return gradeKey(g.ExamID, n), nil
}

// ListGrades reads every grade file of the exam in seq order.
func (s *FileStore) ListGrades(_ context.Context, examID string) ([]model.GradeResponse, error) {
	if err := checkID(examID); err != nil {
		return nil, nil
	}
	files, err := s.gradeFiles(examID)
	if err != nil {
		return nil, err
	}
	grades := make([]model.GradeResponse, 0, len(files))
	for _, f := range files {
		var g model.GradeResponse
		if err := readJSON(f.path, &g); err != nil {
			return nil, fmt.Errorf("read grade %s: %w", filepath.Base(f.path), err)
		}
		grades = append(grades, g)
	}
	return grades, nil
}

// ListExams reads every exam file and returns their summaries.
func (s *FileStore) ListExams(_ context.Context) ([]ExamInfo, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "exam_*.json"))
	if err != nil {
		return nil, err
	}
	exams := make([]ExamInfo, 0, len(paths))
	for _, p := range paths {
		var e model.Exam
		if err := readJSON(p, &e); err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		exams = append(exams, infoOf(&e))
	}
	slices.SortFunc(exams, func(a, b ExamInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ExamID, b.ExamID)
	})
	return exams, nil
}

type gradeFile struct {
	path string
	seq  int
}

func (s *FileStore) gradeFiles(examID string) ([]gradeFile, error) {
	prefix := "grade_" + examID + "_"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []gradeFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
		if err != nil {
			continue
		}
		files = append(files, gradeFile{path: filepath.Join(s.dir, name), seq: n})
	}
	slices.SortFunc(files, func(a, b gradeFile) int { return cmp.Compare(a.seq, b.seq) })
	return files, nil
}

// writeJSON writes v to path through a temp file and rename.
func writeJSON(path string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(body, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
