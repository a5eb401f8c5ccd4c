package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/service"
	"github.com/pavelanni/examgen/internal/store"
)

const lesson = `# Channels

## Unbuffered channels

An unbuffered channel synchronizes sender and receiver: a send blocks until
another goroutine receives the value.

## Buffered channels

A buffered channel holds values up to its capacity. Sends block only when the
buffer is full and receives block only when it is empty.
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	require.NoError(t, i18n.Init("en"))
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	New(service.New(st, llm.NewStub(), service.Config{})).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, header ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGenerateGradeFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/generate", GenerateRequest{
		Markdown: lesson,
		Config: model.GenerationConfig{
			SingleChoiceCount: model.Ptr(1),
			OpenEndedCount:    model.Ptr(1),
			Seed:              model.Ptr(int64(5)),
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exam := decodeBody[model.Exam](t, resp)
	require.Len(t, exam.Questions, 2)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams/"+exam.ExamID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, exam.ExamID, decodeBody[model.Exam](t, resp).ExamID)

	var answers []model.AnswerSubmission
	for _, q := range exam.Questions {
		if q.Type.IsChoice() {
			answers = append(answers, model.AnswerSubmission{QuestionID: q.ID, Choice: q.Correct})
		}
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/grade", model.GradeRequest{ExamID: exam.ExamID, Answers: answers})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	graded := decodeBody[model.GradeResponse](t, resp)
	assert.Equal(t, 2, graded.Summary.Total)
	assert.Equal(t, 1, graded.Summary.CorrectCount)
	assert.Equal(t, 50.0, graded.Summary.ScorePercent)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams/"+exam.ExamID+"/grades", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]model.GradeResponse](t, resp), 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.ExamInfo](t, resp), 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams/"+exam.ExamID+"/quality", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams/"+exam.ExamID+"/export?format=yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/consistency", ConsistencyRequest{
		GradeRequest: model.GradeRequest{ExamID: exam.ExamID, Answers: answers},
		Runs:         2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, decodeBody[service.ConsistencyReport](t, resp).Reliability)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		header []string
		status int
		want   string
	}{
		{"unknown exam", http.MethodGet, "/api/exams/ex-missing", nil, nil, http.StatusNotFound, "Exam ex-missing not found."},
		{"unknown exam grades", http.MethodGet, "/api/exams/ex-missing/grades", nil, nil, http.StatusNotFound, "not found"},
		{"grade unknown exam", http.MethodPost, "/api/grade", model.GradeRequest{ExamID: "ex-missing"}, nil, http.StatusNotFound, "not found"},
		{"grade without exam id", http.MethodPost, "/api/grade", model.GradeRequest{}, nil, http.StatusBadRequest, "Invalid request"},
		{"bad json", http.MethodPost, "/api/generate", "not an object", nil, http.StatusBadRequest, "Invalid request"},
		{"bad config", http.MethodPost, "/api/generate", GenerateRequest{Markdown: lesson, Config: model.GenerationConfig{TotalQuestions: 1000}}, nil, http.StatusBadRequest, "Invalid request"},
		{"empty content", http.MethodPost, "/api/generate", GenerateRequest{Markdown: ""}, nil, http.StatusUnprocessableEntity, "Could not build an exam"},
		{"localized", http.MethodGet, "/api/exams/ex-missing", nil, []string{"Accept-Language", "ru"}, http.StatusNotFound, "ex-missing"},
		{"bad export format", http.MethodGet, "/api/exams/ex-missing/export?format=csv", nil, nil, http.StatusBadRequest, "csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, srv.URL+tt.path, tt.body, tt.header...)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.Contains(t, body.Error, tt.want)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func importedExam(correct int) model.Exam {
	return model.Exam{
		ExamID: "ex-imported",
		Questions: []model.Question{{
			ID: "q-001", Type: model.TypeSingleChoice,
			Stem:       "What does a send on an unbuffered channel wait for?",
			Options:    []string{"a receiver", "a timer", "a buffer"},
			Correct:    []int{correct},
			SourceRefs: []string{"unbuffered-channels"},
		}},
	}
}

func TestImportAndCompare(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/exams/import", importedExam(0))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ex-imported", decodeBody[model.Exam](t, resp).ExamID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams/ex-imported", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/exams/import", importedExam(2))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decodeBody[ErrorResponse](t, resp).Error, "already exists")

	broken := importedExam(0)
	broken.Questions[0].Options = broken.Questions[0].Options[:2]
	broken.ExamID = "ex-broken"
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/exams/import", broken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/compare", CompareRequest{
		Markdown: lesson,
		Config:   model.GenerationConfig{SingleChoiceCount: model.Ptr(1), Seed: model.Ptr(int64(2))},
		Variants: []model.PromptVariant{model.PromptDefault, model.PromptGrounded},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[service.VariantComparison](t, resp)
	require.Len(t, report.Variants, 2)
	assert.Equal(t, model.PromptGrounded, report.Variants[1].Variant)
	assert.NotEmpty(t, report.Best)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/exams", nil)
	assert.Len(t, decodeBody[[]store.ExamInfo](t, resp), 1, "only the import is stored")
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "No such endpoint.", decodeBody[ErrorResponse](t, resp).Error)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/nope", nil, "Accept-Language", "ru")
	assert.Equal(t, "Такого адреса нет.", decodeBody[ErrorResponse](t, resp).Error)
}
