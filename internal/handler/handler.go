// Package handler exposes exam generation and grading over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/service"
	"github.com/pavelanni/examgen/internal/store"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 4 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc *service.Service
}

// New creates a new Handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Markdown string                 `json:"markdown"`
	Config   model.GenerationConfig `json:"config"`
}

// ConsistencyRequest is the body of POST /api/consistency.
type ConsistencyRequest struct {
	model.GradeRequest
	Runs int `json:"runs"`
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	Markdown string                 `json:"markdown"`
	Config   model.GenerationConfig `json:"config"`
	Variants []model.PromptVariant  `json:"variants,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.NotFound(h.handleNoRoute)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", h.handleGenerate)
		r.Post("/grade", h.handleGrade)
		r.Post("/consistency", h.handleConsistency)
		r.Post("/compare", h.handleCompare)
		r.Get("/exams", h.handleListExams)
		r.Post("/exams/import", h.handleImport)
		r.Route("/exams/{examID}", func(r chi.Router) {
			r.Get("/", h.handleGetExam)
			r.Get("/grades", h.handleListGrades)
			r.Get("/quality", h.handleQuality)
			r.Get("/export", h.handleExport)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleNoRoute(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: i18n.T(r.Context(), i18n.MsgRouteNotFound)})
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	exam, err := h.svc.Generate(r.Context(), req.Markdown, req.Config)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req model.GradeRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Grade(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, req.ExamID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConsistency(w http.ResponseWriter, r *http.Request) {
	var req ConsistencyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Runs == 0 {
		req.Runs = 3
	}
	report, err := h.svc.Consistency(r.Context(), req.GradeRequest, req.Runs)
	if err != nil {
		h.writeError(w, r, err, req.ExamID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.svc.CompareVariants(r.Context(), req.Markdown, req.Config, req.Variants)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if !decode(w, r, &exam) {
		return
	}
	stored, err := h.svc.Import(r.Context(), &exam)
	if err != nil {
		h.writeError(w, r, err, exam.ExamID)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.svc.Exams(r.Context())
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	if exams == nil {
		exams = []store.ExamInfo{}
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "examID")
	exam, err := h.svc.Exam(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleListGrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "examID")
	grades, err := h.svc.Grades(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, id)
		return
	}
	if grades == nil {
		grades = []model.GradeResponse{}
	}
	writeJSON(w, http.StatusOK, grades)
}

func (h *Handler) handleQuality(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "examID")
	q, err := h.svc.Quality(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "examID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = store.FormatJSON
	}
	if format != store.FormatJSON && format != store.FormatYAML {
		h.writeError(w, r, fmt.Errorf("%w: unknown export format %q", service.ErrInvalidRequest, format), id)
		return
	}
	exp, err := h.svc.Export(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, id)
		return
	}
	if format == store.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(id+"."+format))
	if err := store.WriteExport(w, exp, format); err != nil {
		slog.Error("write export", "exam_id", id, "error", err)
	}
}

// decode reads a JSON body into v, replying 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := i18n.Td(r.Context(), i18n.MsgInvalidRequest, map[string]any{"Error": err.Error()})
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
		return false
	}
	return true
}

// writeError maps service errors to status codes and localized messages.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, examID string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: i18n.Td(ctx, i18n.MsgExamNotFound, map[string]any{"ID": examID})})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: i18n.Td(ctx, i18n.MsgExamConflict, map[string]any{"ID": examID})})
	case errors.Is(err, service.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: i18n.Td(ctx, i18n.MsgInvalidRequest, map[string]any{"Error": err.Error()})})
	case errors.Is(err, model.ErrBuildFailure):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: i18n.Td(ctx, i18n.MsgBuildFailed, map[string]any{"Error": err.Error()})})
	case ctx.Err() != nil:
		slog.Warn("request cancelled", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
