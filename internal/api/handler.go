package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/clarity/internal/pipeline"
	"github.com/kalambet/clarity/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Submitter runs a submission through the pipeline.
type Submitter interface {
	Submit(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
}

// SubmissionReader gives operators read access to stored submissions.
type SubmissionReader interface {
	GetSubmission(ctx context.Context, id string) (storage.Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]storage.Submission, error)
}

type Deps struct {
	Submitter Submitter
	// Submissions and AdminToken enable the operator endpoints. Both must
	// be set; otherwise the endpoints are not mounted.
	Submissions SubmissionReader
	AdminToken  string
}

// SubmitRequest is the JSON body accepted by the submit endpoint.
type SubmitRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	RequestText    string `json:"requestText"`
	RecaptchaToken string `json:"recaptchaToken"`
}

// SubmitResponse is returned when a submission succeeds.
type SubmitResponse struct {
	OK            bool    `json:"ok"`
	ResultPreview string  `json:"resultPreview"`
	SubmissionID  *string `json:"submissionId"`
}

// NewHandler returns the HTTP surface of the service.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.Get("/health", handleHealth)
	r.Post("/api/submit", handleSubmit(deps.Submitter))

	if deps.Submissions != nil && deps.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Get("/submissions", handleListSubmissions(deps.Submissions))
			r.Get("/submissions/{id}", handleGetSubmission(deps.Submissions))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSubmit(s Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		res, err := s.Submit(r.Context(), pipeline.Input{
			Name:        req.Name,
			Email:       req.Email,
			RequestText: req.RequestText,
			Token:       req.RecaptchaToken,
		})
		if err != nil {
			var perr *pipeline.Error
			if errors.As(err, &perr) {
				writeError(w, perr.Kind.HTTPStatus(), perr.Message)
				return
			}
			slog.Error("unclassified pipeline error", "error", err)
			writeError(w, http.StatusInternalServerError, "Processing failed")
			return
		}

		resp := SubmitResponse{OK: true, ResultPreview: res.Preview}
		if res.SubmissionID != "" {
			id := res.SubmissionID
			resp.SubmissionID = &id
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListSubmissions(s SubmissionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, 500)
		}

		subs, err := s.ListSubmissions(r.Context(), limit)
		if err != nil {
			slog.Error("listing submissions", "error", err)
			writeError(w, http.StatusBadGateway, "failed to list submissions")
			return
		}
		if subs == nil {
			subs = []storage.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func handleGetSubmission(s SubmissionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.GetSubmission(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		if err != nil {
			slog.Error("fetching submission", "error", err)
			writeError(w, http.StatusBadGateway, "failed to fetch submission")
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
