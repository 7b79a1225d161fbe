// Package httpapp exposes the job and transcript API plus the websocket
// endpoint.
package httpapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
	"github.com/Yashground/video-processing-app-sub000/internal/domain"
	"github.com/Yashground/video-processing-app-sub000/internal/logger"
)

// JobQueue is the queue surface the API needs.
type JobQueue interface {
	Submit(key string, identity domain.Identity, priority int) (int, error)
	Cancel(key string) error
	Get(key string) (*domain.Job, bool)
	List() []*domain.Job
}

// TranscriptReader serves stored results.
type TranscriptReader interface {
	Get(key string) ([]byte, bool)
}

// Authenticator guards every API route.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

type Handler struct {
	Queue       JobQueue
	Transcripts TranscriptReader
	Auth        Authenticator
	WSHandler   http.HandlerFunc
	Logger      *logger.Logger
}

func NewHandler(queue JobQueue, transcripts TranscriptReader, authenticator Authenticator, wsHandler http.HandlerFunc, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Queue:       queue,
		Transcripts: transcripts,
		Auth:        authenticator,
		WSHandler:   wsHandler,
		Logger:      log.WithComponent("http"),
	}
}

type submitRequest struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
}

type submitResponse struct {
	Key      string `json:"key"`
	Position int    `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitJob accepts a transcription request. Acceptance only means the job
// is queued; the outcome arrives over the websocket channel.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	position, err := h.Queue.Submit(req.Key, identity, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyQueued):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrQueueFull):
			h.writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			h.Logger.Error("Job submission failed", "job_key", req.Key, "error", err)
			h.writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, submitResponse{Key: req.Key, Position: position})
}

// CancelJob removes a pending job. Jobs already processing run to completion.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.Queue.Cancel(key); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs returns every known job in queue order.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.Queue.List())
}

// GetJob returns one job by key.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	key := chi.URLParam(r, "key")
	job, ok := h.Queue.Get(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// GetTranscript serves the stored result for a key.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	key := chi.URLParam(r, "key")
	payload, ok := h.Transcripts.Get(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "transcript not found")
		return
	}

	w.Header().Set("Content-Type", constants.MimeTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, err := h.Auth.Authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication denied")
		return "", false
	}
	return identity, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", constants.MimeTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
