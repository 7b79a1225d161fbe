package httpapp

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{key}", h.GetJob)
		r.Delete("/jobs/{key}", h.CancelJob)
		r.Get("/transcripts/{key}", h.GetTranscript)
	})

	r.Get("/ws", h.WSHandler)
}
