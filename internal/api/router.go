package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Controller, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Jobs.
	r.Get("/jobs", h.ListJobs)
	r.Put("/jobs/{name}", h.EnableJob)
	r.Delete("/jobs/{name}", h.DisableJob)

	// Keywords.
	r.Get("/keywords", h.ListKeywords)
	r.Post("/keywords", h.AddKeywords)
	r.Delete("/keywords/{pk}", h.DeleteKeyword)
	r.Get("/autolift-keywords", h.ListAutoliftKeywords)
	r.Post("/autolift-keywords", h.AddAutoliftKeyword)
	r.Delete("/autolift-keywords/{pk}", h.DeleteAutoliftKeyword)

	// Session.
	r.Get("/auth", h.AuthStatus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
