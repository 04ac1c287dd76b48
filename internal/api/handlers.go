package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/models"
)

// Controller is the operator service behind the API.
type Controller interface {
	Jobs() []control.JobStatus
	EnableJob(ctx context.Context, name string) error
	DisableJob(ctx context.Context, name string) error

	Keywords(ctx context.Context) ([]models.Keyword, error)
	AddKeywords(ctx context.Context, raw string) (control.AddResult, error)
	DeleteKeyword(ctx context.Context, pk int64) error

	AutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error)
	AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error)
	DeleteAutoliftKeyword(ctx context.Context, pk int64) error

	CheckAuth(ctx context.Context) control.AuthStatus
}

// Handler holds API route handlers.
type Handler struct {
	svc Controller
}

// NewHandler creates a new Handler.
func NewHandler(svc Controller) *Handler {
	return &Handler{svc: svc}
}

func pkParam(r *http.Request) (int64, error) {
	pk, err := strconv.ParseInt(chi.URLParam(r, "pk"), 10, 64)
	if err != nil || pk <= 0 {
		return 0, fmt.Errorf("pk must be a positive integer: %w", apperr.ErrInvalidInput)
	}
	return pk, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// ListJobs handles GET /api/jobs.
//
//	@Summary		List both jobs and their schedule state
//	@Tags			jobs
//	@Produce		json
//	@Success		200	{object}	JobsResponse
//	@Security		BearerAuth
//	@Router			/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: h.svc.Jobs()})
}

// EnableJob handles PUT /api/jobs/{name}.
//
//	@Summary		Enable a job with the current keyword snapshot
//	@Tags			jobs
//	@Param			name	path	string	true	"Job name"	Enums(reupload, autolift)
//	@Success		204		"Job enabled"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		412		{object}	errResponse
//	@Failure		423		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{name} [put]
func (h *Handler) EnableJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EnableJob(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, "enable job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DisableJob handles DELETE /api/jobs/{name}.
//
//	@Summary		Disable a job
//	@Tags			jobs
//	@Param			name	path	string	true	"Job name"	Enums(reupload, autolift)
//	@Success		204		"Job disabled"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{name} [delete]
func (h *Handler) DisableJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DisableJob(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, "disable job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListKeywords handles GET /api/keywords.
//
//	@Summary		List reupload keywords
//	@Tags			keywords
//	@Produce		json
//	@Success		200	{object}	KeywordsResponse
//	@Security		BearerAuth
//	@Router			/keywords [get]
func (h *Handler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := h.svc.Keywords(r.Context())
	if err != nil {
		writeError(w, "list keywords", err)
		return
	}
	if kws == nil {
		kws = []models.Keyword{}
	}
	writeJSON(w, http.StatusOK, KeywordsResponse{Keywords: kws})
}

// AddKeywords handles POST /api/keywords.
//
//	@Summary		Add reupload keywords (comma-separated)
//	@Tags			keywords
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddKeywordsRequest	true	"Keywords to add"
//	@Success		201		{object}	AddKeywordsResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/keywords [post]
func (h *Handler) AddKeywords(w http.ResponseWriter, r *http.Request) {
	var req AddKeywordsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "add keywords", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.AddKeywords(r.Context(), req.Keyword)
	if err != nil {
		writeError(w, "add keywords", err)
		return
	}
	if len(res.Added) == 0 {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// DeleteKeyword handles DELETE /api/keywords/{pk}.
//
//	@Summary		Delete a reupload keyword
//	@Tags			keywords
//	@Param			pk	path	int	true	"Keyword primary key"
//	@Success		204	"Keyword deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/keywords/{pk} [delete]
func (h *Handler) DeleteKeyword(w http.ResponseWriter, r *http.Request) {
	pk, err := pkParam(r)
	if err != nil {
		writeError(w, "delete keyword", err)
		return
	}
	if err := h.svc.DeleteKeyword(r.Context(), pk); err != nil {
		writeError(w, "delete keyword", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAutoliftKeywords handles GET /api/autolift-keywords.
//
//	@Summary		List autolift keywords
//	@Tags			keywords
//	@Produce		json
//	@Success		200	{object}	AutoliftKeywordsResponse
//	@Security		BearerAuth
//	@Router			/autolift-keywords [get]
func (h *Handler) ListAutoliftKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := h.svc.AutoliftKeywords(r.Context())
	if err != nil {
		writeError(w, "list autolift keywords", err)
		return
	}
	if kws == nil {
		kws = []models.AutoliftKeyword{}
	}
	writeJSON(w, http.StatusOK, AutoliftKeywordsResponse{Keywords: kws})
}

// AddAutoliftKeyword handles POST /api/autolift-keywords.
//
//	@Summary		Add an autolift keyword with its position threshold
//	@Tags			keywords
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddAutoliftKeywordRequest	true	"Keyword and threshold"
//	@Success		201		{object}	models.AutoliftKeyword
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/autolift-keywords [post]
func (h *Handler) AddAutoliftKeyword(w http.ResponseWriter, r *http.Request) {
	var req AddAutoliftKeywordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "add autolift keyword", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	k, err := h.svc.AddAutoliftKeyword(r.Context(), req.Keyword, req.Position)
	if err != nil {
		writeError(w, "add autolift keyword", err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

// DeleteAutoliftKeyword handles DELETE /api/autolift-keywords/{pk}.
//
//	@Summary		Delete an autolift keyword
//	@Tags			keywords
//	@Param			pk	path	int	true	"Keyword primary key"
//	@Success		204	"Keyword deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/autolift-keywords/{pk} [delete]
func (h *Handler) DeleteAutoliftKeyword(w http.ResponseWriter, r *http.Request) {
	pk, err := pkParam(r)
	if err != nil {
		writeError(w, "delete autolift keyword", err)
		return
	}
	if err := h.svc.DeleteAutoliftKeyword(r.Context(), pk); err != nil {
		writeError(w, "delete autolift keyword", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthStatus handles GET /api/auth.
//
//	@Summary		Re-validate the stored marketplace session
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	AuthStatusResponse
//	@Security		BearerAuth
//	@Router			/auth [get]
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CheckAuth(r.Context()))
}
