package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/models"
)

// AddKeywordsRequest is the request body for adding reupload keywords.
// Keyword may hold a comma-separated list.
type AddKeywordsRequest struct {
	Keyword string `json:"keyword" example:"sword, shield" validate:"required"`
}

// Validate checks the request body.
func (r AddKeywordsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Keyword, validation.Required, validation.Length(1, 4096)),
	)
}

// AddAutoliftKeywordRequest is the request body for adding an autolift keyword.
type AddAutoliftKeywordRequest struct {
	Keyword  string `json:"keyword" example:"bobr" validate:"required"`
	Position int    `json:"position" example:"20" validate:"required"`
}

// Validate checks the request body.
func (r AddAutoliftKeywordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Keyword, validation.Required, validation.Length(1, 1024)),
		validation.Field(&r.Position, validation.Required, validation.Min(1)),
	)
}

// JobsResponse wraps the job list.
type JobsResponse struct {
	Jobs []control.JobStatus `json:"jobs" validate:"required"`
}

// KeywordsResponse wraps the reupload keyword list.
type KeywordsResponse struct {
	Keywords []models.Keyword `json:"keywords" validate:"required"`
}

// AutoliftKeywordsResponse wraps the autolift keyword list.
type AutoliftKeywordsResponse struct {
	Keywords []models.AutoliftKeyword `json:"keywords" validate:"required"`
}

// AddKeywordsResponse reports a batch add.
type AddKeywordsResponse = control.AddResult

// AuthStatusResponse is the session status payload.
type AuthStatusResponse = control.AuthStatus
