// Package store persists operators and keyword configuration.
//
// Two backends implement Store: SQLite (default, single file) and PostgreSQL
// through pgx. Unique violations map to apperr.ErrAlreadyExists and missing
// rows to apperr.ErrNotFound.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
)

// Store is the persistence contract consumed by the control service.
type Store interface {
	// UpsertUser records an operator, refreshing the username on repeat visits.
	UpsertUser(ctx context.Context, tgID, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	ListKeywords(ctx context.Context) ([]models.Keyword, error)
	AddKeyword(ctx context.Context, text string) (models.Keyword, error)
	DeleteKeyword(ctx context.Context, pk int64) error

	ListAutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error)
	AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error)
	DeleteAutoliftKeyword(ctx context.Context, pk int64) error

	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted in configuration.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects the configured backend.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return OpenSQLite(path)
	case DriverPostgres:
		return OpenPostgres(ctx, url)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func normalizeKeyword(text string) (string, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", fmt.Errorf("store: empty keyword: %w", apperr.ErrInvalidInput)
	}
	if len(t) > 1024 {
		return "", fmt.Errorf("store: keyword longer than 1024 bytes: %w", apperr.ErrInvalidInput)
	}
	return t, nil
}

func validatePosition(position int) error {
	if position < 1 {
		return fmt.Errorf("store: position %d must be at least 1: %w", position, apperr.ErrInvalidInput)
	}
	return nil
}
