package storage

import (
	"fmt"
	"path/filepath"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
)

// SessionStore persists the authenticated marketplace session artifact
// (cookie JSON or browser storage state) and the account identity bound to it.
//
// No locking: a single marketplace client per process reads and writes it, and
// the control service keeps authentication and job passes mutually exclusive.
type SessionStore struct {
	p Provider
}

// NewSessionStore creates a SessionStore on top of p.
func NewSessionStore(p Provider) *SessionStore {
	return &SessionStore{p: p}
}

// Path returns the absolute path of the session artifact.
func (s *SessionStore) Path() string {
	return filepath.Join(s.p.Root(), SessionFile)
}

// Save atomically replaces the stored artifact.
func (s *SessionStore) Save(artifact []byte) error {
	return s.p.Write(SessionFile, artifact)
}

// Exists reports whether a session artifact is stored.
func (s *SessionStore) Exists() bool {
	return s.p.Exists(SessionFile)
}

// Load returns the stored artifact or an error wrapping apperr.ErrNotFound.
func (s *SessionStore) Load() ([]byte, error) {
	return s.p.Read(SessionFile)
}

// Clear removes the session and its identity snapshot. Safe when absent.
func (s *SessionStore) Clear() error {
	if err := s.p.Delete(SessionFile); err != nil {
		return err
	}
	return s.p.Delete(IdentityFile)
}

// SaveIdentity stores the account identity as {id, username} JSON.
func (s *SessionStore) SaveIdentity(id models.Identity) error {
	return saveJSON(s.p, IdentityFile, id)
}

// LoadIdentity returns the stored identity. The file must match the fixed
// {id, username} schema; anything else is rejected.
func (s *SessionStore) LoadIdentity() (*models.Identity, error) {
	var id models.Identity
	if _, err := loadJSON(s.p, IdentityFile, &id, false); err != nil {
		return nil, err
	}
	if id.ID == "" {
		return nil, fmt.Errorf("storage: identity without id: %w", apperr.ErrNotFound)
	}
	return &id, nil
}
