// Package storage persists the marketplace session and the small JSON state
// files next to it (identity snapshot, fixed listings, user-agent counter).
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/relister/internal/apperr"
)

// Provider reads and writes files relative to a storage root.
type Provider interface {
	Read(path string) ([]byte, error)
	// Write replaces path atomically.
	Write(path string, content []byte) error
	// Delete succeeds when path is already absent.
	Delete(path string) error
	Exists(path string) bool
	Root() string
}

// Files under the storage root.
const (
	SessionFile  = "session.json"
	IdentityFile = "identity.json"
	FixedFile    = "fixed_listings.json"
	CounterFile  = "ua_counter.json"
)

// IsNotFound reports whether err means the requested file is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}

// loadJSON decodes path into v. With optional set, a missing file leaves v
// untouched and reports ok=false instead of an error.
func loadJSON(p Provider, path string, v any, optional bool) (ok bool, err error) {
	data, err := p.Read(path)
	switch {
	case err == nil:
	case optional && IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return true, nil
}

func saveJSON(p Provider, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	return p.Write(path, data)
}
