package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// FixedListings is the operator-maintained list of listing links that are
// known not to need a reupload. It is reloaded when the file changes on disk.
type FixedListings struct {
	p Provider

	mu  sync.RWMutex
	set map[string]struct{}
}

// NewFixedListings creates the list and performs an initial load.
// A missing file yields an empty list.
func NewFixedListings(p Provider) (*FixedListings, error) {
	f := &FixedListings{p: p, set: map[string]struct{}{}}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the JSON array from disk.
func (f *FixedListings) Reload() error {
	data, err := f.p.Read(FixedFile)
	if err != nil {
		if IsNotFound(err) {
			f.replace(nil)
			return nil
		}
		return err
	}
	var entries []string
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return fmt.Errorf("storage: decode %s: %w", FixedFile, err)
		}
	}
	f.replace(entries)
	return nil
}

func (f *FixedListings) replace(entries []string) {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if k := normalizeLink(e); k != "" {
			set[k] = struct{}{}
		}
	}
	f.mu.Lock()
	f.set = set
	f.mu.Unlock()
}

// Contains reports whether any of the given keys (slug, relative or absolute URL) is listed.
func (f *FixedListings) Contains(keys ...string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, k := range keys {
		if _, ok := f.set[normalizeLink(k)]; ok && k != "" {
			return true
		}
	}
	return false
}

// Len returns the number of listed entries.
func (f *FixedListings) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.set)
}

// normalizeLink reduces "https://host/products/slug/" and "/products/slug" to "slug".
func normalizeLink(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToLower(s)
}

// Counter is the persisted user-agent rotation state.
type Counter struct {
	Calls int `json:"calls"`
	Agent int `json:"agent"`
}

// CounterStore reads and writes the rotation counter so the cadence survives restarts.
type CounterStore struct {
	p Provider
}

// NewCounterStore creates a CounterStore on top of p.
func NewCounterStore(p Provider) *CounterStore {
	return &CounterStore{p: p}
}

// Load returns the stored counter, or a zero counter when none is stored.
func (c *CounterStore) Load() (Counter, error) {
	var ctr Counter
	if _, err := loadJSON(c.p, CounterFile, &ctr, true); err != nil {
		return Counter{}, err
	}
	return ctr, nil
}

// Save persists the counter.
func (c *CounterStore) Save(ctr Counter) error {
	return saveJSON(c.p, CounterFile, ctr)
}
