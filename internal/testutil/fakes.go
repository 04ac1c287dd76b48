package testutil

import (
	"context"
	"sync"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
)

// FakeClient is an in-memory marketplace client. Login succeeds unless
// RequestErr or VerifyErr is set; listing actions are recorded.
type FakeClient struct {
	mu          sync.Mutex
	Authed      bool
	RequestErr  error
	VerifyErr   error
	Listings    []models.Listing
	Republished []string
}

func (f *FakeClient) SetAuthed(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Authed = v
}

func (f *FakeClient) RequestLoginCode(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RequestErr
}

func (f *FakeClient) VerifyLoginCode(_ context.Context, email, _ string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	f.Authed = true
	return &models.Identity{ID: "u-1", Username: email}, nil
}

func (f *FakeClient) CheckAuthenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Authed
}

func (f *FakeClient) ListItems(context.Context, []models.ListingStatus) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Listing(nil), f.Listings...), nil
}

func (f *FakeClient) GetListingRank(context.Context, string, string) (int, error) {
	return 0, apperr.ErrNotFound
}

func (f *FakeClient) GetPriorityStatus(_ context.Context, id string, _ int) (*models.PriorityOffer, error) {
	return &models.PriorityOffer{ID: "ps-" + id}, nil
}

func (f *FakeClient) Boost(context.Context, models.Listing, string) (*models.ActionResult, error) {
	return nil, apperr.ErrUnsupported
}

func (f *FakeClient) Republish(_ context.Context, l models.Listing, _ string) (*models.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Republished = append(f.Republished, l.ID)
	return &models.ActionResult{ListingID: l.ID}, nil
}

func (f *FakeClient) Close() error { return nil }

// FakeSessions is an in-memory session store.
type FakeSessions struct {
	mu     sync.Mutex
	Stored bool
}

func (s *FakeSessions) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stored
}

func (s *FakeSessions) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stored = false
	return nil
}

func (s *FakeSessions) LoadIdentity() (*models.Identity, error) {
	if !s.Exists() {
		return nil, apperr.ErrNotFound
	}
	return &models.Identity{ID: "u-1", Username: "seller"}, nil
}
