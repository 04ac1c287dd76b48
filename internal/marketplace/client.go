// Package marketplace drives authenticated operations against the marketplace.
//
// Two interchangeable drivers implement Client: APIClient talks to the
// GraphQL endpoint directly, BrowserClient automates a real Chromium through
// playwright. Workers and the control service depend on Client only.
package marketplace

import (
	"context"
	"strings"

	"github.com/starford/relister/internal/models"
)

// Client is the capability interface shared by all marketplace drivers.
//
// Authentication state machine:
//
//	Unauthenticated ──RequestLoginCode──► CodeRequested ──VerifyLoginCode──► Authenticated
//	                                          ▲      │ (invalid code)
//	                                          └──────┘
//
// Sessions never expire client-side; expiry is only discovered through
// CheckAuthenticated or a failed authenticated call.
type Client interface {
	// RequestLoginCode asks the marketplace to deliver a login code to email.
	// Returns apperr.ErrUnknownEmail or apperr.ErrRateLimited on rejection.
	RequestLoginCode(ctx context.Context, email string) error

	// VerifyLoginCode completes authentication and persists the session.
	// Returns apperr.ErrInvalidCode when the code is rejected.
	VerifyLoginCode(ctx context.Context, email, code string) (*models.Identity, error)

	// CheckAuthenticated re-validates the stored session. Any failure is false.
	CheckAuthenticated(ctx context.Context) bool

	// ListItems returns the first page of the seller's own listings in the given statuses.
	ListItems(ctx context.Context, statuses []models.ListingStatus) ([]models.Listing, error)

	// GetListingRank returns the live search position of a listing.
	// Returns an error wrapping apperr.ErrNotFound when the listing has no rank.
	GetListingRank(ctx context.Context, listingID, slug string) (int, error)

	// GetPriorityStatus returns a purchasable boost for the listing at price.
	// A nil offer with a nil error means no boost is available, which is not a fault.
	GetPriorityStatus(ctx context.Context, listingID string, price int) (*models.PriorityOffer, error)

	// Boost executes the rank-boost transaction on an active listing.
	Boost(ctx context.Context, listing models.Listing, offerID string) (*models.ActionResult, error)

	// Republish moves a completed or expired listing back to active status.
	Republish(ctx context.Context, listing models.Listing, offerID string) (*models.ActionResult, error)

	// Close releases driver resources.
	Close() error
}

// Driver names accepted in configuration.
const (
	DriverAPI     = "api"
	DriverBrowser = "browser"
)

// ProductURL builds the public link of a listing from its slug.
func ProductURL(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/products/" + strings.TrimLeft(slug, "/")
}
