// Package models defines the domain types for relister.
package models

import "time"

// ListingStatus mirrors the marketplace item status enum.
type ListingStatus string

const (
	StatusApproved  ListingStatus = "APPROVED"
	StatusPending   ListingStatus = "PENDING_APPROVAL"
	StatusCompleted ListingStatus = "SOLD"
	StatusExpired   ListingStatus = "EXPIRED"
	StatusDeclined  ListingStatus = "DECLINED"
	StatusDraft     ListingStatus = "DRAFT"
)

// Reupload candidates are finished listings; autolift candidates are live ones.
var (
	ReuploadStatuses = []ListingStatus{StatusCompleted, StatusExpired}
	AutoliftStatuses = []ListingStatus{StatusApproved}
)

// Listing is a seller's product entry, always fetched fresh from the marketplace.
type Listing struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Slug          string        `json:"slug"`
	RawPrice      int           `json:"raw_price"`
	Status        ListingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	Sequence      *int          `json:"sequence,omitempty"`
	AttachmentURL string        `json:"attachment_url,omitempty"`
	URL           string        `json:"url"`
}

// PriorityOffer is a purchasable rank boost for a listing at a given price.
type PriorityOffer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int    `json:"price"`
}

// Photo is a notification image, either raw bytes (screenshot) or a remote URL.
type Photo struct {
	Bytes []byte
	URL   string
}

// Empty reports whether the photo carries no image at all.
func (p Photo) Empty() bool { return len(p.Bytes) == 0 && p.URL == "" }

// ActionResult describes the outcome of a republish or boost.
type ActionResult struct {
	ListingID string
	Link      string
	Photo     Photo
}
