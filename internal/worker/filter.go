package worker

import (
	"strings"
	"time"

	"github.com/starford/relister/internal/models"
)

// WithinWindow reports whether l was created no earlier than window before now.
// Listings without a creation time count as fresh; only the browser driver,
// which cannot see it, produces them. The API driver drops undated listings.
func WithinWindow(l models.Listing, now time.Time, window time.Duration) bool {
	if l.CreatedAt.IsZero() {
		return true
	}
	return !l.CreatedAt.Before(now.Add(-window))
}

// MatchKeyword returns the first keyword that is a case-insensitive substring
// of title. Blank keywords never match.
func MatchKeyword(title string, keywords []string) (string, bool) {
	lt := strings.ToLower(title)
	for _, k := range keywords {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" {
			continue
		}
		if strings.Contains(lt, lk) {
			return k, true
		}
	}
	return "", false
}

// FilterCandidates keeps listings inside the window whose title matches any
// keyword. An empty keyword set yields no candidates.
func FilterCandidates(listings []models.Listing, keywords []string, now time.Time, window time.Duration) []models.Listing {
	if len(keywords) == 0 {
		return nil
	}
	var out []models.Listing
	for _, l := range listings {
		if !WithinWindow(l, now, window) {
			continue
		}
		if _, ok := MatchKeyword(l.Title, keywords); ok {
			out = append(out, l)
		}
	}
	return out
}

// MatchAutolift returns the autolift keywords whose text occurs in title.
func MatchAutolift(title string, keywords []models.AutoliftKeyword) []models.AutoliftKeyword {
	lt := strings.ToLower(title)
	var out []models.AutoliftKeyword
	for _, k := range keywords {
		lk := strings.ToLower(strings.TrimSpace(k.Text))
		if lk != "" && strings.Contains(lt, lk) {
			out = append(out, k)
		}
	}
	return out
}

// ShouldBoost reports whether rank has drifted below the position of any
// matching keyword. A rank equal to the position does not qualify.
func ShouldBoost(rank int, matches []models.AutoliftKeyword) (models.AutoliftKeyword, bool) {
	for _, k := range matches {
		if rank > k.Position {
			return k, true
		}
	}
	return models.AutoliftKeyword{}, false
}
