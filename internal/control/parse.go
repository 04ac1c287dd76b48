package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/relister/internal/apperr"
)

// SplitList splits a comma-separated operator input, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AutoliftPair is one parsed keyword:position entry.
type AutoliftPair struct {
	Text     string
	Position int
}

// ParseAutolift parses "keyword:position, keyword:position". The position is
// taken after the last colon so keywords may contain colons themselves.
func ParseAutolift(raw string) ([]AutoliftPair, error) {
	items := SplitList(raw)
	if len(items) == 0 {
		return nil, fmt.Errorf("no autolift keywords given: %w", apperr.ErrInvalidInput)
	}
	out := make([]AutoliftPair, 0, len(items))
	for _, item := range items {
		i := strings.LastIndex(item, ":")
		if i < 0 {
			return nil, fmt.Errorf("%q: expected keyword:position: %w", item, apperr.ErrInvalidInput)
		}
		text := strings.TrimSpace(item[:i])
		pos, err := strconv.Atoi(strings.TrimSpace(item[i+1:]))
		if err != nil || pos < 1 {
			return nil, fmt.Errorf("%q: position must be a whole number of at least 1: %w", item, apperr.ErrInvalidInput)
		}
		if text == "" {
			return nil, fmt.Errorf("%q: empty keyword: %w", item, apperr.ErrInvalidInput)
		}
		out = append(out, AutoliftPair{Text: text, Position: pos})
	}
	return out, nil
}
