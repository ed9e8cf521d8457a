// Package answer defines the answer model shared by scoring, aggregation,
// and storage.
package answer

import (
	"strings"
	"time"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
)

// Answer is one participant's response to one content item, scoped to a
// round. Exactly one payload group is populated, selected by the content
// format's answer shape. A participant keeps at most one answer per
// (creator, content, round); re-submission replaces the earlier one.
type Answer struct {
	ID        string
	ContentID string
	RoomID    string
	CreatorID string
	Format    content.Format
	Round     int
	CreatedAt time.Time

	// Selection payload (choice, binary, scale, sort).
	SelectedIndexes []int

	// Free-text payload (text).
	Body string

	// Multiple-texts payload (wordcloud).
	Texts []string

	// Priority payload (priorization): weight assigned per option index.
	Priorities []int
}

// Empty reports whether the answer carries no payload for its shape. An
// empty answer is an abstention when the content allows abstentions, and a
// neutral zero-point answer otherwise.
func (a Answer) Empty() bool {
	shape, err := content.Shape(a.Format)
	if err != nil {
		// Unknown formats are rejected upstream; an answer that reaches here
		// without a shape carries nothing scoreable.
		return true
	}
	switch shape {
	case content.ShapeSelection:
		return len(a.SelectedIndexes) == 0
	case content.ShapeText:
		return strings.TrimSpace(a.Body) == ""
	case content.ShapeTexts:
		for _, txt := range a.Texts {
			if strings.TrimSpace(txt) != "" {
				return false
			}
		}
		return true
	case content.ShapePriority:
		for _, weight := range a.Priorities {
			if weight != 0 {
				return false
			}
		}
		return true
	}
	return true
}

// SelectionSet returns the deduplicated set of selected option indexes.
func (a Answer) SelectionSet() map[int]struct{} {
	set := make(map[int]struct{}, len(a.SelectedIndexes))
	for _, idx := range a.SelectedIndexes {
		set[idx] = struct{}{}
	}
	return set
}
