// Package scoring evaluates submitted answers against their content's
// correctness rules.
//
// Evaluation is a pure function of (content, answer): no I/O, no clock, no
// shared state. The same pair always produces the same result, so scores can
// be recomputed at any time from the stored answer set.
package scoring

import (
	"fmt"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
)

// TotalPoints is the fixed point budget for a scoreable content.
const TotalPoints = 10.0

// State classifies an evaluated answer.
type State string

const (
	StateCorrect   State = "CORRECT"
	StateWrong     State = "WRONG"
	StateNeutral   State = "NEUTRAL"
	StateAbstained State = "ABSTAINED"
)

// Result is the derived outcome of evaluating one answer. It is never
// persisted; callers recompute it from the authoritative content and answer.
type Result struct {
	ContentID      string  `json:"contentId"`
	State          State   `json:"state"`
	AchievedPoints float64 `json:"achievedPoints"`
}

// Evaluate scores one answer against its content definition.
//
// An empty answer on a content that allows abstentions is ABSTAINED with 0
// points regardless of format. Unknown formats indicate a data mismatch
// upstream and return an error.
func Evaluate(c content.Content, a answer.Answer) (Result, error) {
	if !content.Known(c.Format) {
		return Result{}, fmt.Errorf("evaluate answer: unknown content format %q", c.Format)
	}

	result := Result{ContentID: c.ID}

	if a.Empty() {
		if c.AbstentionsAllowed {
			result.State = StateAbstained
			return result, nil
		}
		// Empty but abstentions disallowed: the format rules below treat a
		// missing payload as a neutral zero-point answer.
	}

	switch c.Format {
	case content.FormatChoice, content.FormatBinary:
		evaluateChoice(c, a, &result)
	case content.FormatSort:
		evaluateSort(c, a, &result)
	case content.FormatScale, content.FormatText, content.FormatWordcloud, content.FormatPriorization:
		// Informational formats are collected, aggregated, and displayed but
		// never auto-scored.
		result.State = StateNeutral
	}
	return result, nil
}

// evaluateChoice applies the hit/miss scoring rule. With correct set C and
// selected set S, points = total/|C| * (|S∩C| - |S\C|), floored at zero.
// The answer is CORRECT only on an exact set match.
func evaluateChoice(c content.Content, a answer.Answer, result *Result) {
	selected := a.SelectionSet()
	if len(selected) == 0 {
		result.State = StateNeutral
		return
	}

	correct := make(map[int]struct{})
	if c.Choice != nil {
		for _, idx := range c.Choice.CorrectIndexes {
			correct[idx] = struct{}{}
		}
	}
	n := len(correct)
	if n == 0 {
		// A content with no correct options defined cannot classify any
		// selection; treat every non-empty answer as neutral.
		result.State = StateNeutral
		return
	}

	hits, misses := 0, 0
	for idx := range selected {
		if _, ok := correct[idx]; ok {
			hits++
		} else {
			misses++
		}
	}

	points := TotalPoints / float64(n) * float64(hits-misses)
	if points < 0 {
		points = 0
	}

	if hits == n && misses == 0 {
		result.State = StateCorrect
	} else {
		result.State = StateWrong
	}
	result.AchievedPoints = points
}

// evaluateSort requires the selected index sequence to equal the canonical
// order exactly. Any deviation is WRONG with zero points.
func evaluateSort(c content.Content, a answer.Answer, result *Result) {
	if len(a.SelectedIndexes) == 0 {
		result.State = StateNeutral
		return
	}

	var canonical []int
	if c.Choice != nil {
		canonical = c.Choice.CorrectIndexes
	}
	if len(canonical) == 0 || len(a.SelectedIndexes) != len(canonical) {
		result.State = StateWrong
		return
	}
	for i, idx := range canonical {
		if a.SelectedIndexes[i] != idx {
			result.State = StateWrong
			return
		}
	}
	result.State = StateCorrect
	result.AchievedPoints = TotalPoints
}
