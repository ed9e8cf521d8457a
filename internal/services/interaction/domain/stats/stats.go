// Package stats aggregates the answers of one content item into
// format-specific statistics.
//
// Aggregation is always a full recompute over the authoritative answer set
// for a (content, round) pair. There is no incremental mutation: a missed
// change event can therefore never leave a drifted aggregate behind, and
// calling Aggregate twice on the same inputs yields identical output.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// WordFrequency is one normalized wordcloud token and its occurrence count.
type WordFrequency struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Statistics holds the per-content, per-round aggregates. The populated
// fields depend on the content format.
type Statistics struct {
	ContentID string         `json:"contentId"`
	Round     int            `json:"round"`
	Format    content.Format `json:"format"`

	// AnswerCount is the number of non-abstained answers considered.
	AnswerCount int `json:"answerCount"`
	// AbstentionCount tallies answers with an empty payload.
	AbstentionCount int `json:"abstentionCount"`

	// OptionCounts holds independent per-option selection counts for
	// selection-shaped contents. One answer may count toward several options.
	OptionCounts []int `json:"optionCounts,omitempty"`

	// WordFrequencies holds normalized token counts for wordcloud contents,
	// ordered by descending count then ascending text.
	WordFrequencies []WordFrequency `json:"wordFrequencies,omitempty"`

	// PrioritySums holds the aggregated weight per option for priorization
	// contents.
	PrioritySums []int `json:"prioritySums,omitempty"`
}

var lowercase = cases.Lower(language.Und)

// Aggregate computes the statistics for one content item from the full
// answer set of the given round. Answers for other rounds or contents are
// ignored. Unknown formats return an error; that is a data mismatch
// upstream, not user input.
func Aggregate(c content.Content, answers []answer.Answer, round int) (Statistics, error) {
	if !content.Known(c.Format) {
		return Statistics{}, fmt.Errorf("aggregate answers: unknown content format %q", c.Format)
	}

	result := Statistics{
		ContentID: c.ID,
		Round:     round,
		Format:    c.Format,
	}

	switch c.Format {
	case content.FormatChoice, content.FormatBinary, content.FormatSort, content.FormatScale:
		result.OptionCounts = make([]int, c.OptionCount())
	case content.FormatPriorization:
		result.PrioritySums = make([]int, c.OptionCount())
	}

	var words map[string]int
	if c.Format == content.FormatWordcloud {
		words = make(map[string]int)
	}

	for _, a := range answers {
		if a.ContentID != c.ID || a.Round != round {
			continue
		}
		if a.Empty() {
			result.AbstentionCount++
			continue
		}
		result.AnswerCount++

		switch c.Format {
		case content.FormatChoice, content.FormatBinary, content.FormatSort, content.FormatScale:
			for idx := range a.SelectionSet() {
				if idx >= 0 && idx < len(result.OptionCounts) {
					result.OptionCounts[idx]++
				}
			}
		case content.FormatWordcloud:
			collectWords(words, a.Texts, maxAnswersFor(c))
		case content.FormatPriorization:
			for idx, weight := range a.Priorities {
				if idx < len(result.PrioritySums) {
					result.PrioritySums[idx] += weight
				}
			}
		}
	}

	if words != nil {
		result.WordFrequencies = sortedFrequencies(words)
	}
	return result, nil
}

func maxAnswersFor(c content.Content) int {
	if c.Wordcloud == nil {
		return 0
	}
	return c.Wordcloud.MaxAnswers
}

// collectWords normalizes and counts one participant's texts, honoring the
// content's per-participant cap when it is positive.
func collectWords(words map[string]int, texts []string, maxAnswers int) {
	taken := 0
	for _, raw := range texts {
		if maxAnswers > 0 && taken >= maxAnswers {
			return
		}
		token := NormalizeToken(raw)
		if token == "" {
			continue
		}
		words[token]++
		taken++
	}
}

// NormalizeToken canonicalizes a wordcloud entry: NFKC normalization,
// Unicode-aware lowercasing, and whitespace collapsing, so visually
// identical entries count as one token.
func NormalizeToken(raw string) string {
	token := norm.NFKC.String(raw)
	token = lowercase.String(token)
	fields := strings.FieldsFunc(token, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func sortedFrequencies(words map[string]int) []WordFrequency {
	frequencies := make([]WordFrequency, 0, len(words))
	for text, count := range words {
		frequencies = append(frequencies, WordFrequency{Text: text, Count: count})
	}
	sort.Slice(frequencies, func(i, j int) bool {
		if frequencies[i].Count != frequencies[j].Count {
			return frequencies[i].Count > frequencies[j].Count
		}
		return frequencies[i].Text < frequencies[j].Text
	})
	return frequencies
}
