// Package content defines the content model and the closed set of supported
// content formats.
//
// A content item is a prompt published inside a room. Its format selects the
// answer shape participants submit and the correctness rules applied during
// scoring. The format set is closed: scoring and aggregation dispatch over it
// exhaustively, and an unknown format is a programming error surfaced at the
// boundary, never a recoverable condition.
package content

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
)

// Format identifies a supported content format.
type Format string

const (
	FormatChoice       Format = "CHOICE"
	FormatBinary       Format = "BINARY"
	FormatScale        Format = "SCALE"
	FormatSort         Format = "SORT"
	FormatText         Format = "TEXT"
	FormatWordcloud    Format = "WORDCLOUD"
	FormatPriorization Format = "PRIORIZATION"
)

// AnswerShape describes the payload a format expects from participants.
type AnswerShape string

const (
	// ShapeSelection is a list of selected option indexes.
	ShapeSelection AnswerShape = "SELECTION"
	// ShapeText is a single free-text body.
	ShapeText AnswerShape = "TEXT"
	// ShapeTexts is an ordered list of short texts.
	ShapeTexts AnswerShape = "TEXTS"
	// ShapePriority is a weight distribution over the content options.
	ShapePriority AnswerShape = "PRIORITY"
)

// formats is the registry of every supported format and its answer shape.
var formats = map[Format]AnswerShape{
	FormatChoice:       ShapeSelection,
	FormatBinary:       ShapeSelection,
	FormatScale:        ShapeSelection,
	FormatSort:         ShapeSelection,
	FormatText:         ShapeText,
	FormatWordcloud:    ShapeTexts,
	FormatPriorization: ShapePriority,
}

// Known reports whether f is a registered format.
func Known(f Format) bool {
	_, ok := formats[f]
	return ok
}

// Shape returns the answer shape a format expects. Unknown formats return an
// error; callers treat that as a data/format mismatch upstream.
func Shape(f Format) (AnswerShape, error) {
	shape, ok := formats[f]
	if !ok {
		return "", fmt.Errorf("unknown content format: %s", f)
	}
	return shape, nil
}

// ParseFormat normalizes a wire-format string into a Format.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(raw)))
	if !Known(f) {
		return "", apperrors.New(apperrors.CodeContentUnknownFormat, fmt.Sprintf("unknown content format %q", raw))
	}
	return f, nil
}

// ChoiceSpec carries the option list and correctness rules shared by choice,
// binary, and sort contents. For sort contents CorrectIndexes is the canonical
// order rather than a set.
type ChoiceSpec struct {
	Options        []string `json:"options"`
	CorrectIndexes []int    `json:"correctIndexes,omitempty"`
	Multiple       bool     `json:"multiple,omitempty"`
}

// ScaleSpec parameterizes a scale content. Scale answers reuse the selection
// shape but are informational only and never scored.
type ScaleSpec struct {
	OptionCount int    `json:"optionCount"`
	Template    string `json:"template,omitempty"`
}

// WordcloudSpec caps how many texts one participant may contribute.
type WordcloudSpec struct {
	MaxAnswers int `json:"maxAnswers"`
}

// PriorizationSpec carries the options participants distribute weight over.
type PriorizationSpec struct {
	Options []string `json:"options"`
}

// Content is a prompt published within a room. Exactly one of the per-format
// spec fields is set, selected by Format.
type Content struct {
	ID                 string
	RoomID             string
	Format             Format
	Round              int
	AbstentionsAllowed bool

	Choice       *ChoiceSpec
	Scale        *ScaleSpec
	Wordcloud    *WordcloudSpec
	Priorization *PriorizationSpec
}

// OptionCount returns the number of selectable options for selection-shaped
// and priority-shaped contents, and 0 for free-text formats.
func (c Content) OptionCount() int {
	switch c.Format {
	case FormatChoice, FormatBinary, FormatSort:
		if c.Choice == nil {
			return 0
		}
		return len(c.Choice.Options)
	case FormatScale:
		if c.Scale == nil {
			return 0
		}
		return c.Scale.OptionCount
	case FormatPriorization:
		if c.Priorization == nil {
			return 0
		}
		return len(c.Priorization.Options)
	default:
		return 0
	}
}

// Validate checks structural invariants before a content is persisted.
func (c Content) Validate() error {
	if strings.TrimSpace(c.RoomID) == "" {
		return apperrors.New(apperrors.CodeContentEmptyRoomID, "content room id is required")
	}
	if !Known(c.Format) {
		return apperrors.New(apperrors.CodeContentUnknownFormat, fmt.Sprintf("unknown content format %q", c.Format))
	}
	if c.Round != 0 && c.Round != 1 && c.Round != 2 {
		return apperrors.New(apperrors.CodeContentInvalidRound, "content round must be 1 or 2")
	}

	switch c.Format {
	case FormatChoice, FormatBinary, FormatSort:
		if c.Choice == nil || len(c.Choice.Options) == 0 {
			return apperrors.New(apperrors.CodeContentOptionsRequired, "options are required for selection contents")
		}
		for _, idx := range c.Choice.CorrectIndexes {
			if idx < 0 || idx >= len(c.Choice.Options) {
				return apperrors.New(apperrors.CodeContentCorrectOutOfRange,
					fmt.Sprintf("correct option index %d outside options range", idx))
			}
		}
	case FormatScale:
		if c.Scale == nil || c.Scale.OptionCount <= 0 {
			return apperrors.New(apperrors.CodeContentOptionsRequired, "scale contents require a positive option count")
		}
	case FormatPriorization:
		if c.Priorization == nil || len(c.Priorization.Options) == 0 {
			return apperrors.New(apperrors.CodeContentOptionsRequired, "options are required for priorization contents")
		}
	}
	return nil
}

// CurrentRound returns the round statistics and scoring apply to. Contents
// created before rounds existed default to round 1.
func (c Content) CurrentRound() int {
	if c.Round == 0 {
		return 1
	}
	return c.Round
}
