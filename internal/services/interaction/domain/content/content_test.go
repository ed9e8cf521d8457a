package content

import (
	"testing"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
)

func TestShapeCoversEveryFormat(t *testing.T) {
	tests := []struct {
		format Format
		want   AnswerShape
	}{
		{FormatChoice, ShapeSelection},
		{FormatBinary, ShapeSelection},
		{FormatScale, ShapeSelection},
		{FormatSort, ShapeSelection},
		{FormatText, ShapeText},
		{FormatWordcloud, ShapeTexts},
		{FormatPriorization, ShapePriority},
	}
	for _, tc := range tests {
		got, err := Shape(tc.format)
		if err != nil {
			t.Fatalf("shape(%s): %v", tc.format, err)
		}
		if got != tc.want {
			t.Fatalf("shape(%s) = %s, want %s", tc.format, got, tc.want)
		}
	}
}

func TestShapeRejectsUnknownFormat(t *testing.T) {
	if _, err := Shape(Format("HOLOGRAM")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseFormatNormalizes(t *testing.T) {
	f, err := ParseFormat(" wordcloud ")
	if err != nil {
		t.Fatalf("parse format: %v", err)
	}
	if f != FormatWordcloud {
		t.Fatalf("format = %s, want WORDCLOUD", f)
	}

	_, err = ParseFormat("emoji")
	if !apperrors.IsCode(err, apperrors.CodeContentUnknownFormat) {
		t.Fatalf("expected CONTENT_UNKNOWN_FORMAT, got %v", err)
	}
}

func TestValidateChoiceContent(t *testing.T) {
	valid := Content{
		RoomID: "room-1",
		Format: FormatChoice,
		Choice: &ChoiceSpec{Options: []string{"a", "b", "c"}, CorrectIndexes: []int{1}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	missingOptions := Content{RoomID: "room-1", Format: FormatChoice}
	if err := missingOptions.Validate(); !apperrors.IsCode(err, apperrors.CodeContentOptionsRequired) {
		t.Fatalf("expected CONTENT_OPTIONS_REQUIRED, got %v", err)
	}

	outOfRange := Content{
		RoomID: "room-1",
		Format: FormatChoice,
		Choice: &ChoiceSpec{Options: []string{"a", "b"}, CorrectIndexes: []int{2}},
	}
	if err := outOfRange.Validate(); !apperrors.IsCode(err, apperrors.CodeContentCorrectOutOfRange) {
		t.Fatalf("expected CONTENT_CORRECT_OPTION_OUT_OF_RANGE, got %v", err)
	}

	noRoom := Content{Format: FormatText}
	if err := noRoom.Validate(); !apperrors.IsCode(err, apperrors.CodeContentEmptyRoomID) {
		t.Fatalf("expected CONTENT_EMPTY_ROOM_ID, got %v", err)
	}
}

func TestValidateRound(t *testing.T) {
	c := Content{RoomID: "room-1", Format: FormatText, Round: 3}
	if err := c.Validate(); !apperrors.IsCode(err, apperrors.CodeContentInvalidRound) {
		t.Fatalf("expected CONTENT_INVALID_ROUND, got %v", err)
	}
}

func TestOptionCount(t *testing.T) {
	choice := Content{Format: FormatChoice, Choice: &ChoiceSpec{Options: []string{"a", "b", "c"}}}
	if got := choice.OptionCount(); got != 3 {
		t.Fatalf("choice option count = %d, want 3", got)
	}
	scale := Content{Format: FormatScale, Scale: &ScaleSpec{OptionCount: 5}}
	if got := scale.OptionCount(); got != 5 {
		t.Fatalf("scale option count = %d, want 5", got)
	}
	text := Content{Format: FormatText}
	if got := text.OptionCount(); got != 0 {
		t.Fatalf("text option count = %d, want 0", got)
	}
}

func TestCurrentRoundDefaultsToOne(t *testing.T) {
	if got := (Content{}).CurrentRound(); got != 1 {
		t.Fatalf("default round = %d, want 1", got)
	}
	if got := (Content{Round: 2}).CurrentRound(); got != 2 {
		t.Fatalf("round = %d, want 2", got)
	}
}
