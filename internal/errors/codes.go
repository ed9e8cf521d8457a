// Package errors provides structured domain errors with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Room errors
	CodeRoomNameEmpty Code = "ROOM_NAME_EMPTY"
	CodeRoomIDEmpty   Code = "ROOM_ID_EMPTY"

	// Content errors
	CodeContentUnknownFormat     Code = "CONTENT_UNKNOWN_FORMAT"
	CodeContentEmptyRoomID       Code = "CONTENT_EMPTY_ROOM_ID"
	CodeContentOptionsRequired   Code = "CONTENT_OPTIONS_REQUIRED"
	CodeContentInvalidRound      Code = "CONTENT_INVALID_ROUND"
	CodeContentCorrectOutOfRange Code = "CONTENT_CORRECT_OPTION_OUT_OF_RANGE"

	// Answer errors
	CodeAnswerEmptyContentID Code = "ANSWER_EMPTY_CONTENT_ID"
	CodeAnswerEmptyCreatorID Code = "ANSWER_EMPTY_CREATOR_ID"
	CodeAnswerInvalidRound   Code = "ANSWER_INVALID_ROUND"
	CodeAnswerShapeMismatch  Code = "ANSWER_SHAPE_MISMATCH"

	// Feedback errors
	CodeFeedbackInvalidValue Code = "FEEDBACK_INVALID_VALUE"
	CodeFeedbackEmptyUserID  Code = "FEEDBACK_EMPTY_USER_ID"

	// Auth errors
	CodeTokenInvalid      Code = "TOKEN_INVALID"
	CodeTokenRoomMismatch Code = "TOKEN_ROOM_MISMATCH"
	CodeModeratorRequired Code = "MODERATOR_REQUIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeRoomNameEmpty,
		CodeRoomIDEmpty,
		CodeContentUnknownFormat,
		CodeContentEmptyRoomID,
		CodeContentOptionsRequired,
		CodeContentInvalidRound,
		CodeContentCorrectOutOfRange,
		CodeAnswerEmptyContentID,
		CodeAnswerEmptyCreatorID,
		CodeAnswerInvalidRound,
		CodeAnswerShapeMismatch,
		CodeFeedbackInvalidValue,
		CodeFeedbackEmptyUserID:
		return http.StatusBadRequest

	case CodeTokenInvalid:
		return http.StatusUnauthorized

	case CodeTokenRoomMismatch,
		CodeModeratorRequired:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
