// Package storage defines the persistence contract of the interaction
// service and the change events the write path emits.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Room is the top-level container for a live session.
type Room struct {
	ID             string
	Name           string
	FeedbackLocked bool
	CreatedAt      time.Time
}

// OperationKind classifies a bulk change event.
type OperationKind string

const (
	OperationCreated OperationKind = "created"
	OperationUpdated OperationKind = "updated"
	OperationDeleted OperationKind = "deleted"
)

// ChangeEvent is a batch notification that answers were written or removed
// in one persistence operation. One event may span several content items.
type ChangeEvent struct {
	EntityType string
	Kind       OperationKind
	Answers    []answer.Answer
}

// EntityTypeAnswer names the answer entity in change events.
const EntityTypeAnswer = "answer"

// ChangeListener receives change events after the underlying write commits.
// Implementations must not block the caller for long; heavy work belongs on
// the listener's own goroutines.
type ChangeListener interface {
	AnswersChanged(ctx context.Context, event ChangeEvent)
}

// RoomStore persists rooms.
type RoomStore interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	// DeleteRoom removes the room and cascades to its contents and answers.
	DeleteRoom(ctx context.Context, id string) error
}

// ContentStore persists content items.
type ContentStore interface {
	PutContent(ctx context.Context, c content.Content) error
	GetContent(ctx context.Context, id string) (content.Content, error)
	ListContents(ctx context.Context, roomID string) ([]content.Content, error)
}

// AnswerStore persists answers with idempotent upsert semantics on
// (creator, content, round).
type AnswerStore interface {
	// UpsertAnswer stores the answer, replacing any earlier answer by the
	// same creator for the same content and round. It reports whether a new
	// row was created.
	UpsertAnswer(ctx context.Context, a answer.Answer) (created bool, err error)
	// ImportAnswers stores a batch of answers in one operation, emitting a
	// single bulk change event.
	ImportAnswers(ctx context.Context, answers []answer.Answer) error
	ListAnswers(ctx context.Context, contentID string, round int) ([]answer.Answer, error)
}

// Store combines every persistence interface of the service.
type Store interface {
	RoomStore
	ContentStore
	AnswerStore
}
