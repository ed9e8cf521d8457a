package app

import (
	"log"
	"strings"
	"sync"
)

// Broadcast message type names, as rendered in the "type" field of every
// outbound message.
const (
	MessageTypeAnswersChanged    = "AnswersChanged"
	MessageTypeTextAnswerCreated = "TextAnswerCreated"
	MessageTypeFeedbackChanged   = "FeedbackChanged"
	MessageTypeFeedbackStarted   = "FeedbackStarted"
	MessageTypeFeedbackStopped   = "FeedbackStopped"
	MessageTypeFeedbackReset     = "FeedbackReset"
)

// Message is the envelope of every broadcast: a type name and a
// type-specific payload.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Routing keys address messages on the shared topic space. Room and content
// identifiers are opaque and never contain "." or "-", so the templates
// parse unambiguously.

// AnswersChangedKey routes the per-content statistics broadcast.
func AnswersChangedKey(roomID, contentID string) string {
	return roomID + ".content-" + contentID + ".answers-changed.stream"
}

// TextAnswerCreatedKey routes the immediate single-answer broadcast for
// newly created text-like answers.
func TextAnswerCreatedKey(roomID, contentID string) string {
	return roomID + ".content-" + contentID + ".text-answer-created.stream"
}

// FeedbackKey routes every room-scoped feedback broadcast.
func FeedbackKey(roomID string) string {
	return roomID + ".feedback.stream"
}

// Publisher sends a message to a routing key. The hub implements it;
// tests substitute capturing fakes.
type Publisher interface {
	Publish(key string, msg Message)
}

// Delivery pairs a routed message with the key it was published under.
type Delivery struct {
	Key     string
	Message Message
}

// Subscriber receives the deliveries of one room over a buffered channel.
// A subscriber that falls behind has its oldest pending deliveries dropped
// rather than stalling the publisher.
type Subscriber struct {
	roomID string
	ch     chan Delivery
}

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan Delivery { return s.ch }

// RoomID returns the room scope of this subscription.
func (s *Subscriber) RoomID() string { return s.roomID }

// Hub fans broadcast messages out to room-scoped subscribers. Publishing
// never blocks.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber for every key scoped to roomID.
func (h *Hub) Subscribe(roomID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscriber{roomID: roomID, ch: make(chan Delivery, buffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()
	if present {
		close(sub.ch)
	}
}

// Publish delivers the message to every subscriber whose room prefixes the
// routing key. Slow subscribers lose their oldest pending delivery.
func (h *Hub) Publish(key string, msg Message) {
	delivery := Delivery{Key: key, Message: msg}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if !strings.HasPrefix(key, sub.roomID+".") {
			continue
		}
		for {
			select {
			case sub.ch <- delivery:
			default:
				select {
				case stale := <-sub.ch:
					log.Printf("broadcast: dropped stale delivery %s for slow subscriber", stale.Key)
				default:
					// The subscriber drained the queue; the send retries.
				}
				continue
			}
			break
		}
	}
}
