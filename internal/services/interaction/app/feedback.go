package app

import (
	"context"
	"log"
	"sync"
	"time"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/feedback"
)

// emptyPayload serializes lifecycle messages as "payload":{} rather than
// null.
type emptyPayload struct{}

// feedbackChangedPayload is the histogram broadcast after every accepted
// vote and after a reset.
type feedbackChangedPayload struct {
	Values feedback.Histogram `json:"values"`
	Total  int                `json:"total"`
}

// FeedbackService owns the live feedback survey of every active room.
// Surveys are held in memory only; restarting the service starts every room
// from an empty, locked survey.
type FeedbackService struct {
	pub Publisher
	ttl time.Duration

	mu    sync.Mutex
	rooms map[string]*roomSurvey
}

type roomSurvey struct {
	survey       *feedback.Survey
	lastActivity time.Time
}

// NewFeedbackService creates a service publishing through pub. Surveys idle
// longer than ttl are cleared by the sweeper; ttl <= 0 disables expiry.
func NewFeedbackService(pub Publisher, ttl time.Duration) *FeedbackService {
	return &FeedbackService{
		pub:   pub,
		ttl:   ttl,
		rooms: make(map[string]*roomSurvey),
	}
}

// Register creates the survey for a room, replacing any existing one.
func (s *FeedbackService) Register(roomID string, locked bool) {
	s.mu.Lock()
	s.rooms[roomID] = &roomSurvey{
		survey:       feedback.NewSurvey(locked),
		lastActivity: time.Now(),
	}
	s.mu.Unlock()
}

// Remove drops a room's survey, typically when the room is deleted.
func (s *FeedbackService) Remove(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

func (s *FeedbackService) room(roomID string) (*roomSurvey, error) {
	rs, ok := s.rooms[roomID]
	if !ok {
		return nil, apperrors.New(apperrors.CodeNotFound, "room has no feedback survey")
	}
	return rs, nil
}

// SubmitVote records one participant's feedback value and broadcasts the
// rebuilt histogram. Votes against a locked survey are silently discarded
// and trigger no broadcast.
func (s *FeedbackService) SubmitVote(roomID, userID string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.room(roomID)
	if err != nil {
		return err
	}
	accepted, err := rs.survey.Vote(userID, value)
	if err != nil {
		return err
	}
	if !accepted {
		return nil
	}
	rs.lastActivity = time.Now()
	s.publishHistogram(roomID, rs.survey)
	return nil
}

// Reset discards every vote of the room, regardless of the lock state, and
// broadcasts the reset followed by the zeroed histogram.
func (s *FeedbackService) Reset(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.room(roomID)
	if err != nil {
		return err
	}
	rs.survey.Reset()
	rs.lastActivity = time.Now()
	s.pub.Publish(FeedbackKey(roomID), Message{Type: MessageTypeFeedbackReset, Payload: emptyPayload{}})
	s.publishHistogram(roomID, rs.survey)
	return nil
}

// SetLocked changes whether the room accepts votes. A lock transition is
// broadcast as FeedbackStopped, an unlock as FeedbackStarted; setting the
// current state again broadcasts nothing.
func (s *FeedbackService) SetLocked(roomID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.room(roomID)
	if err != nil {
		return err
	}
	if !rs.survey.SetLocked(locked) {
		return nil
	}
	rs.lastActivity = time.Now()
	messageType := MessageTypeFeedbackStarted
	if locked {
		messageType = MessageTypeFeedbackStopped
	}
	s.pub.Publish(FeedbackKey(roomID), Message{Type: messageType, Payload: emptyPayload{}})
	return nil
}

// Histogram returns the room's current vote distribution.
func (s *FeedbackService) Histogram(roomID string) (feedback.Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.room(roomID)
	if err != nil {
		return feedback.Histogram{}, err
	}
	return rs.survey.Histogram(), nil
}

// Locked reports whether the room's survey is currently locked.
func (s *FeedbackService) Locked(roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.room(roomID)
	if err != nil {
		return false, err
	}
	return rs.survey.Locked(), nil
}

// publishHistogram must be called with the service lock held.
func (s *FeedbackService) publishHistogram(roomID string, survey *feedback.Survey) {
	h := survey.Histogram()
	s.pub.Publish(FeedbackKey(roomID), Message{
		Type:    MessageTypeFeedbackChanged,
		Payload: feedbackChangedPayload{Values: h, Total: h.Total()},
	})
}

// RunSweeper clears surveys that saw no activity for the configured ttl,
// checking every interval until the context is canceled.
func (s *FeedbackService) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *FeedbackService) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, rs := range s.rooms {
		if now.Sub(rs.lastActivity) < s.ttl {
			continue
		}
		if rs.survey.Histogram().Total() == 0 {
			continue
		}
		log.Printf("feedback: expiring idle survey for room %s", roomID)
		rs.survey.Reset()
		rs.lastActivity = now
		s.pub.Publish(FeedbackKey(roomID), Message{Type: MessageTypeFeedbackReset, Payload: emptyPayload{}})
		s.publishHistogram(roomID, rs.survey)
	}
}
