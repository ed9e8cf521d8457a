// Package feedback models the live four-level room survey.
//
// Feedback is independent of scored content: each room keeps at most one
// active vote per participant, and the published histogram is always rebuilt
// from the current vote set, never incremented in place.
package feedback

import (
	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
)

// BucketCount is the number of feedback levels (values 0..3).
const BucketCount = 4

// Histogram counts active votes per feedback level.
type Histogram [BucketCount]int

// Total returns the number of votes cast since the last reset.
func (h Histogram) Total() int {
	sum := 0
	for _, count := range h {
		sum += count
	}
	return sum
}

// Survey holds one room's live feedback state: the active vote per user and
// the lock flag. Zero value is an empty, unlocked survey.
type Survey struct {
	votes  map[string]int
	locked bool
}

// NewSurvey creates an empty survey with the given initial lock state.
func NewSurvey(locked bool) *Survey {
	return &Survey{votes: make(map[string]int), locked: locked}
}

// Locked reports whether vote collection is currently inactive.
func (s *Survey) Locked() bool { return s.locked }

// SetLocked flips the lock flag and reports whether the state changed.
func (s *Survey) SetLocked(locked bool) bool {
	if s.locked == locked {
		return false
	}
	s.locked = locked
	return true
}

// Vote records a user's feedback value, replacing any prior vote by the
// same user. Voting on a locked survey is a defined no-op; accepted reports
// whether the vote was recorded.
func (s *Survey) Vote(userID string, value int) (accepted bool, err error) {
	if userID == "" {
		return false, apperrors.New(apperrors.CodeFeedbackEmptyUserID, "feedback user id is required")
	}
	if value < 0 || value >= BucketCount {
		return false, apperrors.New(apperrors.CodeFeedbackInvalidValue, "feedback value must be between 0 and 3")
	}
	if s.locked {
		return false, nil
	}
	if s.votes == nil {
		s.votes = make(map[string]int)
	}
	s.votes[userID] = value
	return true, nil
}

// Reset discards every stored vote. It works regardless of the lock state.
func (s *Survey) Reset() {
	s.votes = make(map[string]int)
}

// Histogram rebuilds the four-bucket histogram from the active vote set.
func (s *Survey) Histogram() Histogram {
	var h Histogram
	for _, value := range s.votes {
		if value >= 0 && value < BucketCount {
			h[value]++
		}
	}
	return h
}
