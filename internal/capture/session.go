package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/speechlink/internal/utterance"
)

// SessionStatus is the lifecycle of one recording.
type SessionStatus int

const (
	SessionOpen SessionStatus = iota
	SessionStopped
	SessionDiscarded
)

// Session is one press-and-hold recording. Only the controller loop touches it.
type Session struct {
	ID        string
	StartedAt time.Time
	Status    SessionStatus

	fragments [][]byte
	size      int
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: now,
		Status:    SessionOpen,
	}
}

// append adds a fragment in delivery order. Empty fragments are skipped.
func (s *Session) append(data []byte) {
	if s.Status != SessionOpen || len(data) == 0 {
		return
	}
	s.fragments = append(s.fragments, data)
	s.size += len(data)
}

// Size returns the number of bytes received so far.
func (s *Session) Size() int {
	return s.size
}

// Fragments returns the number of fragments received so far.
func (s *Session) Fragments() int {
	return len(s.fragments)
}

// close marks the session stopped and builds its utterance.
func (s *Session) close(now time.Time) utterance.Utterance {
	s.Status = SessionStopped
	u := utterance.New(s.ID, s.StartedAt, now.Sub(s.StartedAt), s.fragments)
	s.fragments = nil
	return u
}

// discard drops everything received.
func (s *Session) discard() {
	s.Status = SessionDiscarded
	s.fragments = nil
}
