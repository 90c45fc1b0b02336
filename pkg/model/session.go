package model

import "time"

// DefaultMaxTurns bounds the in-memory conversation buffer per session.
const DefaultMaxTurns = 20

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversation turn. Owned exclusively by its Session.
type Turn struct {
	Role      Role
	Text      string
	SQL       string // SQL generated for this turn, if any
	Timestamp time.Time
}

// Session is the short-term conversation buffer for one interactive
// session. It lives only in process memory and is lost on restart.
type Session struct {
	ID       string
	Turns    []*Turn
	MaxTurns int
}

// NewSession creates an empty session with the default turn bound.
func NewSession(id string) *Session {
	return &Session{
		ID:       id,
		MaxTurns: DefaultMaxTurns,
	}
}

// Append adds a turn and evicts the oldest turns so that
// len(Turns) never exceeds MaxTurns. Callers must serialize access
// per session; the store is responsible for that.
func (s *Session) Append(turn *Turn) {
	s.Turns = append(s.Turns, turn)
	if max := s.MaxTurns; max > 0 && len(s.Turns) > max {
		s.Turns = s.Turns[len(s.Turns)-max:]
	}
}

// Recent returns up to n of the most recent turns in original order.
func (s *Session) Recent(n int) []*Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Clone returns a deep copy so the pipeline can read turns without
// holding the store's lock.
func (s *Session) Clone() *Session {
	turns := make([]*Turn, len(s.Turns))
	for i, t := range s.Turns {
		c := *t
		turns[i] = &c
	}
	return &Session{ID: s.ID, Turns: turns, MaxTurns: s.MaxTurns}
}
