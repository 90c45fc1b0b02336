package session

import (
	"context"
	"sync"

	"github.com/stoatlab/stoat/pkg/model"
)

// Store is the short-term conversation buffer shared by concurrent
// requests. Load and Append are the only operations the pipeline needs;
// a distributed backend can sit behind the same contract.
type Store interface {
	// Load returns a snapshot of the session, creating an empty one on
	// first use of a session ID.
	Load(ctx context.Context, sessionID string) (*model.Session, error)

	// Append adds a turn and applies the max-turns eviction atomically,
	// so no reader ever observes a buffer above the bound.
	Append(ctx context.Context, sessionID string, turn *model.Turn) error
}

type entry struct {
	mu      sync.Mutex
	session *model.Session
}

// MemoryStore is the process-scoped in-memory Store. Sessions start
// empty at process start and are gone after restart; the buffer is
// short-term memory only.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	maxTurns int
}

type Option func(*MemoryStore)

// WithMaxTurns overrides the per-session turn bound.
func WithMaxTurns(n int) Option {
	return func(s *MemoryStore) {
		s.maxTurns = n
	}
}

// NewMemoryStore creates an empty session store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries:  make(map[string]*entry),
		maxTurns: model.DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) entryOf(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		sess := model.NewSession(sessionID)
		sess.MaxTurns = s.maxTurns
		e = &entry{session: sess}
		s.entries[sessionID] = e
	}
	return e
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*model.Session, error) {
	e := s.entryOf(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn *model.Turn) error {
	e := s.entryOf(sessionID)

	// Appends for one session are serialized here; overlapping requests
	// cannot interleave mid-eviction.
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Append(turn)
	return nil
}
