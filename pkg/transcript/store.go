package transcript

import "sync"

// Observer is notified after a turn has been appended. index is the position
// of the turn in the transcript.
type Observer func(index int, t Turn)

// Store is the ordered, append-only transcript of a single session.
// Insertion order is conversational order.
type Store struct {
	mu        sync.RWMutex
	turns     []Turn
	observers []Observer
}

type StoreOption func(*Store)

// WithObserver registers a callback invoked after every Append.
func WithObserver(o Observer) StoreOption {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds t to the end of the transcript.
func (s *Store) Append(t Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, t)
	idx := len(s.turns) - 1
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o(idx, t)
	}
}

// All returns a copy of the transcript, front to back.
func (s *Store) All() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
