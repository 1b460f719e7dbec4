package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryTurnStore is a size-limited TurnStore. It mirrors the ordering
// semantics of the SQLite store.
type InMemoryTurnStore struct {
	mu      sync.Mutex
	maxRows int
	rows    []TurnRecord
}

var _ TurnStore = &InMemoryTurnStore{}

func NewInMemoryTurnStore(maxRows int) *InMemoryTurnStore {
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &InMemoryTurnStore{maxRows: maxRows}
}

func (s *InMemoryTurnStore) Save(_ context.Context, rec TurnRecord) error {
	if err := validateRecord(rec); err != nil {
		return errors.Wrap(err, "memory turn store")
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ConvID == rec.ConvID && s.rows[i].Index == rec.Index {
			s.rows[i] = rec
			return nil
		}
	}
	s.rows = append(s.rows, rec)
	if over := len(s.rows) - s.maxRows; over > 0 {
		s.rows = append([]TurnRecord(nil), s.rows[over:]...)
	}
	return nil
}

func (s *InMemoryTurnStore) List(_ context.Context, q TurnQuery) ([]TurnRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	convID := strings.TrimSpace(q.ConvID)
	role := strings.TrimSpace(q.Role)

	s.mu.Lock()
	out := make([]TurnRecord, 0, len(s.rows))
	for _, r := range s.rows {
		if convID != "" && r.ConvID != convID {
			continue
		}
		if role != "" && r.Role != role {
			continue
		}
		if q.SinceMs > 0 && r.CreatedAtMs < q.SinceMs {
			continue
		}
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs > out[j].CreatedAtMs
		}
		return out[i].Index > out[j].Index
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryTurnStore) Close() error { return nil }
