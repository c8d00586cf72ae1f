package status

import (
	"context"
	"sync"
)

// MemoryStore keeps status history in process. Transitions on one subsystem
// are serialized; different subsystems proceed independently.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[Subsystem][]Record
	locks   map[Subsystem]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with the given records.
func NewMemoryStore(initial ...Record) *MemoryStore {
	s := &MemoryStore{
		history: make(map[Subsystem][]Record),
		locks:   make(map[Subsystem]*sync.Mutex),
	}
	for _, rec := range initial {
		s.history[rec.Subsystem] = append(s.history[rec.Subsystem], rec)
	}
	return s
}

func (s *MemoryStore) Current(ctx context.Context, subsystem Subsystem) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[subsystem]
	if len(h) == 0 {
		return Record{}, ErrNotFound
	}
	return h[len(h)-1], nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(subsystems))
	for _, sub := range subsystems {
		if h := s.history[sub]; len(h) > 0 {
			out = append(out, h[len(h)-1])
		}
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[rec.Subsystem] = append(s.history[rec.Subsystem], rec)
	return nil
}

func (s *MemoryStore) Transition(ctx context.Context, subsystem Subsystem, fn func(Record) (Record, error)) (Record, error) {
	lock := s.lockFor(subsystem)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	current, err := s.Current(ctx, subsystem)
	if err == ErrNotFound {
		current = Record{}
	} else if err != nil {
		return Record{}, err
	}
	next, err := fn(current)
	if err != nil {
		return Record{}, err
	}
	if err := s.Insert(ctx, next); err != nil {
		return Record{}, err
	}
	return next, nil
}

// History returns every record of subsystem, oldest first.
func (s *MemoryStore) History(subsystem Subsystem) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.history[subsystem]...)
}

func (s *MemoryStore) lockFor(subsystem Subsystem) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[subsystem]
	if !ok {
		l = &sync.Mutex{}
		s.locks[subsystem] = l
	}
	return l
}
