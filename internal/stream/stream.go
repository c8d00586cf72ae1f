// Package stream fans subsystem status changes out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"saltapi/internal/status"
)

const bufferSize = 16

// Stream fan-outs status records to all active subscribers (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan status.Record
	next    int
	dropped atomic.Uint64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan status.Record)}
}

// Subscribe registers a subscriber and returns a channel which will receive records.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan status.Record {
	ch := make(chan status.Record, bufferSize)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the record to all subscribers. A subscriber whose buffer is
// full misses the record.
func (s *Stream) Publish(rec status.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}
