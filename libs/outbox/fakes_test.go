package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory DeliveryStore that mirrors the Postgres semantics.
type memStore struct {
	mu       sync.Mutex
	order    []uuid.UUID
	records  map[uuid.UUID]*OutboxRecord
	history  map[uuid.UUID]int
	fetches  int
	fetchErr error
	markErr  error
}

func newMemStore() *memStore {
	return &memStore{records: map[uuid.UUID]*OutboxRecord{}, history: map[uuid.UUID]int{}}
}

func (s *memStore) add(eventType, aggregateID string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.records[id] = &OutboxRecord{
		ID:            id,
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: "User",
		ActorType:     ActorSystem,
		EventData:     json.RawMessage(`{"eventId":"` + id.String() + `"}`),
		CreatedAt:     time.Now().UTC(),
	}
	s.order = append(s.order, id)
	return id
}

func (s *memStore) get(id uuid.UUID) OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) historyCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[id]
}

func (s *memStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *memStore) UnpublishedBatch(_ context.Context, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []OutboxRecord
	for _, id := range s.order {
		r := s.records[id]
		if r.Published || r.DeadLetteredAt != nil {
			continue
		}
		out = append(out, *r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !r.Published {
		now := time.Now().UTC()
		r.Published = true
		r.PublishedAt = &now
		r.Error = ""
	}
	if s.history[id] == 0 {
		s.history[id] = 1
	}
	return nil
}

func (s *memStore) IncrementRetry(_ context.Context, id uuid.UUID, msg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return 0, ErrRecordNotFound
	}
	r.RetryCount++
	r.Error = msg
	return r.RetryCount, nil
}

func (s *memStore) MarkDeadLettered(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Published || r.DeadLetteredAt != nil {
		return ErrRecordNotFound
	}
	now := time.Now().UTC()
	r.DeadLetteredAt = &now
	if reason != "" {
		r.Error = reason
	}
	return nil
}

// scriptedBroker fails the first failures calls, then succeeds. A non-nil
// gate makes Publish block until the gate is closed or ctx ends.
type scriptedBroker struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []Message
	contexts []context.Context
	closed   bool
	entered  chan struct{}
	gate     chan struct{}
}

func (b *scriptedBroker) Publish(ctx context.Context, msg Message) error {
	if b.entered != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			b.mu.Lock()
			b.calls++
			b.mu.Unlock()
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.closed {
		return errors.New("broker closed")
	}
	if b.calls <= b.failures {
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, msg)
	b.contexts = append(b.contexts, ctx)
	return nil
}

func (b *scriptedBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *scriptedBroker) sentMessages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.sent...)
}

func (b *scriptedBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
