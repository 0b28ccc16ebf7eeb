package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

// scriptedReader hands out msgs in order, then blocks until ctx ends.
type scriptedReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func runConsumer(t *testing.T, c *Consumer, handle Handler, wantCommits int, r *scriptedReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, handle)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(r.commits()) < wantCommits && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestConsumerCommitsAfterHandling(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Offset: 1, Headers: []kafka.Header{{Key: outbox.HeaderEventID, Value: []byte("e-1")}}},
		{Offset: 2, Headers: []kafka.Header{{Key: outbox.HeaderEventID, Value: []byte("e-2")}}},
	}}
	c := newConsumer(r, slog.New(slog.NewTextHandler(io.Discard, nil)), ConsumerConfig{RetryDelay: time.Millisecond})

	var seen []string
	runConsumer(t, c, func(_ context.Context, msg kafka.Message) error {
		seen = append(seen, ExtractEventMeta(msg).EventID)
		return nil
	}, 2, r)

	if got := r.commits(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("commits = %v", got)
	}
	if len(seen) != 2 || seen[0] != "e-1" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestConsumerRetriesThenSkips(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{{Offset: 7}, {Offset: 8}}}
	c := newConsumer(r, slog.New(slog.NewTextHandler(io.Discard, nil)), ConsumerConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})

	attempts := map[int64]int{}
	runConsumer(t, c, func(_ context.Context, msg kafka.Message) error {
		attempts[msg.Offset]++
		if msg.Offset == 7 && attempts[7] < 2 {
			return errors.New("transient")
		}
		if msg.Offset == 8 {
			return errors.New("poison")
		}
		return nil
	}, 2, r)

	if attempts[7] != 2 || attempts[8] != 3 {
		t.Fatalf("attempts = %v", attempts)
	}
	if got := r.commits(); len(got) != 2 {
		t.Fatalf("commits = %v", got)
	}
}

func TestNewConsumerValidates(t *testing.T) {
	if _, err := NewConsumer(ConsumerConfig{GroupID: "g", Topics: []string{"t"}}, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewConsumer(ConsumerConfig{Brokers: "k:9092"}, nil); err == nil {
		t.Fatal("expected error without group and topics")
	}
}
