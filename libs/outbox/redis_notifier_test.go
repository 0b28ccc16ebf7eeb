package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisNotifierWakesListener(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var woke atomic.Int32
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- ListenRedis(ctx, client, "test:outbox", NotifierFunc(func() { woke.Add(1) }), discardLogger())
	}()

	// The listener is ready once the channel shows a subscriber.
	waitFor(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "test:outbox").Result()
		return err == nil && n["test:outbox"] == 1
	})

	n := NewRedisNotifier(client, "test:outbox", discardLogger())
	go n.Run(ctx)
	n.Notify()

	waitFor(t, func() bool { return woke.Load() >= 1 })

	cancel()
	select {
	case err := <-listenErr:
		if err != nil {
			t.Fatalf("ListenRedis: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop")
	}
}

func TestRedisNotifierCoalescesPendingHints(t *testing.T) {
	n := NewRedisNotifier(newTestRedis(t), "", discardLogger())
	for i := 0; i < 5; i++ {
		n.Notify()
	}
	if len(n.pending) != 1 {
		t.Fatalf("expected one pending hint, got %d", len(n.pending))
	}
	if n.channel != DefaultNotifyChannel {
		t.Fatalf("channel = %q", n.channel)
	}
}
