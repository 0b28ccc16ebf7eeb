package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultNotifyChannel = "outbox:recorded"

// RedisNotifier forwards hints to other processes over Redis pub/sub so a
// relay running elsewhere wakes up without waiting for its poll interval.
// Notify only marks a hint pending; Run performs the PUBLISH, coalescing
// bursts into one message.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	pending chan struct{}
}

func NewRedisNotifier(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
		pending: make(chan struct{}, 1),
	}
}

func (n *RedisNotifier) Notify() {
	select {
	case n.pending <- struct{}{}:
	default:
	}
}

func (n *RedisNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.pending:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := n.client.Publish(pctx, n.channel, time.Now().UTC().Format(time.RFC3339Nano)).Err()
			cancel()
			if err != nil {
				n.logger.Warn("outbox notify publish failed", "channel", n.channel, "err", err)
			}
		}
	}
}

// ListenRedis subscribes to channel and calls target.Notify for every message
// until ctx is cancelled.
func ListenRedis(ctx context.Context, client redis.UniversalClient, channel string, target Notifier, logger *slog.Logger) error {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger.Info("outbox notify listener subscribed", "channel", channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-msgs:
			if !ok {
				return nil
			}
			target.Notify()
		}
	}
}
