// Package wake implements the pub/sub wake signals that let the
// scheduler, worker pool, and inbound fan-out nudge each other without
// waiting out a full poll interval. Delivery is always a latency
// optimization, never a correctness requirement: every consumer also
// wakes on its own ticker, so a dropped or unsubscribed signal just
// means the next tick picks up the work instead.
package wake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// TopicScheduler wakes the scheduler tick early, used when a task
	// is created or re-enabled with a near-term next_run_at.
	TopicScheduler = "runlater:wake:scheduler"
	// TopicWorkers is published whenever a pending execution is created
	// (scheduler fire, inbound fan-out, retry, host-block recovery). No
	// worker loop subscribes to it: idle workers pick up new executions
	// on their own 2s-5s poll backoff.
	TopicWorkers = "runlater:wake:workers"
)

// Broadcaster fans a topic out to every local subscriber and, when a
// Redis client is configured, to every other node's Broadcaster via
// PUBLISH/SUBSCRIBE. It is never used for leader election — that stays
// on Postgres advisory locks exclusively.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string][]chan struct{}
	redis  *redis.Client
	logger *slog.Logger
}

// New returns a Broadcaster. redisClient may be nil, in which case
// wake signals stay in-process — correct for a single-node deployment,
// and still correct (just slightly higher latency) for a multi-node
// one, since every consumer has its own ticker fallback.
func New(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string][]chan struct{}),
		redis:  redisClient,
		logger: logger.With("component", "wake"),
	}
}

// Subscribe returns a channel that receives a value every time topic
// is published, locally or (when Redis-backed) from another node. The
// channel is buffered by one and never closed; callers select on it
// alongside their own ticker.
func (b *Broadcaster) Subscribe(topic string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish wakes every local subscriber of topic and, when Redis-backed,
// every other node's subscribers too. Never blocks: a subscriber that
// is not ready to receive simply misses this particular nudge.
func (b *Broadcaster) Publish(ctx context.Context, topic string) {
	b.broadcastLocal(topic)
	if b.redis == nil {
		return
	}
	if err := b.redis.Publish(ctx, topic, "1").Err(); err != nil {
		b.logger.Warn("redis wake publish failed", "topic", topic, "error", err)
	}
}

func (b *Broadcaster) broadcastLocal(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run relays Redis-published wake signals into the local fan-out until
// ctx is canceled. It is a no-op when no Redis client is configured.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.redis == nil {
		return
	}
	sub := b.redis.Subscribe(ctx, TopicScheduler, TopicWorkers)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.broadcastLocal(msg.Channel)
		}
	}
}
