package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blockDuration     = 5 * time.Second
	backoffInitial    = 500 * time.Millisecond
	backoffMax        = 30 * time.Second
	claimIdleTimeout  = 5 * time.Minute
	claimBatchSize    = 50
	readBatchSize     = 10
	payloadField      = "payload"
)

// RedisListener implements Listener against a Redis stream using a named
// consumer group, per spec §4.6.
type RedisListener struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	log           *slog.Logger
	out           chan Message
}

// NewRedisListener connects to addr and ensures the consumer group exists
// (creating both stream and group with MKSTREAM if absent).
func NewRedisListener(ctx context.Context, addr, stream, group, consumer string) (*RedisListener, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	l := &RedisListener{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		log:      slog.With("component", "stream-listener", "stream", stream, "group", group),
		out:      make(chan Message),
	}

	if err := l.connectWithRetry(ctx); err != nil {
		return nil, err
	}

	return l, nil
}

// connectWithRetry pings Redis and ensures the consumer group exists,
// retrying with exponential backoff (base 500ms, max 30s, unbounded).
func (l *RedisListener) connectWithRetry(ctx context.Context) error {
	backoffDur := backoffInitial
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pingCtx, cancel := context.WithTimeout(ctx, blockDuration)
		err := l.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			break
		}

		l.log.Warn("redis connection failed, retrying", "backoff", backoffDur, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDur):
		}
		backoffDur = min(backoffDur*2, backoffMax)
	}

	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	return nil
}

// Listen claims stale pending messages, then streams new deliveries until
// ctx is canceled.
func (l *RedisListener) Listen(ctx context.Context) <-chan Message {
	go l.run(ctx)
	return l.out
}

func (l *RedisListener) run(ctx context.Context) {
	defer close(l.out)

	l.reclaimPending(ctx)

	backoffDur := backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.group,
			Consumer: l.consumer,
			Streams:  []string{l.stream, ">"},
			Count:    readBatchSize,
			Block:    blockDuration,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			l.log.Warn("stream read failed, reconnecting", "backoff", backoffDur, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDur):
			}
			backoffDur = min(backoffDur*2, backoffMax)
			continue
		}
		backoffDur = backoffInitial

		for _, s := range streams {
			for _, entry := range s.Messages {
				l.deliver(ctx, entry)
			}
		}
	}
}

func (l *RedisListener) reclaimPending(ctx context.Context) {
	var cursor string = "0-0"
	for {
		entries, next, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   l.stream,
			Group:    l.group,
			Consumer: l.consumer,
			MinIdle:  claimIdleTimeout,
			Start:    cursor,
			Count:    claimBatchSize,
		}).Result()
		if err != nil {
			l.log.Warn("pending reclaim failed", "error", err)
			return
		}

		for _, entry := range entries {
			l.deliver(ctx, entry)
		}

		if next == "" || next == "0-0" || len(entries) == 0 {
			return
		}
		cursor = next
	}
}

// deliver decodes entry and forwards it to l.out. A missing payload field
// or a validation failure still produces a Message: the orchestrator, not
// the listener, decides how a poison message gets recorded and acked.
func (l *RedisListener) deliver(ctx context.Context, entry redis.XMessage) {
	payload, ok := entry.Values[payloadField].(string)
	if !ok {
		l.log.Error("stream entry missing payload field, forwarding as invalid input", "id", entry.ID)
		l.forward(ctx, Message{ID: entry.ID, InvalidInput: &InvalidInput{Err: fmt.Errorf("stream entry missing %q field", payloadField)}})
		return
	}

	kr, rawKillID, err := decodePayload(payload)
	if err != nil {
		l.log.Error("stream entry failed validation, forwarding as invalid input", "id", entry.ID, "error", err)
		l.forward(ctx, Message{ID: entry.ID, InvalidInput: &InvalidInput{KillID: rawKillID, Err: err}})
		return
	}

	l.forward(ctx, Message{ID: entry.ID, KillReport: *kr})
}

func (l *RedisListener) forward(ctx context.Context, msg Message) {
	select {
	case l.out <- msg:
	case <-ctx.Done():
	}
}

// Ack confirms processing of id.
func (l *RedisListener) Ack(ctx context.Context, id string) error {
	return l.client.XAck(ctx, l.stream, l.group, id).Err()
}

// Close releases the underlying Redis connection.
func (l *RedisListener) Close() error {
	return l.client.Close()
}
