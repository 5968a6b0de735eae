package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// streamMaxLen caps each request/response stream so a stalled consumer group
// cannot grow Redis memory unbounded; XADD approximately trims with "~" to
// keep the trim itself cheap.
const streamMaxLen = 100_000

// RedisBus is a Bus backed by Redis Streams.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisBusOptions configures a RedisBus.
type RedisBusOptions struct {
	URL    string
	DB     int
	Logger *slog.Logger
}

// NewRedisBus dials Redis and returns a Bus backed by it.
func NewRedisBus(ctx context.Context, opts RedisBusOptions) (*RedisBus, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	redisOpts.DB = opts.DB

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis bus db %d: %w", opts.DB, err)
	}

	return &RedisBus{client: client, logger: opts.Logger}, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Dispatch XADDs req onto topic, partitioned implicitly by putting
// SessionID in the stream entry so a consumer group fan-out can still
// recover per-session order by inspecting it if needed.
func (b *RedisBus) Dispatch(ctx context.Context, topic string, req TaskRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode task request: %w", err)
	}

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"correlation_id": req.CorrelationID,
			"session_id":     req.SessionID,
			"data":           data,
		},
	}).Err()
}

// Subscribe consumes topic as part of group/consumer, creating the group
// from the start of the stream ("0") if it doesn't already exist. It loops
// XREADGROUP with a block timeout until ctx is canceled, acking each message
// handler returns nil for and leaving failures in the pending-entries list;
// nothing in this package claims or re-reads pending entries.
func (b *RedisBus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	if err := b.ensureGroup(ctx, topic, group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    2 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			b.logger.Warn("bus: XREADGROUP failed", "topic", topic, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handleMessage(ctx, topic, group, msg, handler)
			}
		}
	}
}

func (b *RedisBus) handleMessage(ctx context.Context, topic, group string, msg redis.XMessage, handler Handler) {
	raw, _ := msg.Values["data"].(string)
	var resp TaskResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		b.logger.Warn("bus: dropping malformed message", "topic", topic, "id", msg.ID, "error", err)
		b.client.XAck(ctx, topic, group, msg.ID)
		return
	}

	if err := handler(ctx, resp); err != nil {
		b.logger.Warn("bus: handler failed, leaving unacked for retry", "topic", topic, "id", msg.ID, "error", err)
		return
	}

	if err := b.client.XAck(ctx, topic, group, msg.ID).Err(); err != nil {
		b.logger.Warn("bus: ack failed", "topic", topic, "id", msg.ID, "error", err)
	}
}

func (b *RedisBus) ensureGroup(ctx context.Context, topic, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group %s on %s: %w", group, topic, err)
	}
	return nil
}
