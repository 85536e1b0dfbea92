package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream key frames are appended to.
const DefaultStream = "xrcore:frames"

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately to this many entries.
	// Zero keeps everything.
	MaxLen int64
}

// RedisBus appends frames to a Redis stream. Each entry has a "frame" field
// holding the JSON frame plus "type" and "cycle" for server-side filtering.
type RedisBus struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisBus connects lazily; the first Publish or Ping dials.
func NewRedisBus(opts RedisOptions) *RedisBus {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisBusWithClient(rdb, opts.Stream, opts.MaxLen)
}

// NewRedisBusWithClient wraps an existing client.
func NewRedisBusWithClient(client *redis.Client, stream string, maxLen int64) *RedisBus {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisBus{client: client, stream: stream, maxLen: maxLen}
}

// Ping checks connectivity.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Stream returns the stream key.
func (b *RedisBus) Stream() string { return b.stream }

func (b *RedisBus) Publish(ctx context.Context, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{
			"frame": string(data),
			"type":  string(f.Type),
			"cycle": f.Cycle,
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis bus publish: %w", err)
	}
	return nil
}

// ReadAll returns every frame currently in the stream, oldest first.
func (b *RedisBus) ReadAll(ctx context.Context) ([]Frame, error) {
	msgs, err := b.client.XRange(ctx, b.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis bus read: %w", err)
	}
	out := make([]Frame, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["frame"].(string)
		if !ok {
			return nil, fmt.Errorf("redis bus read: entry %s has no frame field", m.ID)
		}
		f, err := Decode([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("redis bus read: entry %s: %w", m.ID, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Drop deletes the stream and every frame in it. Length capping is done on
// publish through MaxLen.
func (b *RedisBus) Drop(ctx context.Context) error {
	return b.client.Del(ctx, b.stream).Err()
}

// Close releases the client connection pool. The stream is left in place.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
