// ABOUTME: Redis Streams backend for resumable delivery
// ABOUTME: One capped stream per turn with a TTL; followers use XREAD BLOCK

package resumable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/serviceos-chat/internal/stream"
)

// Entry field names
const (
	fieldSeq   = "seq"
	fieldChunk = "chunk"
	fieldDone  = "done"
	fieldOpen  = "open"
)

// Defaults for RedisConfig.
const (
	DefaultKeyPrefix = "serviceos:stream"
	DefaultTTL       = 24 * time.Hour
	DefaultMaxLen    = 10000
	DefaultBlock     = 5 * time.Second
)

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
	MaxLen    int64
	// Block bounds each XREAD BLOCK call while following a live stream.
	Block  time.Duration
	Logger *slog.Logger
}

// RedisBackend stores streams in Redis.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	maxLen int64
	block  time.Duration
	logger *slog.Logger
}

// NewRedisBackend connects to cfg.URL.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBackendWithClient(redis.NewClient(opts), cfg), nil
}

// NewRedisBackendWithClient wraps an existing client. cfg.URL is ignored.
func NewRedisBackendWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisBackend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}
	return &RedisBackend{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		maxLen: cfg.MaxLen,
		block:  cfg.Block,
		logger: logger.With("component", "resumable.redis"),
	}
}

func (r *RedisBackend) key(streamID string) string {
	return r.prefix + ":" + streamID
}

// Ping checks the connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Create implements Backend. The stream starts with an open marker entry
// that followers skip.
func (r *RedisBackend) Create(ctx context.Context, streamID string) error {
	return r.add(ctx, streamID, map[string]any{fieldOpen: 1})
}

// Append implements Backend.
func (r *RedisBackend) Append(ctx context.Context, streamID string, c stream.Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	return r.add(ctx, streamID, map[string]any{fieldSeq: c.Seq, fieldChunk: data})
}

// Finish implements Backend.
func (r *RedisBackend) Finish(ctx context.Context, streamID string) error {
	return r.add(ctx, streamID, map[string]any{fieldDone: 1})
}

func (r *RedisBackend) add(ctx context.Context, streamID string, values map[string]any) error {
	key := r.key(streamID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: r.maxLen,
			Approx: true,
			Values: values,
		})
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}
	return nil
}

// Subscribe implements Backend.
func (r *RedisBackend) Subscribe(ctx context.Context, streamID string, after int64) (<-chan stream.Chunk, error) {
	key := r.key(streamID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("exists %s: %w", key, err)
	}
	if n == 0 {
		return nil, ErrNoStream
	}

	out := make(chan stream.Chunk, 16)
	go func() {
		defer close(out)
		if err := r.follow(ctx, key, after, out); err != nil && ctx.Err() == nil {
			r.logger.Warn("following stream failed", "key", key, "error", err)
		}
	}()
	return out, nil
}

// follow replays the stream from the start and then blocks for new entries
// until the done marker.
func (r *RedisBackend) follow(ctx context.Context, key string, after int64, out chan<- stream.Chunk) error {
	entries, err := r.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return fmt.Errorf("xrange: %w", err)
	}
	lastID := "0-0"
	for _, e := range entries {
		lastID = e.ID
		done, err := r.deliver(ctx, e, after, out)
		if err != nil || done {
			return err
		}
	}

	for {
		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   100,
			Block:   r.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("xread: %w", err)
		}
		for _, s := range streams {
			for _, e := range s.Messages {
				lastID = e.ID
				done, err := r.deliver(ctx, e, after, out)
				if err != nil || done {
					return err
				}
			}
		}
	}
}

// deliver forwards one entry. It reports true at the done marker.
func (r *RedisBackend) deliver(ctx context.Context, e redis.XMessage, after int64, out chan<- stream.Chunk) (bool, error) {
	if _, ok := e.Values[fieldDone]; ok {
		return true, nil
	}
	if _, ok := e.Values[fieldOpen]; ok {
		return false, nil
	}
	seq, err := strconv.ParseInt(fmt.Sprint(e.Values[fieldSeq]), 10, 64)
	if err != nil {
		return false, fmt.Errorf("entry %s: bad seq: %w", e.ID, err)
	}
	if seq <= after {
		return false, nil
	}
	raw, _ := e.Values[fieldChunk].(string)
	var c stream.Chunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return false, fmt.Errorf("entry %s: decode chunk: %w", e.ID, err)
	}
	c.Seq = seq
	select {
	case out <- c:
		return false, nil
	case <-ctx.Done():
		return true, nil
	}
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
