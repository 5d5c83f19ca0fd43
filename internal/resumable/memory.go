// ABOUTME: In-process backend for resumable delivery
// ABOUTME: Buffers each stream and wakes subscribers on every append; finished streams expire after a TTL

package resumable

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/serviceos-chat/internal/stream"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

type memStream struct {
	chunks  []stream.Chunk
	done    bool
	expires time.Time
	// wake is closed and replaced whenever the stream changes.
	wake chan struct{}
}

// MemoryBackend keeps streams in memory.
type MemoryBackend struct {
	mu      sync.Mutex
	streams map[string]*memStream
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewMemoryBackend creates a backend whose finished streams are evicted
// after ttl (DefaultTTL when non-positive).
func NewMemoryBackend(ttl time.Duration, logger *slog.Logger) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBackend{
		streams: make(map[string]*memStream),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With("component", "resumable.memory"),
	}
}

// get returns the stream, creating it when create is set. Caller holds mu.
func (b *MemoryBackend) get(streamID string, create bool) *memStream {
	b.sweep()
	s, ok := b.streams[streamID]
	if !ok && create {
		s = &memStream{wake: make(chan struct{})}
		b.streams[streamID] = s
	}
	return s
}

// sweep evicts expired streams. Caller holds mu.
func (b *MemoryBackend) sweep() {
	now := b.now()
	for id, s := range b.streams {
		if !s.expires.IsZero() && now.After(s.expires) {
			delete(b.streams, id)
			b.logger.Debug("stream evicted", "stream_id", id)
		}
	}
}

func (s *memStream) notify() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Create implements Backend.
func (b *MemoryBackend) Create(ctx context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(streamID, true)
	return nil
}

// Append implements Backend.
func (b *MemoryBackend) Append(ctx context.Context, streamID string, c stream.Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(streamID, true)
	s.chunks = append(s.chunks, c)
	s.notify()
	return nil
}

// Finish implements Backend.
func (b *MemoryBackend) Finish(ctx context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(streamID, true)
	s.done = true
	s.expires = b.now().Add(b.ttl)
	s.notify()
	return nil
}

// Subscribe implements Backend.
func (b *MemoryBackend) Subscribe(ctx context.Context, streamID string, after int64) (<-chan stream.Chunk, error) {
	b.mu.Lock()
	s := b.get(streamID, false)
	b.mu.Unlock()
	if s == nil {
		return nil, ErrNoStream
	}

	out := make(chan stream.Chunk, subscriberBufferSize)
	go func() {
		defer close(out)
		next := 0
		for {
			b.mu.Lock()
			pending := append([]stream.Chunk(nil), s.chunks[next:]...)
			next = len(s.chunks)
			done := s.done
			wake := s.wake
			b.mu.Unlock()

			for _, c := range pending {
				if c.Seq <= after {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			if done {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len returns the number of streams held.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweep()
	return len(b.streams)
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.streams {
		if !s.done {
			s.done = true
			s.notify()
		}
		delete(b.streams, id)
	}
	return nil
}
