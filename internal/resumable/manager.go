// ABOUTME: Resumable delivery manager registering stream handles and teeing chunks
// ABOUTME: Registration and backend failures are logged and never interrupt delivery

package resumable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/serviceos-chat/internal/stream"
)

// ErrNoStream means the backend holds no stream under the requested ID.
var ErrNoStream = errors.New("stream not found")

// Backend buffers stream chunks for late readers.
type Backend interface {
	// Create opens an empty stream so subscribers can attach before the
	// first chunk arrives.
	Create(ctx context.Context, streamID string) error
	// Append buffers a chunk.
	Append(ctx context.Context, streamID string, c stream.Chunk) error
	// Finish marks the stream complete.
	Finish(ctx context.Context, streamID string) error
	// Subscribe replays chunks with a sequence number greater than after,
	// then follows live chunks until the stream finishes or ctx ends. It
	// returns ErrNoStream for unknown or expired streams.
	Subscribe(ctx context.Context, streamID string, after int64) (<-chan stream.Chunk, error)
	Close() error
}

// Handles records which streams belong to which chat. store.Store
// satisfies it.
type Handles interface {
	CreateStreamID(ctx context.Context, streamID, chatID string) error
	GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error)
}

// writeTimeout bounds each backend write.
const writeTimeout = 2 * time.Second

// Manager makes turn output resumable.
type Manager struct {
	backend Backend
	handles Handles
	logger  *slog.Logger
}

// NewManager creates a manager over backend. It returns nil when backend is
// nil, which disables resumption.
func NewManager(backend Backend, handles Handles, logger *slog.Logger) *Manager {
	if backend == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		handles: handles,
		logger:  logger.With("component", "resumable"),
	}
}

// Enabled reports whether resumption is available.
func (m *Manager) Enabled() bool {
	return m != nil
}

// Wrap registers a new stream for chatID and returns a channel carrying the
// same chunks while copying them into the backend. The returned channel
// closes after chunks does.
func (m *Manager) Wrap(ctx context.Context, chatID string, chunks <-chan stream.Chunk) <-chan stream.Chunk {
	if m == nil {
		return chunks
	}

	streamID := uuid.NewString()
	logger := m.logger.With("chat_id", chatID, "stream_id", streamID)

	tee := m.register(ctx, streamID, chatID, logger)

	out := make(chan stream.Chunk, 16)
	go func() {
		defer close(out)
		for c := range chunks {
			if tee {
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
				err := m.backend.Append(wctx, streamID, c)
				cancel()
				if err != nil {
					logger.Warn("buffering chunk failed, resumption disabled for stream", "seq", c.Seq, "error", err)
					tee = false
				}
			}
			out <- c
		}
		if tee {
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			defer cancel()
			if err := m.backend.Finish(wctx, streamID); err != nil {
				logger.Warn("finishing stream failed", "error", err)
			}
		}
	}()
	return out
}

// register opens the backend stream and then records its handle, so a
// reader that finds the handle can always subscribe.
func (m *Manager) register(ctx context.Context, streamID, chatID string, logger *slog.Logger) bool {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := m.backend.Create(wctx, streamID); err != nil {
		logger.Warn("opening stream failed, delivery will not be resumable", "error", err)
		return false
	}
	if err := m.handles.CreateStreamID(ctx, streamID, chatID); err != nil {
		logger.Warn("registering stream failed, delivery will not be resumable", "error", err)
		if err := m.backend.Finish(wctx, streamID); err != nil {
			logger.Debug("closing unregistered stream failed", "error", err)
		}
		return false
	}
	return true
}

// Resume re-attaches to the latest stream of chatID, replaying chunks after
// the given sequence number. It returns a nil channel and no error when
// there is nothing to resume.
func (m *Manager) Resume(ctx context.Context, chatID string, after int64) (<-chan stream.Chunk, error) {
	if m == nil {
		return nil, nil
	}
	ids, err := m.handles.GetStreamIDsByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("look up streams for chat %s: %w", chatID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	latest := ids[len(ids)-1]
	ch, err := m.backend.Subscribe(ctx, latest, after)
	if errors.Is(err, ErrNoStream) {
		m.logger.Debug("stream expired", "chat_id", chatID, "stream_id", latest)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe to stream %s: %w", latest, err)
	}
	m.logger.Debug("stream resumed", "chat_id", chatID, "stream_id", latest, "after", after)
	return ch, nil
}

// Close releases the backend.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return m.backend.Close()
}
