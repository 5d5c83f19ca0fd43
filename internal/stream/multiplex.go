// ABOUTME: Multiplexer merging driver chunks with the asynchronous chat title
// ABOUTME: Assigns sequence numbers and collapses internal errors to one generic chunk

package stream

import (
	"log/slog"
)

// Multiplex merges the driver's chunks with the optional title. The title
// chunk is injected once, whenever title yields a non-empty value; when the
// driver finishes first the title is awaited before the output closes. A
// nil title channel means no title task.
//
// Every output chunk gets the next sequence number. Error chunks are
// reduced to GenericErrorText after their cause is logged, and at most one
// is forwarded.
func Multiplex(driver <-chan Chunk, title <-chan string, logger *slog.Logger) <-chan Chunk {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stream")

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		var seq int64
		send := func(c Chunk) {
			seq++
			c.Seq = seq
			out <- c
		}
		injectTitle := func(t string) {
			if t != "" {
				send(Title(t))
			}
		}

		failed := false
		for driver != nil {
			select {
			case c, ok := <-driver:
				if !ok {
					driver = nil
					continue
				}
				if c.Type == TypeError {
					if failed {
						logger.Debug("dropping repeated error chunk", "error", c.Err)
						continue
					}
					failed = true
					logger.Error("turn failed", "error", c.Err)
					c = Chunk{Type: TypeError, ErrorText: GenericErrorText}
				}
				send(c)
			case t, ok := <-title:
				title = nil
				if ok {
					injectTitle(t)
				}
			}
		}

		if title != nil {
			if t, ok := <-title; ok {
				injectTitle(t)
			}
		}
	}()
	return out
}
