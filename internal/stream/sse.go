// ABOUTME: Server-sent events codec for turn chunks
// ABOUTME: Each chunk is one event whose id is its sequence number

package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DoneEvent is the event name of the end-of-stream marker.
const DoneEvent = "done"

// WriteEvent writes c as a single SSE event.
func WriteEvent(w io.Writer, c Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode %s chunk: %w", c.Type, err)
	}
	if c.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", c.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Type, data)
	return err
}

// WriteDone writes the end-of-stream marker.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: [DONE]\n\n", DoneEvent)
	return err
}

// Decoder reads chunks from an SSE stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next chunk. It returns io.EOF at the done marker or at the
// end of input.
func (d *Decoder) Next() (Chunk, error) {
	var (
		id    string
		event string
		data  []string
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return decodeEvent(id, event, strings.Join(data, "\n"))
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id = value
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Chunk{}, err
	}
	if event != "" || len(data) > 0 {
		return decodeEvent(id, event, strings.Join(data, "\n"))
	}
	return Chunk{}, io.EOF
}

func decodeEvent(id, event, data string) (Chunk, error) {
	if event == DoneEvent || data == "[DONE]" {
		return Chunk{}, io.EOF
	}
	var c Chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Chunk{}, fmt.Errorf("decode %s event: %w", event, err)
	}
	if id != "" {
		seq, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return Chunk{}, fmt.Errorf("decode event id %q: %w", id, err)
		}
		c.Seq = seq
	}
	return c, nil
}

// ReadAll decodes every chunk up to the done marker.
func ReadAll(r io.Reader) ([]Chunk, error) {
	d := NewDecoder(r)
	var out []Chunk
	for {
		c, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}
