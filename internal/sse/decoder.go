/*
PURPOSE:
  Decodes the SSE body of a streaming chat completion into data events.

REQUIREMENTS:
  User-specified:
  - Events may be split across reads at any byte.
  - Cancellation unblocks a pending read.

ARCHITECTURE INTEGRATION:
  - Called by: internal/probe (HTTPProbe streaming)
*/

// Package sse decodes Server-Sent Events from a response body.
//
// The decoder is deliberately narrow: it only surfaces `data:` lines. Event types, ids, retry
// hints and comments are valid SSE but carry nothing a probe needs. The chat-completion
// sentinel `[DONE]` is returned like any other payload; interpreting it is the caller's job.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"
)

// readSize is how much is requested from the underlying reader per read.
const readSize = 4096

var (
	eventDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
	dataPrefix     = []byte("data:")
)

// Event is a single decoded `data:` payload.
type Event struct {
	Data      string
	Timestamp time.Time
}

// Decoder converts a byte stream into a sequence of Events.
// It tolerates reads that split events, lines or multi-byte characters at any position.
type Decoder struct {
	// OnEvent, if set, runs as each event is parsed, before Next delivers it. Events parsed in
	// one read are buffered, so this can fire well ahead of the consumer.
	OnEvent func()

	rc      io.ReadCloser
	buf     []byte
	pending []Event
	chunk   []byte
	eof     bool
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewDecoder returns a Decoder that owns rc and closes it when decoding ends.
func NewDecoder(rc io.ReadCloser) *Decoder {
	return &Decoder{
		rc:    rc,
		chunk: make([]byte, readSize),
		now:   time.Now,
	}
}

// Next returns the next event. It returns io.EOF once the stream is exhausted and every
// buffered event has been delivered. If ctx is done while waiting for data, Next returns
// context.Cause(ctx) without processing the chunk that was in flight.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.eof {
			d.Close()
			return Event{}, io.EOF
		}
		if err := context.Cause(ctx); err != nil {
			d.Close()
			return Event{}, err
		}
		if err := d.fill(ctx); err != nil {
			d.Close()
			return Event{}, err
		}
	}
}

// fill performs one read and moves every complete event into pending.
func (d *Decoder) fill(ctx context.Context) error {
	// Closing the reader is the only portable way to unblock a read in progress.
	stop := context.AfterFunc(ctx, func() { d.Close() })
	n, err := d.rc.Read(d.chunk)
	stop()

	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
		d.drain()
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return err
		}
		d.eof = true
		d.flush()
	}
	return nil
}

// drain processes every complete segment and keeps the trailing remainder.
func (d *Decoder) drain() {
	for {
		idx := bytes.Index(d.buf, eventDelimiter)
		if idx < 0 {
			return
		}
		d.parseSegment(d.buf[:idx])
		d.buf = d.buf[idx+len(eventDelimiter):]
	}
}

// flush handles a final event that was not followed by a blank line.
func (d *Decoder) flush() {
	if len(d.buf) == 0 {
		return
	}
	d.parseSegment(d.buf)
	d.buf = nil
}

func (d *Decoder) parseSegment(segment []byte) {
	ts := d.now()
	for _, line := range bytes.Split(segment, lf) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if data, ok := parseDataLine(line); ok {
			d.pending = append(d.pending, Event{Data: data, Timestamp: ts})
			if d.OnEvent != nil {
				d.OnEvent()
			}
		}
	}
}

// parseDataLine strips the fixed `data:` prefix and at most one following space.
func parseDataLine(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false
	}
	value := line[len(dataPrefix):]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(value), true
}

// All returns the remaining events as a lazy, single-use sequence. Iteration stops after the
// first error, which is yielded with a zero Event; io.EOF is not yielded. The reader is closed
// when the sequence ends, including when the caller breaks out early.
func (d *Decoder) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer d.Close()
		for {
			ev, err := d.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close releases the underlying reader. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.rc.Close()
	})
	return d.closeErr
}

// Decode reads r to the end and returns every event. Intended for tests and small bodies.
func Decode(ctx context.Context, r io.Reader) ([]Event, error) {
	dec := NewDecoder(io.NopCloser(r))
	var events []Event
	for ev, err := range dec.All(ctx) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}
