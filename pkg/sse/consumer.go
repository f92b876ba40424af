package sse

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const readChunkSize = 32 * 1024

// ErrConsumerEnded is returned by Write once the consumer reached end of stream.
var ErrConsumerEnded = errors.New("sse consumer ended")

// State is the lifecycle position of a Consumer.
type State int

const (
	// StateIdle means no bytes have been fed yet.
	StateIdle State = iota

	// StateReading means chunks are being decoded and parsed.
	StateReading

	// StateDraining means the decoder is holding an incomplete multi-byte
	// sequence and waits for the next chunk to complete it.
	StateDraining

	// StateEnded is terminal. One Consumer serves one stream, once.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDraining:
		return "draining"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives every event a Consumer reconstructs, in stream order. It is
// called with the consumer locked and must not call back into it.
type Sink func(Event)

// Consumer turns a chunked byte stream into Events. It owns the per-stream
// buffer state: the decoder's pending partial character and the parser's
// remainder text.
//
//	┌──────────────┐   ┌─────────┐   ┌───────┐   ┌──────┐
//	│ byte chunks  │──▶│ Decoder │──▶│ Parse │──▶│ Sink │
//	└──────────────┘   └─────────┘   └───────┘   └──────┘
//
// Bytes can be pushed with Write (for example behind an io.TeeReader) or
// pulled with Consume.
type Consumer struct {
	mu      sync.Mutex
	sink    Sink
	decoder *Decoder
	buffer  string
	state   State
	emitted int
	logger  *slog.Logger
	now     func() time.Time
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDecoder overrides the default UTF-8 decoder.
func WithDecoder(d *Decoder) ConsumerOption {
	return func(c *Consumer) {
		c.decoder = d
	}
}

// WithLogger sets the logger used to report read and parse failures.
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

// WithClock overrides the clock used to stamp Event.ReceivedAt.
func WithClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		c.now = now
	}
}

// NewConsumer creates a Consumer delivering events to sink.
func NewConsumer(sink Sink, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		sink:   sink,
		state:  StateIdle,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.decoder == nil {
		c.decoder = NewDecoder(nil)
	}
	return c
}

// Write feeds one chunk of the stream. Complete events are delivered to the
// sink before Write returns. It always reports len(p) consumed unless the
// consumer already ended, so it is safe to use as a tee destination.
func (c *Consumer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnded {
		return 0, ErrConsumerEnded
	}

	if err := c.feed(p); err != nil {
		c.logger.Error("sse consumer failed, dropping stream", "error", err)
		c.state = StateEnded
		return 0, err
	}

	if c.decoder.Pending() > 0 {
		c.state = StateDraining
	} else {
		c.state = StateReading
	}
	return len(p), nil
}

// Close marks end of stream: the decoder is flushed and a final record that
// never saw its blank line is force-terminated and emitted. Close is
// idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnded {
		return nil
	}
	c.state = StateEnded

	return c.guard(func() {
		c.buffer += c.decoder.Flush()
		events := Terminate(c.buffer)
		c.buffer = ""
		c.emit(events)
	})
}

// Consume reads r until end of stream or error, feeding every chunk through
// the consumer. Read errors are logged and end the loop; events emitted so far
// stay valid. Consume never returns the error to the caller, so a failing
// stream cannot disrupt whoever owns the underlying transfer.
func (c *Consumer) Consume(r io.Reader) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return
			}
		}

		if errors.Is(err, io.EOF) {
			_ = c.Close()
			return
		}
		if err != nil {
			c.logger.Warn("error reading sse stream", "error", err)
			c.Abandon()
			return
		}
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emitted returns how many events have been delivered to the sink.
func (c *Consumer) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

// Abandon ends the consumer without flushing. Used when the stream broke
// mid-transfer and a trailing record cannot be trusted.
func (c *Consumer) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateEnded
	c.buffer = ""
}

func (c *Consumer) feed(p []byte) error {
	return c.guard(func() {
		c.buffer += c.decoder.Decode(p)

		var events []Event
		events, c.buffer = Parse(c.buffer)
		c.emit(events)
	})
}

func (c *Consumer) emit(events []Event) {
	for _, ev := range events {
		ev.ReceivedAt = c.now()
		c.emitted++
		if c.sink != nil {
			c.sink(ev)
		}
	}
}

// guard converts a panic in the parser or the sink into an error.
func (c *Consumer) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sse consumer panic: %v", r)
		}
	}()
	fn()
	return nil
}
