package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"imgcat/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a single event could not be written
	// within the configured timeout, or the stream outlived MaxDuration.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the stream completed.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamClosed indicates a Send after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Config configures an EventWriter.
type Config struct {
	// WriteTimeout bounds writing and flushing one event.
	WriteTimeout time.Duration
	// MaxDuration is the absolute maximum streaming duration (0 = unlimited)
	MaxDuration time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		MaxDuration:  0,
	}
}

// EventWriter writes newline-delimited JSON events to an HTTP response,
// flushing after each one. The first write failure is sticky: every later
// Send returns it without touching the connection, so a producer can keep
// draining its source after the client is gone.
type EventWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	ctx    context.Context
	config Config

	startTime time.Time
	deadlines bool

	mu     sync.Mutex
	events int64
	bytes  int64
	err    error
	closed bool
}

// NewEventWriter creates an event writer over w. ctx is normally the
// request context; its cancellation reads as ErrClientGone.
func NewEventWriter(ctx context.Context, w http.ResponseWriter, config Config) *EventWriter {
	return &EventWriter{
		w:         w,
		rc:        http.NewResponseController(w),
		ctx:       ctx,
		config:    config,
		startTime: time.Now(),
		deadlines: true,
	}
}

// Send encodes v as one line and writes it. A value that cannot be
// encoded is reported without failing the stream.
func (ew *EventWriter) Send(v interface{}) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.closed {
		return ErrStreamClosed
	}
	if ew.err != nil {
		return ew.err
	}
	if ew.ctx.Err() != nil {
		return ew.fail(ErrClientGone)
	}
	if ew.config.MaxDuration > 0 && time.Since(ew.startTime) > ew.config.MaxDuration {
		return ew.fail(ErrWriteTimeout)
	}

	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	ew.setDeadline(time.Now().Add(ew.config.WriteTimeout))
	n, err := ew.w.Write(line)
	if err == nil {
		err = ew.rc.Flush()
		if errors.Is(err, http.ErrNotSupported) {
			err = nil
		}
	}
	if err != nil {
		return ew.fail(ew.classify(err))
	}

	ew.events++
	ew.bytes += int64(n)
	return nil
}

// setDeadline applies a write deadline when the connection supports one.
// A zero timeout clears it.
func (ew *EventWriter) setDeadline(t time.Time) {
	if !ew.deadlines {
		return
	}
	if ew.config.WriteTimeout <= 0 {
		t = time.Time{}
	}
	if err := ew.rc.SetWriteDeadline(t); err != nil {
		ew.deadlines = false
	}
}

func (ew *EventWriter) classify(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrWriteTimeout
	case ew.ctx.Err() != nil:
		return ErrClientGone
	default:
		return err
	}
}

func (ew *EventWriter) fail(err error) error {
	ew.err = err
	logging.Debug("Event stream stopped after %d events: %v", ew.events, err)
	return err
}

// Err returns the error that stopped the stream, if any.
func (ew *EventWriter) Err() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.err
}

// Close clears the write deadline and rejects further events.
func (ew *EventWriter) Close() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.closed {
		return nil
	}
	ew.closed = true
	if ew.err == nil && ew.deadlines {
		_ = ew.rc.SetWriteDeadline(time.Time{})
	}
	return nil
}

// Stats returns streaming statistics
func (ew *EventWriter) Stats() (events, bytesWritten int64, duration time.Duration) {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.events, ew.bytes, time.Since(ew.startTime)
}
