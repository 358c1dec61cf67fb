/*
Package streaming writes long-lived newline-delimited JSON responses.

A scan can run for hours, and its progress is streamed to the client
that started it. EventWriter encodes one event per line and flushes each
line immediately. Every write is bounded by a per-event deadline set
through http.ResponseController, so a stalled client fails the stream
instead of holding the producer.

# Usage

	stream := streaming.NewEventWriter(r.Context(), w, streaming.DefaultConfig())
	defer stream.Close()
	for ev := range events {
		_ = stream.Send(ev)
	}

Failures are sticky. Once a write fails, or the request context ends,
Send returns the same error without touching the connection. The loop
above therefore keeps draining its channel after the client is gone.

# Errors

  - ErrClientGone: the request context was cancelled
  - ErrWriteTimeout: one event missed its deadline, or MaxDuration passed
  - ErrStreamClosed: Send after Close

Writers that do not support deadlines, such as httptest.ResponseRecorder,
are written without one.
*/
package streaming
