package ragcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// FormatEvent serializes one event into its wire form: an "event:" line, one
// "data:" line per payload line, and a blank terminator line. String and
// []byte payloads are written verbatim; anything else is JSON-encoded.
func FormatEvent(name string, payload any) ([]byte, error) {
	var data string
	switch v := payload.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", name, err)
		}
		data = string(b)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteEvent formats ev and writes it to w.
func WriteEvent(w io.Writer, ev Event) error {
	b, err := FormatEvent(string(ev.Type), ev.Payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteEvents writes every event received on ch to w until ch is closed.
// It keeps draining ch after a write error so the producer never blocks,
// and returns the first error.
func WriteEvents(w io.Writer, ch <-chan Event) error {
	var first error
	for ev := range ch {
		if first != nil {
			continue
		}
		first = WriteEvent(w, ev)
	}
	return first
}

// WriteSSEEvent writes a single Server-Sent Event to w and flushes.
func WriteSSEEvent(w http.ResponseWriter, ev Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("ResponseWriter does not implement http.Flusher")
	}
	if err := WriteEvent(w, ev); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// StreamingAgent is anything that runs a task while emitting protocol
// events. *Agent and its instrumented wrappers satisfy it.
type StreamingAgent interface {
	ExecuteStream(ctx context.Context, task Task, ch chan<- Event) (Result, error)
}

// ServeSSE runs agent.ExecuteStream and writes every event to w as it is
// produced. The stream always ends with a done event; a run that fails is
// preceded by an error event.
func ServeSSE(ctx context.Context, w http.ResponseWriter, agent StreamingAgent, task Task) (Result, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return Result{}, fmt.Errorf("ResponseWriter does not implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 64)
	var closeOnce sync.Once
	safeClose := func() { closeOnce.Do(func() { close(ch) }) }

	type execResult struct {
		result Result
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				safeClose()
				resultCh <- execResult{Result{}, fmt.Errorf("agent panic: %v", p)}
			}
		}()
		r, err := agent.ExecuteStream(ctx, task, ch)
		resultCh <- execResult{r, err}
	}()

	var sawDone bool
	for ev := range ch {
		if ev.Type == EventDone {
			sawDone = true
		}
		if err := WriteEvent(w, ev); err != nil {
			continue
		}
		flusher.Flush()
	}

	res := <-resultCh
	if !sawDone {
		if res.err != nil {
			_ = WriteEvent(w, Event{Type: EventError, Payload: ErrorPayload{Error: res.err.Error()}})
		}
		_ = WriteEvent(w, doneEvent())
		flusher.Flush()
	}
	return res.result, res.err
}
