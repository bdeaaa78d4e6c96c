package ragcore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrLLM reports a provider-side failure that is not an HTTP status error
// (malformed payloads, request construction, stream decoding).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a model transport. RetryAfter carries
// the parsed Retry-After header, zero when absent.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrToolArguments is returned by the dispatcher when a tool call carries
// arguments that are not a JSON object. The run continues; the model sees
// the error as the tool's result.
type ErrToolArguments struct {
	Tool      string
	Arguments string
	Err       error
}

func (e *ErrToolArguments) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

func (e *ErrToolArguments) Unwrap() error { return e.Err }

// ErrUnknownTool is returned when the model calls a tool that is not registered.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return "unknown tool: " + e.Name
}

// ParseRetryAfter parses a Retry-After header value given in seconds or as
// an HTTP date. Returns 0 when the value is empty or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
