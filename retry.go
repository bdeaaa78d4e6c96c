package ragcore

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryProvider retries a Provider when it fails with a throttling or
// overload status (429, 503).
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration // across all attempts; 0 = none
	logger      *slog.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the first backoff delay (default 1s). Later delays
// double, with jitter.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryTimeout bounds the whole retry sequence, including the time spent
// inside each attempt. Zero disables the bound.
func RetryTimeout(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.timeout = d }
}

// RetryLogger sets the logger used for retry warnings.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p so that transient HTTP failures (429, 503) are retried
// with exponential backoff. A Retry-After hint on the error is used as the
// minimum delay.
//
//	llm := ragcore.WithRetry(openaicompat.NewProvider(key, model, baseURL),
//		ragcore.RetryMaxAttempts(5), ragcore.RetryTimeout(30*time.Second))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 3,
		baseDelay:   time.Second,
		logger:      nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return retryOp(ctx, r, func() (ChatResponse, error) {
		resp, err := r.inner.Chat(ctx, req)
		if err != nil && !isTransient(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	})
}

// ChatStream retries only while nothing has been forwarded to ch, so the
// consumer never receives duplicated text. ch is closed before returning.
func (r *retryProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- ChatChunk) error {
	defer close(ch)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := retryOp(ctx, r, func() (struct{}, error) {
		forwarded, err := r.streamOnce(ctx, req, ch)
		if err != nil && (forwarded || !isTransient(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

// streamOnce runs one streaming attempt and forwards its chunks to ch.
func (r *retryProvider) streamOnce(ctx context.Context, req ChatRequest, ch chan<- ChatChunk) (forwarded bool, err error) {
	mid, errCh := startChatStream(ctx, r.inner, req)
	for c := range mid {
		forwarded = true
		select {
		case ch <- c:
		case <-ctx.Done():
		}
	}
	return forwarded, <-errCh
}

func (r *retryProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// retryOp runs op under r's attempt budget. op marks errors that must not be
// retried with backoff.Permanent.
func retryOp[T any](ctx context.Context, r *retryProvider, op func() (T, error)) (T, error) {
	b := newHintedBackOff(r.baseDelay)
	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op()
		b.hint = retryAfterOf(err)
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("retrying transient error",
				"provider", r.inner.Name(),
				"status", statusOf(err),
				"attempt", attempt,
				"max_attempts", r.maxAttempts,
				"delay", next)
		}),
	)
	if err != nil && isTransient(err) && attempt >= r.maxAttempts {
		r.logger.Error("retry attempts exhausted",
			"provider", r.inner.Name(),
			"attempts", attempt,
			"error", err)
	}
	return res, err
}

// hintedBackOff is an exponential backoff whose next delay is raised to the
// server's Retry-After hint from the last failure.
type hintedBackOff struct {
	exp  *backoff.ExponentialBackOff
	hint time.Duration
}

func newHintedBackOff(base time.Duration) *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.25
	exp.MaxInterval = time.Minute
	return &hintedBackOff{exp: exp}
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return max(d, b.hint)
}

func (b *hintedBackOff) Reset() {
	b.exp.Reset()
	b.hint = 0
}

func isTransient(err error) bool {
	s := statusOf(err)
	return s == http.StatusTooManyRequests || s == http.StatusServiceUnavailable
}

func statusOf(err error) int {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func retryAfterOf(err error) time.Duration {
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

var _ Provider = (*retryProvider)(nil)
