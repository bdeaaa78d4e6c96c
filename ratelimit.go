package ragcore

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitProvider blocks model calls until the request and token budgets
// allow them. Token usage is charged after each call completes, so the call
// that exceeds the token budget finishes and the following ones wait.
type rateLimitProvider struct {
	inner    Provider
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) {
		if n > 0 {
			r.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
}

// TPM sets the maximum tokens per minute, input and output combined.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) {
		if n > 0 {
			r.tokens = rate.NewLimiter(rate.Limit(float64(n)/60), n)
		}
	}
}

// WithRateLimit wraps p with proactive rate limiting. Compose with WithRetry
// so retries are also budgeted:
//
//	llm = ragcore.WithRateLimit(ragcore.WithRetry(provider), ragcore.RPM(60), ragcore.TPM(100_000))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.charge(resp.Usage)
	}
	return resp, err
}

// ChatStream forwards chunks unchanged and charges the usage reported by
// the last chunk that carries one.
func (r *rateLimitProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- ChatChunk) error {
	if err := r.wait(ctx); err != nil {
		close(ch)
		return err
	}
	if r.tokens == nil {
		return r.inner.ChatStream(ctx, req, ch)
	}

	defer close(ch)
	mid, errCh := startChatStream(ctx, r.inner, req)
	var usage Usage
	for c := range mid {
		if c.Usage != nil {
			usage = *c.Usage
		}
		select {
		case ch <- c:
		case <-ctx.Done():
		}
	}
	err := <-errCh
	r.charge(usage)
	return err
}

// wait blocks until one request fits both budgets or ctx is done.
func (r *rateLimitProvider) wait(ctx context.Context) error {
	if r.requests != nil {
		if err := r.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if r.tokens != nil {
		// A positive balance is enough; the real cost is charged afterwards.
		for {
			avail := r.tokens.Tokens()
			if avail >= 1 {
				break
			}
			delay := time.Duration((1 - avail) / float64(r.tokens.Limit()) * float64(time.Second))
			timer := time.NewTimer(max(delay, 10*time.Millisecond))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

// charge debits u from the token budget. Charges larger than the burst
// are clamped so the limiter never rejects them.
func (r *rateLimitProvider) charge(u Usage) {
	if r.tokens == nil {
		return
	}
	n := min(u.InputTokens+u.OutputTokens, r.tokens.Burst())
	if n <= 0 {
		return
	}
	r.tokens.ReserveN(time.Now(), n)
}

var _ Provider = (*rateLimitProvider)(nil)
