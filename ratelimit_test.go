package ragcore

import (
	"context"
	"testing"
	"time"
)

func TestWithRateLimit_RPMAllowsWithinLimit(t *testing.T) {
	p := WithRateLimit(&scriptedProvider{responses: []ChatResponse{{Content: "a"}, {Content: "b"}}}, RPM(60))

	for _, want := range []string{"a", "b"} {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != want {
			t.Errorf("got %q, want %q", resp.Content, want)
		}
	}
}

func TestWithRateLimit_RPMBlocksWhenExceeded(t *testing.T) {
	inner := &scriptedProvider{responses: []ChatResponse{{Content: "a"}, {Content: "b"}}}
	p := WithRateLimit(inner, RPM(1))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected the second call to be blocked")
	}
	if inner.calls() != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls())
	}
}

func TestWithRateLimit_StreamBlockedClosesChannel(t *testing.T) {
	inner := &scriptedProvider{streams: []streamScript{textStream(FinishStop, "hi"), textStream(FinishStop, "again")}}
	p := WithRateLimit(inner, RPM(1))

	ch := make(chan ChatChunk, 8)
	if err := p.ChatStream(context.Background(), ChatRequest{}, ch); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ch = make(chan ChatChunk, 8)
	if err := p.ChatStream(ctx, ChatRequest{}, ch); err == nil {
		t.Fatal("expected rate limit error")
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}

func TestWithRateLimit_TPMBlocksAfterUsage(t *testing.T) {
	inner := &scriptedProvider{responses: []ChatResponse{
		{Content: "a", Usage: Usage{InputTokens: 80, OutputTokens: 40}},
		{Content: "b"},
	}}
	p := WithRateLimit(inner, TPM(100))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected token budget to block the second call")
	}
}

func TestWithRateLimit_TPMStreamCharges(t *testing.T) {
	s := textStream(FinishStop, "hello")
	s.chunks[len(s.chunks)-1].Usage = &Usage{InputTokens: 500}
	inner := &scriptedProvider{streams: []streamScript{s, textStream(FinishStop, "x")}}
	p := WithRateLimit(inner, TPM(100))

	ch := make(chan ChatChunk)
	errCh := make(chan error, 1)
	go func() { errCh <- p.ChatStream(context.Background(), ChatRequest{}, ch) }()
	var text string
	for c := range ch {
		text += c.Content
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.ChatStream(ctx, ChatRequest{}, make(chan ChatChunk, 4)); err == nil {
		t.Fatal("expected token budget to block the second stream")
	}
}

func TestWithRateLimit_Name(t *testing.T) {
	if got := WithRateLimit(&scriptedProvider{}, RPM(10)).Name(); got != "scripted" {
		t.Errorf("Name() = %q, want %q", got, "scripted")
	}
}
