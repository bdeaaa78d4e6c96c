package ragcore

import (
	"context"
	"strings"
	"sync"
)

// emitter sends events to a consumer until the consumer goes away. Once ctx
// is done every send reports false and the run stops producing output.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (e emitter) send(ev Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e emitter) citations(cites []Citation) bool {
	for _, c := range cites {
		if !e.send(Event{Type: EventCitation, Payload: c}) {
			return false
		}
	}
	return true
}

// text emits citation events first, then the rewritten text they belong to.
func (e emitter) text(s string, cites []Citation) bool {
	if !e.citations(cites) {
		return false
	}
	if s == "" {
		return true
	}
	return e.send(messageEvent(s))
}

// fail emits an error event followed by the closing done event.
func (e emitter) fail(err error) {
	if e.send(Event{Type: EventError, Payload: ErrorPayload{Error: err.Error()}}) {
		e.send(doneEvent())
	}
}

// partialCall accumulates the fragments of one streamed tool call.
type partialCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// callAccumulator reassembles tool calls from deltas keyed by index.
type callAccumulator struct {
	calls []*partialCall
}

func (acc *callAccumulator) add(d ToolCallDelta) {
	idx := d.Index
	if idx < 0 {
		idx = 0
	}
	for len(acc.calls) <= idx {
		acc.calls = append(acc.calls, &partialCall{})
	}
	pc := acc.calls[idx]
	if d.ID != "" {
		pc.id = d.ID
	}
	pc.name.WriteString(d.Name)
	pc.args.WriteString(d.Arguments)
}

func (acc *callAccumulator) build() []ToolCall {
	var out []ToolCall
	for _, pc := range acc.calls {
		if pc.name.Len() == 0 && pc.args.Len() == 0 && pc.id == "" {
			continue
		}
		out = append(out, ToolCall{ID: pc.id, Name: pc.name.String(), Arguments: pc.args.String()})
	}
	return out
}

// streamTurn is what one streamed model turn produced.
type streamTurn struct {
	text     strings.Builder
	thinking strings.Builder
	calls    callAccumulator
	finish   FinishReason
	usage    Usage
}

// consumeStream runs one ChatStream call and folds its chunks into a
// streamTurn. onContent is called for every content fragment in arrival
// order. The channel is always drained so the provider never blocks, and a
// provider that panics or fails without closing it still ends the turn.
func consumeStream(ctx context.Context, p Provider, req ChatRequest, onContent func(string)) (*streamTurn, error) {
	chunks, errCh := startChatStream(ctx, p, req)

	st := &streamTurn{}
	for chunk := range chunks {
		if chunk.Thinking != "" {
			st.thinking.WriteString(chunk.Thinking)
		}
		if chunk.Content != "" {
			st.text.WriteString(chunk.Content)
			onContent(chunk.Content)
		}
		for _, d := range chunk.ToolCalls {
			st.calls.add(d)
		}
		if chunk.FinishReason != FinishNone {
			st.finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			st.usage = *chunk.Usage
		}
	}
	return st, <-errCh
}

// runStreaming is the streaming tool-calling loop. Content deltas are
// relabeled by the citation tracker and emitted as they arrive; tool calls
// are reassembled from fragments and executed in parallel when the model
// ends a turn with tool_calls; a stop signal finalizes citations and emits
// the final answer. Every path ends with a done event.
func (a *Agent) runStreaming(ctx context.Context, task Task, ch chan<- Event) (Result, error) {
	var closeOnce sync.Once
	defer closeOnce.Do(func() { close(ch) })

	ctx, span := startSpan(ctx, a.tracer, "agent.execute_stream",
		StringAttr("agent.name", a.name),
		StringAttr("agent.mode", "tool_calls"))
	defer span.End()

	r := a.newRun(ctx, task)
	em := emitter{ctx: ctx, ch: ch}

	for turn := 0; a.maxTurns <= 0 || turn < a.maxTurns; turn++ {
		turnCtx, turnSpan := startSpan(ctx, a.tracer, "agent.loop.turn", IntAttr("turn", turn))
		req := r.request(true)

		st, err := consumeStream(turnCtx, a.provider, req, func(s string) {
			em.text(r.tracker.Feed(s))
		})
		if err != nil {
			turnSpan.Error(err)
			turnSpan.End()
			span.Error(err)
			a.logger.Error("model stream failed", "agent", a.name, "turn", turn, "error", err)
			em.fail(err)
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, err
		}
		r.addUsage(st.usage)
		em.text(r.tracker.Flush())

		if ctx.Err() != nil {
			turnSpan.End()
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, ctx.Err()
		}

		if st.thinking.Len() > 0 {
			r.conv.Append(ThinkingMessage(st.thinking.String()))
		}

		calls := st.calls.build()
		switch {
		case st.finish == FinishToolCalls || (st.finish == FinishNone && len(calls) > 0):
			turnSpan.SetAttr(IntAttr("tool_count", len(calls)))
			for _, tc := range calls {
				em.send(toolCallEvent(tc))
			}
			r.conv.Append(ChatMessage{Role: RoleAssistant, Content: st.text.String(), ToolCalls: calls})

			// Tools run to completion even if the consumer leaves; their
			// results are then simply not emitted.
			toolCtx := context.WithoutCancel(turnCtx)
			for o := range r.dispatch.dispatchParallel(toolCtx, calls) {
				if !em.send(toolResultEvent(o.call, o.result)) {
					break
				}
			}
			turnSpan.End()
			if ctx.Err() != nil {
				return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, ctx.Err()
			}

		case st.finish == FinishStop:
			raw := st.text.String()
			r.conv.Append(AssistantMessage(raw))
			res := r.result(raw)
			em.send(Event{Type: EventFinalAnswer, Payload: FinalAnswerPayload{
				GeneratedAnswer: res.Answer,
				Citations:       res.Citations,
			}})
			em.send(doneEvent())
			turnSpan.End()
			return res, nil

		default:
			// The stream ended without a terminal signal.
			a.logger.Warn("model stream ended without finish reason", "agent", a.name, "turn", turn)
			raw := st.text.String()
			if raw != "" {
				r.conv.Append(AssistantMessage(raw))
			}
			em.send(doneEvent())
			turnSpan.End()
			return r.result(raw), nil
		}
	}

	a.logger.Warn("max turns reached", "agent", a.name, "max_turns", a.maxTurns)
	em.send(doneEvent())
	return r.result(""), nil
}
