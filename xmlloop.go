package ragcore

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// runXML is the bounded XML reasoning loop. The model is never offered
// native tools; it writes <Thought>, <Action> and <Response> tags in plain
// text. Thoughts stream as thinking events, text outside tags streams as
// message events with citation relabeling, and tags are parsed once the
// turn ends. The loop gives up after maxSteps turns with FallbackAnswer.
func (a *Agent) runXML(ctx context.Context, task Task, ch chan<- Event) (Result, error) {
	var closeOnce sync.Once
	defer closeOnce.Do(func() { close(ch) })

	ctx, span := startSpan(ctx, a.tracer, "agent.execute_stream",
		StringAttr("agent.name", a.name),
		StringAttr("agent.mode", "xml"),
		IntAttr("agent.max_steps", a.maxSteps))
	defer span.End()

	r := a.newRun(ctx, task)
	em := emitter{ctx: ctx, ch: ch}

	// userText is the raw user-facing text of the whole run, stepText that
	// of the current step.
	var userText, stepText strings.Builder

	emitSegments := func(segs []segment) {
		for _, seg := range segs {
			switch seg.kind {
			case segText:
				userText.WriteString(seg.text)
				stepText.WriteString(seg.text)
				em.text(r.tracker.Feed(seg.text))
			case segThought:
				em.send(thinkingEvent(seg.text))
			}
		}
	}

	for step := 0; step < a.maxSteps; step++ {
		stepCtx, stepSpan := startSpan(ctx, a.tracer, "agent.loop.step", IntAttr("step", step))

		var splitter tagSplitter
		stepText.Reset()
		st, err := consumeStream(stepCtx, a.provider, r.request(false), func(s string) {
			emitSegments(splitter.Write(s))
		})
		if err != nil {
			stepSpan.Error(err)
			stepSpan.End()
			span.Error(err)
			a.logger.Error("model stream failed", "agent", a.name, "step", step, "error", err)
			em.fail(err)
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, err
		}
		r.addUsage(st.usage)
		emitSegments(splitter.Flush())
		em.text(r.tracker.Flush())

		if ctx.Err() != nil {
			stepSpan.End()
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, ctx.Err()
		}

		iteration := st.text.String()
		actions := parseActions(iteration)

		if resp, ok := findResponse(actions, iteration); ok {
			stepSpan.End()
			a.logger.Debug("xml run completed", "agent", a.name, "steps", step+1)
			return r.finishXML(em, userText.String(), resp), nil
		}

		if len(actions) > 0 {
			var buf strings.Builder
			buf.WriteString(iteration)
			for _, act := range actions {
				for _, tc := range act.ToolCalls {
					em.send(toolCallEvent(tc))
					res, _ := r.dispatch.execute(context.WithoutCancel(stepCtx), tc)
					em.send(toolResultEvent(tc, res))
					buf.WriteString(toolResultFragment(tc, res.Content))
				}
			}
			r.conv.Append(AssistantMessage(buf.String()))
		} else {
			r.conv.Append(AssistantMessage(r.tracker.RewriteWithNewRefs(stepText.String())))
		}
		stepSpan.End()

		if ctx.Err() != nil {
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, ctx.Err()
		}
	}

	a.logger.Warn("max steps reached, answering with fallback", "agent", a.name, "max_steps", a.maxSteps)
	return r.finishXML(em, "", FallbackAnswer), nil
}

// responseSeparator keeps the streamed prefix and the response from running
// together when neither side already has whitespace at the seam.
func responseSeparator(prefix, response string) string {
	if strings.TrimSpace(prefix) == "" || strings.TrimSpace(response) == "" {
		return ""
	}
	if strings.TrimRightFunc(prefix, unicode.IsSpace) != prefix ||
		strings.TrimLeftFunc(response, unicode.IsSpace) != response {
		return ""
	}
	return "\n\n"
}

// findResponse returns the response of the first <Action> that carries one,
// or a bare <Response> when the turn has no <Action> block at all.
func findResponse(actions []xmlAction, iteration string) (string, bool) {
	for _, act := range actions {
		if act.HasResponse {
			return act.Response, true
		}
	}
	if len(actions) == 0 {
		return parseBareResponse(iteration)
	}
	return "", false
}

// finishXML streams the response text through the citation tracker, then
// persists and announces the final answer. prefix is the user-facing text
// already streamed during the run.
func (r *run) finishXML(em emitter, prefix, response string) Result {
	response = responseSeparator(prefix, response) + response
	em.text(r.tracker.Feed(response))
	em.text(r.tracker.Flush())

	raw := prefix + response
	r.conv.Append(AssistantMessage(raw))
	res := r.result(raw)
	em.send(Event{Type: EventFinalAnswer, Payload: FinalAnswerPayload{
		GeneratedAnswer: res.Answer,
		Citations:       res.Citations,
	}})
	em.send(doneEvent())
	return res
}
