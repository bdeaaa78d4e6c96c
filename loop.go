package ragcore

import "context"

// runBlocking is the non-streaming tool-calling loop. Each turn requests one
// completion over the full log, appends what the model said, and executes
// every requested tool call in parallel. The loop ends when the model stops
// asking for tools.
func (a *Agent) runBlocking(ctx context.Context, task Task) (Result, error) {
	ctx, span := startSpan(ctx, a.tracer, "agent.execute",
		StringAttr("agent.name", a.name),
		StringAttr("agent.mode", "tool_calls"))
	defer span.End()

	r := a.newRun(ctx, task)

	for turn := 0; a.maxTurns <= 0 || turn < a.maxTurns; turn++ {
		turnCtx, turnSpan := startSpan(ctx, a.tracer, "agent.loop.turn", IntAttr("turn", turn))
		req := r.request(true)
		turnSpan.SetAttr(BoolAttr("has_tools", len(req.Tools) > 0))

		resp, err := a.provider.Chat(turnCtx, req)
		if err != nil {
			turnSpan.Error(err)
			turnSpan.End()
			span.Error(err)
			a.logger.Error("model call failed", "agent", a.name, "turn", turn, "error", err)
			return Result{Messages: r.conv.Tail(r.lastInput), Usage: r.usage}, err
		}
		r.addUsage(resp.Usage)

		if resp.Thinking != "" {
			r.conv.Append(ThinkingMessage(resp.Thinking))
		}

		if len(resp.ToolCalls) == 0 {
			r.conv.Append(AssistantMessage(resp.Content))
			turnSpan.End()
			a.logger.Debug("run completed", "agent", a.name, "turns", turn+1)
			return r.result(resp.Content), nil
		}

		turnSpan.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
		r.conv.Append(ChatMessage{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, o := range r.dispatch.invokeAll(turnCtx, resp.ToolCalls) {
			a.logger.Debug("tool call finished", "agent", a.name, "tool", o.call.Name,
				"is_error", o.result.IsError, "duration", o.duration)
		}
		turnSpan.End()
	}

	a.logger.Warn("max turns reached", "agent", a.name, "max_turns", a.maxTurns)
	var last string
	if m, ok := r.conv.Last(); ok && m.Role == RoleAssistant {
		last = m.Content
	}
	return r.result(last), nil
}
