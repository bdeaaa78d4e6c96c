package ragcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"
)

// maxToolResultMessageLen is the maximum rune length of a tool result stored
// in the conversation log. Longer results are truncated with a marker so the
// model knows content was trimmed. Stream events keep the full raw result.
const maxToolResultMessageLen = 100_000

// dispatcher executes tool calls for one run. It owns no state of its own;
// results land in the run's conversation and collector.
type dispatcher struct {
	registry  *ToolRegistry
	collector *ResultCollector
	conv      *Conversation
	defaults  map[string]map[string]any
	repair    bool
	parallel  int // max concurrent calls; 0 = all at once
	tracer    Tracer
	logger    *slog.Logger
}

// dispatchOutcome is the completion of one call.
type dispatchOutcome struct {
	call     ToolCall
	result   ToolResult
	err      error
	duration time.Duration
}

// Invoke runs a single tool call end to end: parse arguments, execute,
// record search results, format, and append the tool message to the
// conversation. The returned error is informational; every failure has
// already been recorded in the conversation as an error tool message.
func (d *dispatcher) Invoke(ctx context.Context, call ToolCall) (ToolResult, error) {
	res, err := d.execute(ctx, call)
	content := res.Content
	if len([]rune(content)) > maxToolResultMessageLen {
		content = truncateStr(content, maxToolResultMessageLen) + "\n\n[output truncated]"
	}
	d.conv.Append(ToolResultMessage(call.ID, call.Name, content))
	return res, err
}

// execute runs a call without touching the conversation. The XML loop uses
// it directly because results travel inside the assistant message there.
func (d *dispatcher) execute(ctx context.Context, call ToolCall) (ToolResult, error) {
	ctx, span := startSpan(ctx, d.tracer, "tool.dispatch",
		StringAttr("tool.name", call.Name),
		StringAttr("tool.call_id", call.ID))
	defer span.End()

	res, err := d.invoke(ctx, call)
	if err != nil {
		span.Error(err)
		d.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
	}
	span.SetAttr(BoolAttr("tool.is_error", res.IsError), IntAttr("tool.result_length", len(res.Content)))
	return res, err
}

func (d *dispatcher) invoke(ctx context.Context, call ToolCall) (ToolResult, error) {
	args, err := d.parseArgs(call)
	if err != nil {
		argErr := &ErrToolArguments{Tool: call.Name, Arguments: call.Arguments, Err: err}
		return errorResult(argErr), argErr
	}

	tool, ok := d.registry.Resolve(call.Name)
	if !ok {
		unknown := &ErrUnknownTool{Name: call.Name}
		return errorResult(unknown), unknown
	}

	merged := make(map[string]any, len(args)+len(d.defaults[call.Name]))
	maps.Copy(merged, d.defaults[call.Name])
	maps.Copy(merged, args)

	raw, err := safeExecute(ctx, tool, merged)
	if err != nil {
		return errorResult(err), err
	}

	formatIn := raw
	switch agg := raw.(type) {
	case AggregateSearchResult:
		formatIn = d.collector.AddAggregate(agg)
	case *AggregateSearchResult:
		if agg != nil {
			formatIn = d.collector.AddAggregate(*agg)
		}
	}

	res := ToolResult{Raw: raw, Content: safeFormat(tool, formatIn)}
	if s, ok := tool.(ResultStreamer); ok {
		res.Stream = s.StreamResult(raw)
	}
	return res, nil
}

// parseArgs decodes the model's argument text into an object. Empty input
// means no arguments. With repair enabled, syntactically broken JSON gets one
// repair attempt before the call is rejected.
func (d *dispatcher) parseArgs(call ToolCall) (map[string]any, error) {
	if call.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	err := json.Unmarshal([]byte(call.Arguments), &args)
	if err != nil && d.repair {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			fixed, rerr := jsonrepair.JSONRepair(call.Arguments)
			if rerr == nil {
				args = nil
				err = json.Unmarshal([]byte(fixed), &args)
				if err == nil {
					d.logger.Debug("repaired tool arguments", "tool", call.Name)
				}
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func errorResult(err error) ToolResult {
	return ToolResult{Content: "error: " + err.Error(), IsError: true}
}

// safeExecute runs the tool with panic recovery so a misbehaving tool turns
// into an error result instead of crashing the run.
func safeExecute(ctx context.Context, t Tool, args map[string]any) (raw any, err error) {
	defer func() {
		if p := recover(); p != nil {
			raw, err = nil, fmt.Errorf("tool %q panic: %v", t.Definition().Name, p)
		}
	}()
	return t.Execute(ctx, args)
}

func safeFormat(t Tool, raw any) (s string) {
	defer func() {
		if p := recover(); p != nil {
			s = fmt.Sprintf("error: tool %q format panic: %v", t.Definition().Name, p)
		}
	}()
	return t.FormatForLLM(raw)
}

// dispatchParallel starts every call of a turn concurrently, unless the
// agent set an explicit limit, and delivers outcomes in completion order. The
// returned channel is buffered for all calls and closed after the last one
// finishes, so producers never block on a consumer that stopped reading.
func (d *dispatcher) dispatchParallel(ctx context.Context, calls []ToolCall) <-chan dispatchOutcome {
	out := make(chan dispatchOutcome, len(calls))
	var g errgroup.Group
	if d.parallel > 0 {
		g.SetLimit(d.parallel)
	}
	go func() {
		for _, tc := range calls {
			g.Go(func() error {
				start := time.Now()
				res, err := d.Invoke(ctx, tc)
				out <- dispatchOutcome{call: tc, result: res, err: err, duration: time.Since(start)}
				return nil
			})
		}
		_ = g.Wait()
		close(out)
	}()
	return out
}

// invokeAll runs calls in parallel and waits for all of them.
func (d *dispatcher) invokeAll(ctx context.Context, calls []ToolCall) []dispatchOutcome {
	outs := make([]dispatchOutcome, 0, len(calls))
	for o := range d.dispatchParallel(ctx, calls) {
		outs = append(outs, o)
	}
	return outs
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
