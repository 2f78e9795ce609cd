package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/model"
	"github.com/casemesh-ai/casemesh/tool"
)

// DefaultMaxTurns bounds the number of model turns (initial plus
// continuations) in one exchange, guarding against tool call cycles.
const DefaultMaxTurns = 16

// Options configures a Loop.
type Options struct {
	// Instructions is the system prompt handed to the model every turn.
	Instructions string
	// MaxTurns bounds model turns per exchange. Defaults to DefaultMaxTurns.
	MaxTurns int
	// MaxParallelTools limits concurrent executor invocations within one
	// batch. Zero or negative means the batch size.
	MaxParallelTools int
}

// Loop drives one logical exchange: model turn, tool batch, continuation,
// until the model finishes without requesting tools or an unrecoverable
// protocol error occurs.
type Loop struct {
	model model.Model
	tools *tool.Registry
	opts  Options
}

// NewLoop constructs a Loop over a model and an executor registry.
func NewLoop(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{MaxTurns: DefaultMaxTurns}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if registry == nil {
		registry = tool.NewRegistry()
	}
	return &Loop{model: m, tools: registry, opts: opts}
}

// Execute runs the exchange rooted at runCtx and emits its event stream
// through emit: one RunStarted first, one terminal event last. Continuation
// runs carry fresh internal run ids but stream under the root run id, so
// subscribers observe one uninterrupted logical exchange.
//
// The returned error mirrors the terminal event: nil after RunFinished, the
// causing error after RunError.
func (l *Loop) Execute(runCtx *core.RunContext, emit func(event.Event) error) error {
	rootRunID := runCtx.RunID
	threadID := runCtx.ThreadID

	if err := emit(event.NewRunStarted(rootRunID, threadID)); err != nil {
		return err
	}

	fail := func(cur *core.RunContext, cause error) error {
		_ = cur.Run.SetStatus(core.RunErrored)
		if emitErr := emit(event.NewRunError(rootRunID, threadID, cause.Error())); emitErr != nil {
			cur.LogError("flow.emit.run_error", "run_id", rootRunID, "error", emitErr.Error())
		}
		return cause
	}

	cur := runCtx
	for turn := 0; ; turn++ {
		if turn >= l.opts.MaxTurns {
			return fail(cur, fmt.Errorf("exchange exceeded %d model turns", l.opts.MaxTurns))
		}
		if err := cur.Context.Err(); err != nil {
			return fail(cur, err)
		}

		calls, err := l.runTurn(cur, rootRunID, emit)
		if err != nil {
			return fail(cur, err)
		}

		if len(calls) == 0 {
			if err := cur.Run.SetStatus(core.RunFinished); err != nil {
				cur.LogWarn("flow.run.status", "run_id", cur.RunID, "error", err.Error())
			}
			return emit(event.NewRunFinished(rootRunID, threadID))
		}

		// Parse every sealed argument buffer before executing anything. A
		// malformed buffer is a protocol error that aborts the whole run.
		parsed := make([]map[string]any, len(calls))
		for i, tc := range calls {
			args, perr := tc.ParseArguments()
			if perr != nil {
				return fail(cur, &core.RunProtocolError{RunID: rootRunID, Reason: perr.Error()})
			}
			parsed[i] = args
		}

		// Record the batch on the transcript so continuations replay a
		// faithful assistant turn to the provider.
		requests := make([]core.ToolCallRequest, len(calls))
		for i, tc := range calls {
			requests[i] = core.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments()}
		}
		if err := cur.PersistMessage(core.NewAssistantToolCallMessage("", requests)); err != nil {
			return fail(cur, err)
		}

		if err := l.executeBatch(cur, calls, parsed); err != nil {
			return fail(cur, err)
		}

		// Prior run is folded; the continuation carries the history forward
		// under a fresh run id.
		if err := cur.Run.SetStatus(core.RunFinished); err != nil {
			cur.LogWarn("flow.run.status", "run_id", cur.RunID, "error", err.Error())
		}
		next := cur.NewContinuation(core.NewID())
		cur.LogDebug("flow.continuation", "thread_id", threadID, "prev_run_id", cur.RunID, "run_id", next.RunID)
		cur = next
	}
}

// runTurn performs one model turn, emitting text and tool call events as
// chunks arrive. It returns the sealed tool calls requested by the turn
// (empty when the model finished without tools).
func (l *Loop) runTurn(cur *core.RunContext, rootRunID string, emit func(event.Event) error) ([]*core.ToolCall, error) {
	req := model.Request{
		Instructions: l.opts.Instructions,
		Messages:     cur.Run.Messages(),
		Tools:        l.definitions(),
	}

	chunks, errCh := l.model.Generate(cur.Context, req)

	var (
		openMsgID string
		text      string
		finish    string
	)

	closeMessage := func() error {
		if openMsgID == "" {
			return nil
		}
		if err := emit(event.NewTextMessageEnd(rootRunID, openMsgID)); err != nil {
			return err
		}
		msg := core.Message{ID: openMsgID, Role: core.RoleAssistant, Content: text}
		msg.Finalize()
		if err := cur.PersistMessage(msg); err != nil {
			return err
		}
		openMsgID, text = "", ""
		return nil
	}

	table := cur.Run.ToolCalls()

loop:
	for {
		select {
		case <-cur.Context.Done():
			return nil, cur.Context.Err()

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("model generation failed: %w", err)
			}

		case ck, ok := <-chunks:
			if !ok {
				break loop
			}
			switch ck.Kind {
			case model.ChunkText:
				if openMsgID == "" {
					openMsgID = core.NewID()
					_ = cur.Run.SetStatus(core.RunStreaming)
					if err := emit(event.NewTextMessageStart(rootRunID, openMsgID, string(core.RoleAssistant))); err != nil {
						return nil, err
					}
				}
				text += ck.Text
				if err := emit(event.NewTextMessageContent(rootRunID, openMsgID, ck.Text)); err != nil {
					return nil, err
				}

			case model.ChunkToolCall:
				if err := closeMessage(); err != nil {
					return nil, err
				}
				_ = cur.Run.SetStatus(core.RunStreaming)
				if _, err := table.Start(ck.ToolCallID, ck.ToolName); err != nil {
					return nil, &core.RunProtocolError{RunID: rootRunID, Reason: err.Error()}
				}
				if err := emit(event.NewToolCallStart(rootRunID, ck.ToolCallID, ck.ToolName)); err != nil {
					return nil, err
				}

			case model.ChunkToolArgs:
				tc, ok := table.Get(ck.ToolCallID)
				if !ok {
					return nil, &core.RunProtocolError{RunID: rootRunID, Reason: fmt.Sprintf("args for unknown tool call %s", ck.ToolCallID)}
				}
				if err := tc.AppendArgs(ck.ArgsDelta); err != nil {
					return nil, &core.RunProtocolError{RunID: rootRunID, Reason: err.Error()}
				}
				if err := emit(event.NewToolCallArgsDelta(rootRunID, ck.ToolCallID, ck.ArgsDelta)); err != nil {
					return nil, err
				}

			case model.ChunkFinish:
				finish = ck.FinishReason
			}
		}
	}

	if err := closeMessage(); err != nil {
		return nil, err
	}

	if finish != model.FinishToolCalls {
		if table.Len() > 0 {
			return nil, &core.RunProtocolError{RunID: rootRunID, Reason: fmt.Sprintf("turn finished %q with %d open tool calls", finish, table.Len())}
		}
		return nil, nil
	}

	calls := table.All()
	for _, tc := range calls {
		if err := tc.Seal(); err != nil {
			return nil, &core.RunProtocolError{RunID: rootRunID, Reason: err.Error()}
		}
		if err := emit(event.NewToolCallEnd(rootRunID, tc.ID)); err != nil {
			return nil, err
		}
	}
	_ = cur.Run.SetStatus(core.RunAwaitingTool)
	return calls, nil
}

// executeBatch runs every call of one batch concurrently, waits for all of
// them, and folds the results into tool-role messages in call order. An
// executor error or panic becomes an {"error": ...} payload; it never aborts
// the run.
func (l *Loop) executeBatch(cur *core.RunContext, calls []*core.ToolCall, parsed []map[string]any) error {
	maxPar := l.opts.MaxParallelTools
	if maxPar <= 0 || maxPar > len(calls) {
		maxPar = len(calls)
	}

	results := make([]string, len(calls))
	start := time.Now()

	g, gctx := errgroup.WithContext(cur.Context)
	g.SetLimit(maxPar)
	for i, tc := range calls {
		g.Go(func() error {
			results[i] = l.executeOne(gctx, cur, tc, parsed[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, tc := range calls {
		if err := cur.PersistMessage(core.NewToolMessage(tc.ID, results[i])); err != nil {
			return err
		}
		cur.Run.ToolCalls().Remove(tc.ID)
	}

	cur.LogDebug(
		"flow.tools.batch.complete",
		"run_id", cur.RunID,
		"count", len(calls),
		"parallelism", maxPar,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// executeOne invokes a single executor with panic safety and returns the
// JSON payload to fold into the transcript.
func (l *Loop) executeOne(ctx context.Context, cur *core.RunContext, tc *core.ToolCall, args map[string]any) string {
	_ = tc.MarkExecuting()

	var (
		result any
		err    error
	)
	impl, ok := l.tools.Get(tc.Name)
	if !ok {
		err = fmt.Errorf("tool %s not found", tc.Name)
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
					cur.LogError("flow.tool.panic", "tool", tc.Name, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
				}
			}()
			execStart := time.Now()
			result, err = impl.Execute(ctx, args)
			cur.LogInfo(
				"flow.tool.executed",
				"tool", tc.Name,
				"tool_call_id", tc.ID,
				"duration_ms", time.Since(execStart).Milliseconds(),
				"error", err != nil,
			)
		}()
	}

	if err != nil {
		wrapped := &core.ToolExecutionError{ToolCallID: tc.ID, Name: tc.Name, Err: err}
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		_ = tc.Fail(string(payload))
		cur.LogWarn("flow.tool.failed", "tool", tc.Name, "error", wrapped.Error())
		return string(payload)
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		payload, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("unencodable tool result: %v", merr)})
		_ = tc.Fail(string(payload))
		return string(payload)
	}
	_ = tc.Complete(string(payload))
	return string(payload)
}

// definitions builds the tool definitions advertised to the model, sorted by
// name for stable request shapes.
func (l *Loop) definitions() []model.ToolDefinition {
	execs := l.tools.All()
	sort.Slice(execs, func(i, j int) bool { return execs[i].Name() < execs[j].Name() })
	defs := make([]model.ToolDefinition, 0, len(execs))
	for _, e := range execs {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        e.Name(),
				Description: e.Description(),
				Parameters:  e.Parameters(),
			},
		})
	}
	return defs
}
