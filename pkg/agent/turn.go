package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/dispatch"
	"spendbot/pkg/llm"
	"spendbot/pkg/tools"
)

// interruptedText closes a failed turn in the buffer so the next user
// message does not follow an unanswered one.
const interruptedText = "The previous request failed before an answer was given. Tool calls above it may already have been applied."

// turn is the live state of one user query. It survives a suspension and
// is resumed by Reply.Await.
type turn struct {
	engine  *Engine
	gw      *llm.Gateway
	disp    *dispatch.Dispatcher
	sess    tools.Session
	user    llm.Message
	sub     bool
	release func()

	state  TurnState
	rounds int
	queue  []llm.Item

	waitCall llm.ToolCall
	waiting  *tools.Pending
}

func (t *turn) setState(ctx context.Context, s TurnState) {
	if t.state == s {
		return
	}
	slog.DebugContext(ctx, "Turn state", "from", t.state, "to", s, "round", t.rounds)
	t.state = s
}

// run drives the state machine until DONE, a suspension or an error.
func (t *turn) run(ctx context.Context) (*Reply, error) {
	for {
		if len(t.queue) == 0 {
			t.setState(ctx, StateAwaitingModel)
			step, err := t.generate(ctx)
			if err != nil {
				t.fail()
				return nil, err
			}
			if step.Empty() {
				slog.WarnContext(ctx, "Model returned an empty step, regenerating", "round", t.rounds)
				continue
			}
			t.queue = step.Items
		}

		item := t.queue[0]
		t.queue = t.queue[1:]

		switch item.Type {
		case llm.ItemFunctionCall:
			t.setState(ctx, StateDispatchingTools)
			if pending := t.dispatch(ctx, item.Call); pending != nil {
				t.setState(ctx, StateAwaitingContinuation)
				t.waitCall = item.Call
				t.waiting = pending
				if !t.sub {
					t.engine.metrics.Turn("suspended")
				}
				return &Reply{turn: t}, nil
			}
		case llm.ItemMessage:
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			t.setState(ctx, StateDone)
			t.queue = nil
			t.finish(ctx, item.Text)
			return &Reply{Text: item.Text}, nil
		}
	}
}

func (t *turn) generate(ctx context.Context) (*llm.Step, error) {
	t.rounds++
	provider := t.gw.Provider()
	if t.rounds > t.engine.opts.MaxRounds {
		slog.ErrorContext(ctx, "Tool-call loop limit reached", "max", t.engine.opts.MaxRounds)
		return nil, &api.GenerationError{Provider: provider, Round: t.rounds, Err: api.ErrLoopLimit}
	}

	genCtx := ctx
	if t.engine.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, t.engine.opts.GenerateTimeout)
		defer cancel()
	}

	start := time.Now()
	step, err := t.gw.Generate(genCtx)
	t.engine.metrics.Generation(provider, start, err)
	if err != nil {
		slog.ErrorContext(ctx, "Generation failed", "provider", provider, "round", t.rounds, "error", err)
		return nil, &api.GenerationError{Provider: provider, Round: t.rounds, Err: err}
	}
	llm.LogUsage(ctx, provider, step.Usage)
	return step, nil
}

// dispatch appends the request, runs it and appends the result. A pending
// outcome leaves the request without a result until resume.
func (t *turn) dispatch(ctx context.Context, call llm.ToolCall) *tools.Pending {
	t.gw.AddMessage(llm.NewToolCallMessage(call))

	out := t.disp.Dispatch(ctx, t.sess, call)
	if out.Pending != nil {
		return out.Pending
	}
	text := ""
	if out.Result != nil {
		text = out.Result.Text
	}
	t.gw.AddMessage(llm.NewToolResultMessage(call.ID, callName(call), text))
	return nil
}

// resume waits for the parked continuation, appends its result and carries
// on with the rest of the step.
func (t *turn) resume(ctx context.Context) (*Reply, error) {
	payload, err := t.waiting.Wait(ctx)
	call := t.waitCall
	t.waiting = nil

	if err != nil {
		errType := api.ToolErrorExecution
		if errors.Is(err, tools.ErrContinuationTimeout) {
			errType = api.ToolErrorTimeout
		}
		terr := &api.ToolExecutionError{Type: errType, ToolName: callName(call), ToolCallID: call.ID, Message: "no response from user", Cause: err}
		payload = terr.Payload()
		slog.WarnContext(ctx, "Continuation ended without a response", "tool", callName(call), "error", err)
	}
	t.gw.AddMessage(llm.NewToolResultMessage(call.ID, callName(call), payload))

	if ctxErr := ctx.Err(); ctxErr != nil {
		t.fail()
		return nil, ctxErr
	}
	return t.run(ctx)
}

func (t *turn) finish(ctx context.Context, answer string) {
	defer t.release()

	assistant := llm.NewAssistantMessage(answer)
	t.gw.AddMessage(assistant)
	if t.sub {
		return
	}
	t.engine.metrics.Turn("answered")
	if t.engine.store != nil {
		if err := t.engine.store.Append(ctx, t.sess.SessionContext, []llm.Message{t.user, assistant}); err != nil {
			slog.ErrorContext(ctx, "Failed to persist turn", "user", t.sess.UserID, "error", err)
		}
	}
}

func (t *turn) fail() {
	defer t.release()
	if t.sub {
		return
	}
	t.engine.metrics.Turn("error")
	t.gw.AddMessage(llm.NewAssistantMessage(interruptedText))
}

func callName(call llm.ToolCall) string {
	if call.Name != "" {
		return call.Name
	}
	return call.Function.Name
}

// Reply is the outcome of HandleQuery. A pending reply carries the
// suspended turn; Await finishes it.
type Reply struct {
	Text string

	turn *turn
	once sync.Once
	text string
	err  error
}

// Pending reports whether the turn is suspended on a user response.
func (r *Reply) Pending() bool {
	return r.turn != nil
}

// Await resumes a suspended turn and returns the final answer. Later calls
// return the cached result.
func (r *Reply) Await(ctx context.Context) (string, error) {
	if r.turn == nil {
		return r.Text, nil
	}
	r.once.Do(func() {
		next := r
		for next.turn != nil {
			reply, err := next.turn.resume(ctx)
			if err != nil {
				r.err = err
				return
			}
			next = reply
		}
		r.text = next.Text
	})
	return r.text, r.err
}
