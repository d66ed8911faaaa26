// Package dispatch executes model-requested tool calls against the registry.
// Every failure is turned into a tool result the model can read; nothing
// escapes as a Go error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/delivery"
	"spendbot/pkg/llm"
	"spendbot/pkg/mcp"
	"spendbot/pkg/metrics"
	"spendbot/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	deliveredText = `File "%s" has been sent to the user as a document. Do not include any link.`
	fallbackText  = `The file could not be sent automatically. Fallback download link: %s`
)

// Options configure identity headers and artifact handling.
type Options struct {
	IdentityHeader  string
	NameHeader      string
	Headerless      []string
	ArtifactCleanup map[string]string
	ToolTimeout     time.Duration
}

// Dispatcher routes tool calls to custom handlers or the tool-provider.
type Dispatcher struct {
	registry   *tools.Registry
	caller     api.ToolCaller
	deliverer  delivery.Deliverer
	metrics    *metrics.Metrics
	opts       Options
	headerless map[string]bool
}

func New(registry *tools.Registry, caller api.ToolCaller, deliverer delivery.Deliverer, m *metrics.Metrics, opts Options) *Dispatcher {
	headerless := make(map[string]bool, len(opts.Headerless))
	for _, name := range opts.Headerless {
		headerless[name] = true
	}
	return &Dispatcher{
		registry:   registry,
		caller:     caller,
		deliverer:  deliverer,
		metrics:    m,
		opts:       opts,
		headerless: headerless,
	}
}

// WithRegistry returns a dispatcher sharing everything but the registry.
func (d *Dispatcher) WithRegistry(reg *tools.Registry) *Dispatcher {
	cp := *d
	cp.registry = reg
	return &cp
}

// Registry returns the registry calls are resolved against.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Headers returns the per-call identity headers for sess.
func (d *Dispatcher) Headers(sess api.SessionContext) map[string]string {
	h := map[string]string{}
	if d.opts.IdentityHeader != "" {
		h[d.opts.IdentityHeader] = sess.UserID
	}
	if d.opts.NameHeader != "" && sess.Username != "" {
		h[d.opts.NameHeader] = url.QueryEscape(sess.Username)
	}
	return h
}

// Dispatch executes call and returns a resolved result or a pending
// continuation.
func (d *Dispatcher) Dispatch(ctx context.Context, sess tools.Session, call llm.ToolCall) tools.Outcome {
	name := call.Name
	if name == "" {
		name = call.Function.Name
	}
	log := slog.With("tool", name, "call_id", call.ID)

	desc, ok := d.registry.Lookup(name)
	if !ok {
		return d.fail(ctx, call, &api.ToolExecutionError{Type: api.ToolErrorNotFound, ToolName: name, Message: "unknown tool"})
	}

	args, err := decodeArgs(call.Function.Arguments)
	if err != nil {
		return d.fail(ctx, call, &api.ToolExecutionError{Type: api.ToolErrorArguments, ToolName: name, Message: "arguments are not a valid JSON object", Cause: err})
	}

	if verr, enforce := d.registry.Validate(name, args); verr != nil {
		if enforce {
			return d.fail(ctx, call, &api.ToolExecutionError{Type: api.ToolErrorValidation, ToolName: name, Message: "arguments do not match the schema", Cause: verr})
		}
		log.WarnContext(ctx, "Schema violation tolerated for non-strict tool", "error", verr)
	}

	var res *tools.Result
	if desc.Provenance == tools.ProvenanceCustom {
		handler, _ := d.registry.Custom(name)
		out, err := handler.Handle(ctx, sess, args)
		if err != nil {
			return d.fail(ctx, call, &api.ToolExecutionError{Type: api.ToolErrorExecution, ToolName: name, Message: "tool failed", Cause: err})
		}
		if out.Pending != nil {
			log.InfoContext(ctx, "Tool suspended until user responds")
			d.metrics.ToolCall(name, "pending")
			return out
		}
		res = out.Result
		if res == nil {
			res = tools.TextResult("")
		}
		if res.Kind != tools.ResultArtifact && !res.IsError {
			res = tools.DecodeResult(res.Text)
		}
	} else {
		var failure *api.ToolExecutionError
		res, failure = d.callRemote(ctx, sess, name, args)
		if failure != nil {
			return d.fail(ctx, call, failure)
		}
	}

	if res.Kind == tools.ResultArtifact && res.Artifact != nil {
		res = d.intercept(ctx, sess, desc, res)
	}

	d.metrics.ToolCall(name, "success")
	log.DebugContext(ctx, "Tool completed", "bytes", len(res.Text))
	return tools.Resolved(res)
}

func (d *Dispatcher) callRemote(ctx context.Context, sess tools.Session, name string, args map[string]any) (*tools.Result, *api.ToolExecutionError) {
	var headers map[string]string
	if !d.headerless[name] {
		headers = d.Headers(sess.SessionContext)
	}

	callCtx := ctx
	if d.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.ToolTimeout)
		defer cancel()
	}

	out, err := d.caller.CallTool(callCtx, name, args, headers)
	if err != nil {
		return nil, classify(name, err)
	}
	if out.IsError {
		return nil, &api.ToolExecutionError{Type: api.ToolErrorProvider, ToolName: name, Message: out.Text()}
	}
	return decodeContent(out), nil
}

// decodeContent classifies each text item on its own. The first item that
// is an artifact wins, so a caption next to the artifact JSON cannot hide it.
func decodeContent(out *mcp.ToolCallResult) *tools.Result {
	for _, part := range out.Texts() {
		if res := tools.DecodeResult(part); res.Kind == tools.ResultArtifact {
			return res
		}
	}
	return tools.DecodeResult(out.Text())
}

// intercept delivers the artifact and rewrites the result text.
func (d *Dispatcher) intercept(ctx context.Context, sess tools.Session, desc tools.Descriptor, res *tools.Result) *tools.Result {
	art := *res.Artifact

	name, err := d.deliver(ctx, sess, art)
	if err != nil {
		derr := &api.ArtifactDeliveryError{URL: art.URL, Cause: err}
		slog.ErrorContext(ctx, "Artifact delivery failed, falling back to link", "tool", desc.Name, "error", derr)
		d.metrics.Artifact("fallback")
		return &tools.Result{Kind: tools.ResultArtifact, Text: fmt.Sprintf(fallbackText, art.URL), Artifact: &art}
	}

	d.metrics.Artifact("delivered")
	if desc.Provenance == tools.ProvenanceRemote {
		d.cleanup(ctx, sess, art)
	}
	return &tools.Result{Kind: tools.ResultArtifact, Text: fmt.Sprintf(deliveredText, name), Artifact: &art}
}

func (d *Dispatcher) deliver(ctx context.Context, sess tools.Session, art tools.Artifact) (string, error) {
	if d.deliverer == nil {
		return "", errors.New("no file delivery configured")
	}
	return d.deliverer.Deliver(ctx, sess, art)
}

// cleanup deletes a delivered artifact on the provider. Failures are logged.
func (d *Dispatcher) cleanup(ctx context.Context, sess tools.Session, art tools.Artifact) {
	tool := d.opts.ArtifactCleanup[art.Type]
	if tool == "" || !d.registry.IsRemote(tool) {
		return
	}
	args := map[string]any{}
	if art.ID != "" {
		args["id"] = numericOrString(art.ID)
	}
	var headers map[string]string
	if !d.headerless[tool] {
		headers = d.Headers(sess.SessionContext)
	}
	if _, err := d.caller.CallTool(ctx, tool, args, headers); err != nil {
		slog.WarnContext(ctx, "Artifact cleanup failed", "tool", tool, "id", art.ID, "error", err)
		return
	}
	slog.DebugContext(ctx, "Artifact cleaned up", "tool", tool, "id", art.ID)
}

func (d *Dispatcher) fail(ctx context.Context, call llm.ToolCall, e *api.ToolExecutionError) tools.Outcome {
	e.ToolCallID = call.ID
	slog.WarnContext(ctx, "Tool call failed", "tool", e.ToolName, "type", e.Type, "error", e)
	d.metrics.ToolCall(e.ToolName, "error")
	return tools.Resolved(tools.ErrorResult(e))
}

func classify(name string, err error) *api.ToolExecutionError {
	var rpcErr *mcp.JSONRPCError
	switch {
	case errors.As(err, &rpcErr):
		return &api.ToolExecutionError{Type: api.ToolErrorProvider, ToolName: name, Message: rpcErr.Message}
	case errors.Is(err, context.DeadlineExceeded):
		return &api.ToolExecutionError{Type: api.ToolErrorTimeout, ToolName: name, Message: "tool call timed out", Cause: err}
	default:
		return &api.ToolExecutionError{Type: api.ToolErrorNetwork, ToolName: name, Message: "tool provider unreachable", Cause: err}
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func numericOrString(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
