package tools

import (
	"fmt"
	"strings"

	"spendbot/pkg/api"
)

// ResultKind discriminates tool results.
type ResultKind string

const (
	ResultText     ResultKind = "text"
	ResultArtifact ResultKind = "artifact"
)

// Artifact is a downloadable file produced by a tool.
type Artifact struct {
	Type string
	URL  string
	Name string
	ID   string
}

// Result is a resolved tool outcome. Text is what the model sees; for an
// artifact it is the provider's raw payload until the dispatcher rewrites it.
type Result struct {
	Kind     ResultKind
	Text     string
	Artifact *Artifact
	IsError  bool
}

// Outcome is either a resolved Result or a Pending continuation.
type Outcome struct {
	Result  *Result
	Pending *Pending
}

// Resolved wraps r in an Outcome.
func Resolved(r *Result) Outcome {
	return Outcome{Result: r}
}

// TextResult builds a plain text result.
func TextResult(text string) *Result {
	return &Result{Kind: ResultText, Text: text}
}

// ErrorResult renders a tool error as the payload handed to the model.
func ErrorResult(e *api.ToolExecutionError) *Result {
	return &Result{Kind: ResultText, Text: e.Payload(), IsError: true}
}

// JSONResult marshals v into a text result.
func JSONResult(v any) (*Result, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return TextResult(string(b)), nil
}

type artifactEnvelope struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	ID       any    `json:"id"`
}

// DecodeResult classifies provider text. The payload is an artifact exactly
// when it is a JSON object whose "type" and "url" are non-empty strings.
func DecodeResult(text string) *Result {
	res := TextResult(text)

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return res
	}
	var env artifactEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return res
	}
	if env.Type == "" || env.URL == "" {
		return res
	}

	name := env.Name
	if name == "" {
		name = env.Filename
	}
	art := &Artifact{Type: env.Type, URL: env.URL, Name: name}
	if env.ID != nil {
		switch id := env.ID.(type) {
		case float64:
			art.ID = fmt.Sprintf("%.0f", id)
		default:
			art.ID = fmt.Sprint(id)
		}
	}
	res.Kind = ResultArtifact
	res.Artifact = art
	return res
}
