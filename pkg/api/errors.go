package api

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrConnection indicates the tool-provider could not be reached at startup.
	ErrConnection = errors.New("tool provider connection failed")

	// ErrNameCollision indicates a custom tool reuses an existing tool name.
	ErrNameCollision = errors.New("tool name collision")

	// ErrLoopLimit indicates the model kept requesting tools past the round cap.
	ErrLoopLimit = errors.New("tool-call loop limit exceeded")

	// ErrUnsupported indicates the originating transport lacks a capability a tool needs.
	ErrUnsupported = errors.New("operation not supported by this channel")
)

// Tool error types, rendered into the payload the model receives.
const (
	ToolErrorNotFound   = "not_found"
	ToolErrorArguments  = "invalid_arguments"
	ToolErrorValidation = "validation"
	ToolErrorProvider   = "provider"
	ToolErrorNetwork    = "network"
	ToolErrorExecution  = "execution"
	ToolErrorTimeout    = "timeout"
)

// ToolExecutionError describes a failed tool invocation. It never escapes the
// dispatcher as a Go error; it is rendered with Payload and handed to the model.
type ToolExecutionError struct {
	Type       string
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *ToolExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s (%s): %s: %v", e.ToolName, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %s (%s): %s", e.ToolName, e.Type, e.Message)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// Payload renders the error as the JSON text stored in the tool result message.
func (e *ToolExecutionError) Payload() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	body := map[string]any{
		"error": map[string]string{
			"type":    e.Type,
			"tool":    e.ToolName,
			"message": msg,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"error":{"type":%q,"message":%q}}`, e.Type, msg)
	}
	return string(b)
}

// ArtifactDeliveryError reports a file that could not be sent to the user.
// The turn continues with a fallback result that contains the URL.
type ArtifactDeliveryError struct {
	URL   string
	Cause error
}

func (e *ArtifactDeliveryError) Error() string {
	return fmt.Sprintf("deliver artifact %s: %v", e.URL, e.Cause)
}

func (e *ArtifactDeliveryError) Unwrap() error {
	return e.Cause
}

// HistoryParseError reports a durable-history payload that could not be decoded.
type HistoryParseError struct {
	UserID string
	Cause  error
}

func (e *HistoryParseError) Error() string {
	return fmt.Sprintf("parse history for user %s: %v", e.UserID, e.Cause)
}

func (e *HistoryParseError) Unwrap() error {
	return e.Cause
}

// GenerationError reports a failed turn: the model call failed or the
// tool-call loop exceeded its cap.
type GenerationError struct {
	Provider string
	Round    int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("generation failed (provider %s, round %d): %v", e.Provider, e.Round, e.Err)
	}
	return fmt.Sprintf("generation failed (round %d): %v", e.Round, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
