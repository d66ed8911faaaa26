package llm

import "time"

// Roles of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

const BlockTypeText = "text"

//----------------------------------------------------------------
// Message - provider-neutral conversation message
//----------------------------------------------------------------

// Message is one entry of a conversation buffer.
type Message struct {
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds the model's tool-call request (role: assistant).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName link a result to its request (role: tool).
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`

	// Meta carries provider-specific data needed to echo the call back
	// (for example Gemini thought signatures). Never serialized.
	Meta map[string]any `json:"-"`
}

// FunctionCall holds the tool name and its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ContentBlock is a text part of a message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextMessage builds a single-block text message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{{Type: BlockTypeText, Text: text}},
		Timestamp: time.Now().Unix(),
	}
}

func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// NewToolCallMessage records one tool-call request of the model.
func NewToolCallMessage(call ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{call},
		Timestamp: time.Now().Unix(),
	}
}

// NewToolResultMessage records the result of the call with the given id.
func NewToolResultMessage(callID, name, text string) Message {
	m := NewTextMessage(RoleTool, text)
	m.ToolCallID = callID
	m.ToolName = name
	return m
}

// GetTextContent concatenates the text blocks of the message.
func (m *Message) GetTextContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}
