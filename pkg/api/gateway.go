package api

import "context"

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
}

// SignalTyping asks the channel to show a "typing" indicator.
const SignalTyping = "typing"

// SignalingChannel is an optional extension of the Channel interface for
// platforms that support control signals (e.g., typing indicators).
type SignalingChannel interface {
	Channel
	SendSignal(session SessionContext, signal string) error
}

// DocumentChannel is implemented by channels that can deliver files as documents.
type DocumentChannel interface {
	Channel
	SendDocument(ctx context.Context, session SessionContext, path, filename string) error
}

// PickerChannel is implemented by channels with a native contact-picker UI.
type PickerChannel interface {
	Channel
	RequestUsers(session SessionContext, req UserRequest) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the Gateway core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
}

// MessageResponder defines the capabilities for sending responses back to a channel.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
	SendSignal(session SessionContext, signal string) error
}

// DocumentSender delivers a local file to the session's recipient.
type DocumentSender interface {
	SendDocument(ctx context.Context, session SessionContext, path, filename string) error
}

// UserPicker asks the user to pick contacts through the transport's native UI.
// The selection arrives later as a UnifiedMessage carrying SharedUsers.
type UserPicker interface {
	RequestUsers(session SessionContext, req UserRequest) error
}

// UserRequest describes a contact-picker prompt.
type UserRequest struct {
	RequestID   int    // Echoed back by the platform with the selection
	Prompt      string // Text shown above the picker button
	ButtonText  string // Label of the picker button
	MaxQuantity int    // Upper bound of users that can be selected
}

// UnifiedMessage defines the standardized internal data structure for all
// incoming messages within the system.
type UnifiedMessage struct {
	Session     SessionContext   // Contextual information about the source (User, Chat)
	Content     string           // Standardized text content of the message
	Files       []FileAttachment // Attachments such as documents
	Voice       *FileAttachment  // Voice note, transcribed before reaching the agent
	SharedUsers *SharedUsers     // Result of a contact-picker interaction
	Raw         any              // Optional storage for the original platform-specific payload object
	TurnID      string           // Unique identifier grouping the log lines of this request
}

// SharedUsers is the payload a platform sends back after a contact-picker prompt.
type SharedUsers struct {
	RequestID int     `json:"request_id"`
	UserIDs   []int64 `json:"user_ids"`
}

// SessionContext encapsulates identity and routing information for a specific
// conversation unit on a specific communication channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "telegram")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Recipient id for replies and file delivery (may match UserID for DMs)
	Username  string // Display name of the user as provided by the platform
}

// FileAttachment represents a single file uploaded by a user.
type FileAttachment struct {
	Filename string // Original name of the uploaded file
	MimeType string // MIME type descriptor (e.g., "audio/ogg", "application/pdf")
	Path     string // Path to the saved file
}

// MessageHandler defines the function signature for processing incoming messages.
type MessageHandler func(*UnifiedMessage)

// OnMessage allows MessageHandler to satisfy the MessageProcessor interface.
func (h MessageHandler) OnMessage(msg *UnifiedMessage) {
	h(msg)
}

// MessageProcessor defines the interface for components that can process incoming messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// ResponderAware defines an interface for components that require a MessageResponder to be injected.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}
