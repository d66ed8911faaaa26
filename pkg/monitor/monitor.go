package monitor

import "time"

// Message kinds shown by monitors.
const (
	KindUser      = "USER"
	KindAssistant = "ASSISTANT"
	KindTool      = "TOOL"
	KindFile      = "FILE"
)

// MonitorMessage is one line of gateway traffic.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string // one of the Kind constants
	ChannelID   string
	Username    string
	Content     string
}

// Monitor observes gateway traffic.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg MonitorMessage)
}
