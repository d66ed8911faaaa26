package config

import (
	"fmt"
	"os"
	"strings"

	"spendbot/pkg/mcp"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel API keys and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the provider group list in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// MCP is the remote tool-provider endpoint.
	MCP mcp.Config `json:"mcp"`
	// Instructions is the static system prompt of every conversation.
	Instructions string `json:"instructions"`
	// InstructionsFile, when set, overrides Instructions and is hot-reloaded.
	InstructionsFile string `json:"instructions_file,omitempty"`

	Tools   ToolsConfig   `json:"tools"`
	History HistoryConfig `json:"history"`
	Voice   VoiceConfig   `json:"voice"`
}

// ToolsConfig controls how remote tools are exposed and invoked.
type ToolsConfig struct {
	// NonStrict lists tools whose schemas are not enforced.
	NonStrict []string `json:"non_strict"`
	// Headerless lists tools invoked without identity headers.
	Headerless []string `json:"headerless"`
	// Hidden lists remote tools withheld from the model.
	Hidden []string `json:"hidden"`
	// ArtifactCleanup maps an artifact type to the tool that deletes it after delivery.
	ArtifactCleanup map[string]string `json:"artifact_cleanup"`
	// IdentityHeader and NameHeader name the per-call identity headers.
	IdentityHeader string `json:"identity_header"`
	NameHeader     string `json:"name_header"`
}

// HistoryConfig selects the durable history backend.
type HistoryConfig struct {
	// Backend is "mcp" (messages_get/messages_post) or "file".
	Backend string `json:"backend"`
	// Dir is the storage directory of the file backend.
	Dir string `json:"dir,omitempty"`
}

// VoiceConfig configures voice-note transcription. Empty Hosts disables it.
type VoiceConfig struct {
	Hosts      []string `json:"hosts"`
	TieBreak   string   `json:"tie_break"`
	FFmpegPath string   `json:"ffmpeg_path"`
	WorkDir    string   `json:"work_dir"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("invalid 'mcp' configuration: %w", err)
	}
	switch c.History.Backend {
	case "mcp", "file":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	switch c.Voice.TieBreak {
	case "longest", "confidence":
	default:
		return fmt.Errorf("unknown voice tie_break %q", c.Voice.TieBreak)
	}
	return nil
}

// applyDefaults fills optional fields left empty in config.json.
func (c *Config) applyDefaults() {
	if c.Tools.Hidden == nil {
		c.Tools.Hidden = []string{"messages_get", "messages_post"}
	}
	if c.Tools.Headerless == nil {
		c.Tools.Headerless = []string{"reports_delete"}
	}
	if c.Tools.ArtifactCleanup == nil {
		c.Tools.ArtifactCleanup = map[string]string{"report": "reports_delete"}
	}
	if c.Tools.IdentityHeader == "" {
		c.Tools.IdentityHeader = "X-Telegram-Id"
	}
	if c.Tools.NameHeader == "" {
		c.Tools.NameHeader = "X-Telegram-Name"
	}
	if c.History.Backend == "" {
		c.History.Backend = "mcp"
	}
	if c.History.Dir == "" {
		c.History.Dir = "data/history"
	}
	if c.Voice.TieBreak == "" {
		c.Voice.TieBreak = "longest"
	}
	if c.Voice.FFmpegPath == "" {
		c.Voice.FFmpegPath = "ffmpeg"
	}
	if c.Voice.WorkDir == "" {
		c.Voice.WorkDir = "data/voice"
	}
}

// ResolveInstructions returns the system prompt, reading InstructionsFile when set.
func (c *Config) ResolveInstructions() (string, error) {
	if c.InstructionsFile == "" {
		return c.Instructions, nil
	}
	b, err := os.ReadFile(c.InstructionsFile)
	if err != nil {
		return "", fmt.Errorf("read instructions file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance and technical behavior of the engine.
type SystemConfig struct {
	// MaxToolRounds caps model generations within one turn.
	MaxToolRounds int `json:"max_tool_rounds"`
	// ContinuationTimeoutMs bounds how long a suspended tool call waits for
	// the user's out-of-band response.
	ContinuationTimeoutMs int `json:"continuation_timeout_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for a single
	// model request. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// ToolTimeoutMs bounds a single remote tool invocation.
	ToolTimeoutMs int `json:"tool_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching voice notes and artifacts.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// HistoryLimit is the number of durable messages seeded into a new conversation.
	HistoryLimit int `json:"history_limit"`
	// ConversationIdleMs is how long an untouched in-memory conversation is
	// kept before it is dropped and later reseeded from durable history.
	ConversationIdleMs int `json:"conversation_idle_ms"`
	// DebugChunks enables saving every raw LLM response to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// ShowMonitor mirrors gateway traffic to stdout.
	ShowMonitor bool `json:"show_monitor"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxToolRounds:         16,
		ContinuationTimeoutMs: 300000,
		LLMTimeoutMs:          120000,
		ToolTimeoutMs:         30000,
		OllamaDefaultURL:      "http://localhost:11434",
		TelegramMessageLimit:  4000,
		DownloadTimeoutMs:     30000,
		HistoryLimit:          10,
		ConversationIdleMs:    6 * 60 * 60 * 1000,
		LogLevel:              "info",
		ShowMonitor:           true,
	}
}

// Load reads and parses the JSON configuration files. The app config at
// appPath is mandatory; the system config at sysPath falls back to defaults.
func Load(appPath, sysPath string) (*Config, *SystemConfig, error) {
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(appFile)
	if err != nil {
		return nil, nil, err
	}

	return cfg, LoadSystemConfig(sysPath), nil
}

// Parse decodes and validates an app config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultSystemConfig().MaxToolRounds
	}
	return cfg
}
