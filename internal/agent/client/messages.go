package client

import (
	"encoding/json"
	"strings"
)

// Message type discriminators. The SDK emits weakly-typed JSON values; the
// core discriminates only {system.init, assistant, result} and logs anything
// else verbatim.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeResult    = "result"

	SubTypeInit = "init"

	// Result subtypes.
	SubTypeSuccess       = "success"
	SubTypeErrDuringExec = "error_during_execution"
	SubTypeErrMaxTurns   = "error_max_turns"
)

// Message is one parsed SDK message. Fields are populated per type; Raw
// always carries the original payload for verbatim logging of unknown shapes.
type Message struct {
	Type    string `json:"type"`
	SubType string `json:"subtype,omitempty"`

	// system.init fields
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	WorkDir   string   `json:"cwd,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	// assistant fields
	Message *AssistantMessage `json:"message,omitempty"`

	// result fields
	DurationMs   int64      `json:"duration_ms,omitempty"`
	TotalCostUSD float64    `json:"total_cost_usd,omitempty"`
	NumTurns     int        `json:"num_turns,omitempty"`
	Usage        *UsageInfo `json:"usage,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// AssistantMessage holds assistant content blocks.
type AssistantMessage struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is a single content element: text or tool_use.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// UsageInfo holds token usage from result messages.
type UsageInfo struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Decode parses a raw SDK payload into a Message, retaining the original
// bytes in Raw.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{Raw: data}, err
	}
	msg.Raw = data
	return msg, nil
}

// IsInit returns true for the system.init message that carries the session id.
func (m *Message) IsInit() bool {
	return m.Type == TypeSystem && m.SubType == SubTypeInit
}

// IsAssistant returns true for assistant content messages.
func (m *Message) IsAssistant() bool {
	return m.Type == TypeAssistant
}

// IsResult returns true for terminal result messages of any subtype.
func (m *Message) IsResult() bool {
	return m.Type == TypeResult
}

// IsSuccessResult returns true for result.success.
func (m *Message) IsSuccessResult() bool {
	return m.Type == TypeResult && m.SubType == SubTypeSuccess
}

// IsErrorResult returns true for result.error_* subtypes.
func (m *Message) IsErrorResult() bool {
	return m.Type == TypeResult && strings.HasPrefix(m.SubType, "error")
}

// TextChunk concatenates the text blocks of an assistant message.
// Returns "" for non-assistant messages or messages without text.
func (m *Message) TextChunk() string {
	if m.Message == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range m.Message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolNames returns the names of tool_use blocks in an assistant message.
// Tool inputs are never exposed here; session logs show only the name.
func (m *Message) ToolNames() []string {
	if m.Message == nil {
		return nil
	}
	var names []string
	for _, block := range m.Message.Content {
		if block.Type == "tool_use" {
			names = append(names, block.Name)
		}
	}
	return names
}
