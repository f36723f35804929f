package claudecode

import (
	"bytes"
	"fmt"
	"strings"

	jsonx "opsbot/internal/shared/json"
)

// StreamMessage is one line of `--output-format stream-json` output.
type StreamMessage struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype,omitempty"`
	Message *streamEnvelope `json:"message,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Usage   *streamUsage    `json:"usage,omitempty"`
	Model   string          `json:"model,omitempty"`
}

type streamEnvelope struct {
	Model   string          `json:"model,omitempty"`
	Content []streamContent `json:"content,omitempty"`
}

type streamContent struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     jsonx.RawMessage `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   jsonx.RawMessage `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

type streamUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// ParseStreamMessage decodes a single stream line.
func ParseStreamMessage(line []byte) (StreamMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamMessage{}, fmt.Errorf("empty line")
	}
	var msg StreamMessage
	if err := jsonx.Unmarshal(line, &msg); err != nil {
		return StreamMessage{}, err
	}
	if msg.Type == "" {
		return StreamMessage{}, fmt.Errorf("missing type")
	}
	return msg, nil
}

// AssistantText joins the text items of an assistant message.
func (m StreamMessage) AssistantText() string {
	if m.Type != "assistant" || m.Message == nil {
		return ""
	}
	var parts []string
	for _, item := range m.Message.Content {
		if item.Type == "text" && strings.TrimSpace(item.Text) != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool_use items of an assistant message.
func (m StreamMessage) ToolUses() []streamContent {
	return m.contentOfType("assistant", "tool_use")
}

// ToolResults returns the tool_result items of a user message.
func (m StreamMessage) ToolResults() []streamContent {
	return m.contentOfType("user", "tool_result")
}

func (m StreamMessage) contentOfType(msgType, itemType string) []streamContent {
	if m.Type != msgType || m.Message == nil {
		return nil
	}
	var out []streamContent
	for _, item := range m.Message.Content {
		if item.Type == itemType {
			out = append(out, item)
		}
	}
	return out
}

// Tokens returns input and output token usage of a result line.
func (m StreamMessage) Tokens() (int, int) {
	if m.Usage == nil {
		return 0, 0
	}
	input := m.Usage.InputTokens + m.Usage.CacheCreationInputTokens + m.Usage.CacheReadInputTokens
	return input, m.Usage.OutputTokens
}

// inputString renders tool input as compact JSON.
func (c streamContent) inputString() string {
	raw := bytes.TrimSpace(c.Input)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := compactJSON(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// resultString flattens tool_result content, which is either a string or a
// list of text items.
func (c streamContent) resultString() string {
	raw := bytes.TrimSpace(c.Content)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := jsonx.Unmarshal(raw, &text); err == nil {
		return text
	}
	var items []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := jsonx.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func compactJSON(buf *bytes.Buffer, raw []byte) error {
	var v any
	if err := jsonx.Unmarshal(raw, &v); err != nil {
		return err
	}
	encoded, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}
