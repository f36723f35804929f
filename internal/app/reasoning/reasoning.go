package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
)

// ToolEvent is emitted while the engine runs a tool.
type ToolEvent struct {
	ID      string
	Name    string
	Input   string
	Output  string
	IsError bool
}

// Request is one reasoning engine invocation.
type Request struct {
	Prompt       string
	History      []chat.Message
	SystemPrompt string
	AllowedTools []string
	Model        string
	Timeout      time.Duration
	// AccountID scopes per-account limits. Empty means anonymous.
	AccountID string

	OnToolStart func(ToolEvent)
	OnToolEnd   func(ToolEvent)
}

// Result is what the engine produced. It is returned alongside an error so
// partial telemetry still reaches the audit log.
type Result struct {
	Success      bool
	Text         string
	ToolCalls    []chat.ToolCall
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Model        string
}

// Invoker runs the reasoning engine. Implementations report failures as
// InvocationTimeoutError or InvocationUnavailableError and never panic.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// FormatTranscript renders role-tagged history as plain text for engines
// that accept a single prompt.
func FormatTranscript(history []chat.Message) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildPrompt prefixes the prompt with the rendered history, if any.
func BuildPrompt(history []chat.Message, prompt string) string {
	transcript := FormatTranscript(history)
	if transcript == "" {
		return prompt
	}
	return "Conversation so far:\n" + transcript + "\n\nCurrent message:\n" + prompt
}

// SafeNotify calls fn and swallows any panic raised by the listener.
func SafeNotify(fn func(ToolEvent), event ToolEvent) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(event)
}
