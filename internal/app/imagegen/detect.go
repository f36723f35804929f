package imagegen

import (
	"strings"

	"opsbot/internal/domain/chat"
	jsonx "opsbot/internal/shared/json"
	"opsbot/internal/shared/utils"
)

const maxReasonBytes = 300

var promptKeys = []string{"prompt", "description", "text", "query"}

// Failure is an image tool call whose result was an error or a timeout.
type Failure struct {
	Call   chat.ToolCall
	Prompt string
	Reason string
}

// DetectFailures returns the failed calls of the named image tools in call
// order. Calls without a recoverable prompt are skipped.
func DetectFailures(calls []chat.ToolCall, imageTools []string) []Failure {
	if len(calls) == 0 || len(imageTools) == 0 {
		return nil
	}
	names := make(map[string]struct{}, len(imageTools))
	for _, name := range imageTools {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			names[name] = struct{}{}
		}
	}

	var out []Failure
	for _, call := range calls {
		if _, ok := names[strings.ToLower(strings.TrimSpace(call.Name))]; !ok {
			continue
		}
		if !callFailed(call) {
			continue
		}
		prompt := extractPrompt(call.Input)
		if prompt == "" {
			continue
		}
		out = append(out, Failure{Call: call, Prompt: prompt, Reason: failureReason(call)})
	}
	return out
}

func callFailed(call chat.ToolCall) bool {
	if call.IsError {
		return true
	}
	lower := strings.ToLower(call.Output)
	return strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded")
}

func failureReason(call chat.ToolCall) string {
	reason := strings.Join(strings.Fields(call.Output), " ")
	if reason == "" {
		return "image tool " + call.Name + " failed"
	}
	return utils.TruncateUTF8(reason, maxReasonBytes)
}

// extractPrompt reads the prompt from a JSON tool input, falling back to the
// raw input when it is not an object.
func extractPrompt(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if !strings.HasPrefix(input, "{") {
		return input
	}
	var fields map[string]any
	if err := jsonx.Unmarshal([]byte(input), &fields); err != nil {
		return ""
	}
	for _, key := range promptKeys {
		if value, ok := fields[key].(string); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}
