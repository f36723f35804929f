package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	tokenutil "opsbot/internal/shared/token"
)

const (
	summarizeInstruction = "Summarize the conversation above so it can replace the original messages as context."

	// maxSummaryInputTokens bounds the transcript; the oldest text is cut first.
	maxSummaryInputTokens = 60000
)

// Summarizer condenses history through the reasoning engine with a
// dedicated system prompt and no tools.
type Summarizer struct {
	invoker      Invoker
	systemPrompt string
	model        string
	timeout      time.Duration
	maxTokens    int
}

// NewSummarizer builds a Summarizer on top of invoker.
func NewSummarizer(invoker Invoker, systemPrompt, model string, timeout time.Duration) *Summarizer {
	return &Summarizer{invoker: invoker, systemPrompt: systemPrompt, model: model, timeout: timeout, maxTokens: maxSummaryInputTokens}
}

// Summarize returns the summary text of msgs.
func (s *Summarizer) Summarize(ctx context.Context, msgs []chat.Message) (string, error) {
	if s == nil || s.invoker == nil {
		return "", fmt.Errorf("summarizer not configured")
	}
	transcript := FormatTranscript(msgs)
	if transcript == "" {
		return "", fmt.Errorf("nothing to summarize")
	}
	transcript = tokenutil.TruncateToTokens(transcript, s.maxTokens)
	req := Request{
		Prompt:       transcript + "\n\n" + summarizeInstruction,
		SystemPrompt: s.systemPrompt,
		Model:        s.model,
		Timeout:      s.timeout,
	}
	res, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		err = fmt.Errorf("summarize: %w", err)
	} else if strings.TrimSpace(res.Text) == "" {
		err = fmt.Errorf("summarize: engine returned an empty summary")
	}
	notifyObserver(ctx, req, res, err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
