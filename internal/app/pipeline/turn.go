package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsbot/internal/app/dispatch"
	"opsbot/internal/app/history"
	"opsbot/internal/app/imagegen"
	"opsbot/internal/app/reasoning"
	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
	tokenutil "opsbot/internal/shared/token"
)

// runTurn performs one reasoning turn for an authorized caller.
func (p *Pipeline) runTurn(ctx context.Context, logger logging.Logger, adapter chat.Adapter, msg chat.Inbound, accountID, text string) (Outcome, error) {
	key := msg.Key()
	rec := chat.InvocationRecord{
		Conversation: key,
		AccountID:    accountID,
		Prompt:       text,
		Context:      msg.ContextKind(),
	}

	account, err := p.loadAccount(ctx, logger, accountID)
	if err != nil {
		return p.failTurn(ctx, logger, adapter, msg, rec, err, msgGenericFailure)
	}

	past, err := p.deps.History.History(ctx, key, p.cfg.HistoryLimit)
	if err != nil {
		return p.failTurn(ctx, logger, adapter, msg, rec, err, msgGenericFailure)
	}
	rec.HistoryLength = len(past)

	set, err := p.deps.Capabilities.Resolve(account, "")
	if err != nil {
		return p.failTurn(ctx, logger, adapter, msg, rec, err, msgGenericFailure)
	}
	rec.Persona = set.Persona.Name
	rec.Tools = set.Tools
	if len(set.Suppressed) > 0 {
		logger.Debug("account %s: suppressed %v, routed %v", accountID, set.Suppressed, set.Routed)
	}

	prog := startProgress(ctx, logger, adapter, msg.Target())
	defer prog.finish()

	model := firstNonEmpty(set.Persona.Model, p.cfg.Model)
	rec.Model = model
	req := reasoning.Request{
		Prompt:       text,
		History:      past,
		SystemPrompt: joinPrompts(p.cfg.SystemPrompt, set.Persona.SystemPrompt),
		AllowedTools: set.Tools,
		Model:        model,
		Timeout:      p.cfg.Timeout,
		AccountID:    accountID,
		OnToolStart: func(ev reasoning.ToolEvent) {
			prog.update(fmt.Sprintf(progressTool, ev.Name))
		},
	}

	invokeCtx, span := startInvokeSpan(ctx, model, len(set.Tools))
	result, invokeErr := p.deps.Invoker.Invoke(invokeCtx, req)
	markInvokeSpan(span, result, invokeErr)
	span.End()

	rec.Duration = result.Duration
	rec.RawResponse = result.Text
	rec.ToolCalls = result.ToolCalls
	rec.InputTokens, rec.OutputTokens = result.InputTokens, result.OutputTokens
	if result.Model != "" {
		rec.Model = result.Model
	}
	if rec.InputTokens == 0 && rec.OutputTokens == 0 {
		rec.InputTokens = history.EstimateTokens(past) + tokenutil.CountTokens(text)
		rec.OutputTokens = tokenutil.CountTokens(result.Text)
	}
	if invokeErr != nil {
		logger.Warn("invocation for %s failed: %v", key, invokeErr)
		return p.failTurn(ctx, logger, adapter, msg, rec, invokeErr, msgApology)
	}
	rec.Success = true

	extras, notices, imageErr := p.recoverImages(ctx, logger, result.ToolCalls, &rec)

	body := result.Text
	if len(notices) > 0 {
		body = strings.TrimSpace(body + "\n\n" + strings.Join(notices, "\n"))
	}
	parsed, items := p.deps.Dispatcher.Prepare(body, extras...)
	rec.ParsedResponse = parsed.Text
	if len(items) == 0 {
		items = dispatch.Plan(msgEmptyResponse, nil, dispatch.DefaultMaxItems)
	}

	deliverErr := p.deps.Dispatcher.Deliver(ctx, adapter, msg.Target(), items)
	p.recordDelivery(msg.Platform, deliverErr == nil)
	if deliverErr != nil {
		logger.Warn("delivery for %s incomplete: %v", key, deliverErr)
	}

	turn := []chat.Message{
		{Role: chat.RoleUser, Content: text},
		{Role: chat.RoleAssistant, Content: historyContent(parsed)},
	}
	if err := p.deps.History.Append(ctx, key, turn...); err != nil {
		logger.Warn("append history for %s: %v", key, err)
	}

	switch {
	case deliverErr != nil:
		setRecordError(&rec, deliverErr)
	case imageErr != nil:
		setRecordError(&rec, imageErr)
	}
	p.deps.Audit.Record(ctx, rec)

	if deliverErr != nil {
		return OutcomeReplied, deliverErr
	}
	return OutcomeReplied, nil
}

// recoverImages retries failed image tool calls on the secondary backend.
// Fallback images are returned as extra artifacts together with the notices
// to append to the reply.
func (p *Pipeline) recoverImages(ctx context.Context, logger logging.Logger, calls []chat.ToolCall, rec *chat.InvocationRecord) ([]chat.Artifact, []string, error) {
	failures := imagegen.DetectFailures(calls, p.cfg.ImageTools)
	if len(failures) == 0 {
		return nil, nil, nil
	}
	if len(failures) > p.cfg.MaxFallbackImages {
		logger.Warn("%d image tool failures, retrying the first %d", len(failures), p.cfg.MaxFallbackImages)
		failures = failures[:p.cfg.MaxFallbackImages]
	}

	var (
		artifacts []chat.Artifact
		notices   []string
		errs      []error
	)
	for _, failure := range failures {
		artifact, backend, err := p.deps.Images.Generate(ctx, failure.Prompt, failure.Reason)
		p.recordFallback(backend, err == nil)
		if err != nil {
			logger.Warn("image fallback for tool call %s: %v", failure.Call.ID, err)
			errs = append(errs, err)
			notices = appendOnce(notices, msgImageFailed)
			continue
		}
		rec.ImageBackend = artifact.Backend
		artifacts = append(artifacts, artifact)
		notices = appendOnce(notices, imagegen.Notice(backend))
	}
	return artifacts, notices, errors.Join(errs...)
}

func (p *Pipeline) loadAccount(ctx context.Context, logger logging.Logger, accountID string) (chat.Account, error) {
	if p.deps.Accounts == nil {
		return chat.Account{ID: accountID}, nil
	}
	account, err := p.deps.Accounts.GetAccount(ctx, accountID)
	if errors.Is(err, chat.ErrNotFound) {
		logger.Warn("account %s not found in directory, using role defaults only", accountID)
		return chat.Account{ID: accountID}, nil
	}
	if err != nil {
		return chat.Account{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return account, nil
}

// failTurn tells the user, then audits the real error.
func (p *Pipeline) failTurn(ctx context.Context, logger logging.Logger, adapter chat.Adapter, msg chat.Inbound, rec chat.InvocationRecord, err error, userText string) (Outcome, error) {
	if !errors.Is(err, boterrors.ErrInvocationTimeout) && !errors.Is(err, boterrors.ErrInvocationUnavailable) {
		logger.Error("turn for %s failed: %v", msg.Key(), err)
	}
	p.reply(ctx, adapter, msg, userText)
	rec.Success = false
	setRecordError(&rec, err)
	p.deps.Audit.Record(ctx, rec)
	return OutcomeFailed, err
}

func (p *Pipeline) recordFallback(backend string, success bool) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordImageFallback(backend, success)
	}
}

func (p *Pipeline) recordDelivery(platform chat.Platform, success bool) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordDelivery(string(platform), success)
	}
}

func setRecordError(rec *chat.InvocationRecord, err error) {
	rec.ErrorKind = string(boterrors.KindOf(err))
	rec.Error = err.Error()
}

func historyContent(parsed dispatch.Parsed) string {
	text := parsed.Text
	if len(parsed.Artifacts) == 0 {
		return text
	}
	names := make([]string, 0, len(parsed.Artifacts))
	for _, a := range parsed.Artifacts {
		names = append(names, a.DisplayName())
	}
	note := fmt.Sprintf("[sent %d attachment(s): %s]", len(names), strings.Join(names, ", "))
	if text == "" {
		return note
	}
	return text + "\n" + note
}

func joinPrompts(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func appendOnce(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
