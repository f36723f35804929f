package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsbot/internal/app/reasoning"
	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
	tokenutil "opsbot/internal/shared/token"
	"opsbot/internal/shared/utils/id"
)

const summaryPersona = "summarizer"

const (
	commandBind    = "bind"
	commandReset   = "reset"
	commandCompact = "compact"
	commandHelp    = "help"
)

type command struct {
	name string
	arg  string
}

// parseCommand recognises "/name [arg]". Names are case-insensitive and may
// carry a "@bot" suffix as some clients append it.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return command{}, false
	}
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	switch name {
	case commandBind, commandReset, commandCompact, commandHelp:
	default:
		return command{}, false
	}
	return command{name: name, arg: strings.Join(fields[1:], " ")}, true
}

func (p *Pipeline) handleBind(ctx context.Context, logger logging.Logger, adapter chat.Adapter, msg chat.Inbound, conv chat.Conversation, code string) error {
	if strings.TrimSpace(code) == "" {
		p.reply(ctx, adapter, msg, msgBindUsage)
		return nil
	}
	bound, err := p.deps.Binder.VerifyCode(ctx, msg.Identity(), code)
	if err != nil {
		logger.Info("bind attempt by %s failed: %v", msg.Identity(), err)
		var conflict *boterrors.BindingConflictError
		switch {
		case errors.As(err, &conflict) && conflict.Reason == boterrors.ConflictIdentityBoundElsewhere:
			p.reply(ctx, adapter, msg, msgBindIdentityTaken)
		case errors.As(err, &conflict):
			p.reply(ctx, adapter, msg, msgBindAccountTaken)
		case errors.Is(err, boterrors.ErrBindingCodeInvalidOrExpired):
			p.reply(ctx, adapter, msg, msgBindInvalid)
		default:
			p.reply(ctx, adapter, msg, msgGenericFailure)
		}
		return err
	}
	if !conv.IsGroup && conv.AccountID != bound.AccountID {
		if err := p.deps.Conversations.SetConversationAccount(ctx, conv.Key, bound.AccountID); err != nil {
			logger.Warn("set account of %s: %v", conv.Key, err)
		}
	}
	logger.Info("identity %s bound to account %s", msg.Identity(), bound.AccountID)
	p.reply(ctx, adapter, msg, fmt.Sprintf(msgBindDone, bound.AccountID))
	return nil
}

// handleCommand runs the commands that need an authorized caller. It reports
// false for commands it does not own.
func (p *Pipeline) handleCommand(ctx context.Context, logger logging.Logger, adapter chat.Adapter, msg chat.Inbound, cmd command) (bool, error) {
	switch cmd.name {
	case commandReset:
		if err := p.deps.History.Reset(ctx, msg.Key()); err != nil {
			logger.Error("reset %s: %v", msg.Key(), err)
			p.reply(ctx, adapter, msg, msgGenericFailure)
			return true, err
		}
		p.reply(ctx, adapter, msg, msgResetDone)
		return true, nil
	case commandCompact:
		compactCtx := reasoning.WithInvocationObserver(ctx, func(req reasoning.Request, res reasoning.Result, err error) {
			p.recordSummary(ctx, msg, req, res, err)
		})
		compacted, err := p.deps.History.Compact(compactCtx, msg.Key())
		if err != nil {
			logger.Warn("compact %s: %v", msg.Key(), err)
			p.reply(ctx, adapter, msg, msgCompactFailed)
			return true, err
		}
		if !compacted {
			p.reply(ctx, adapter, msg, msgCompactSkipped)
			return true, nil
		}
		p.reply(ctx, adapter, msg, msgCompactDone)
		return true, nil
	case commandHelp:
		p.reply(ctx, adapter, msg, msgHelp)
		return true, nil
	}
	return false, nil
}

// recordSummary audits the engine call behind a compaction.
func (p *Pipeline) recordSummary(ctx context.Context, msg chat.Inbound, req reasoning.Request, res reasoning.Result, err error) {
	rec := chat.InvocationRecord{
		Conversation:   msg.Key(),
		AccountID:      id.AccountIDFromContext(ctx),
		Persona:        summaryPersona,
		Model:          firstNonEmpty(res.Model, req.Model, p.cfg.Model),
		Prompt:         req.Prompt,
		RawResponse:    res.Text,
		ParsedResponse: strings.TrimSpace(res.Text),
		Duration:       res.Duration,
		InputTokens:    res.InputTokens,
		OutputTokens:   res.OutputTokens,
		ToolCalls:      res.ToolCalls,
		Context:        msg.ContextKind(),
		Success:        err == nil,
	}
	if rec.InputTokens == 0 && rec.OutputTokens == 0 {
		rec.InputTokens = tokenutil.CountTokens(req.Prompt)
		rec.OutputTokens = tokenutil.CountTokens(res.Text)
	}
	if err != nil {
		setRecordError(&rec, err)
	}
	p.deps.Audit.Record(ctx, rec)
}
