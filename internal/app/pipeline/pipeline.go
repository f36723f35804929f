package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"opsbot/internal/app/audit"
	"opsbot/internal/app/binding"
	"opsbot/internal/app/capability"
	"opsbot/internal/app/dispatch"
	"opsbot/internal/app/history"
	"opsbot/internal/app/imagegen"
	"opsbot/internal/app/reasoning"
	"opsbot/internal/app/trigger"
	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
	"opsbot/internal/shared/utils/id"
)

// Outcome is how one inbound message finished.
type Outcome string

const (
	OutcomeIgnored Outcome = "ignored"
	OutcomeDenied  Outcome = "denied"
	OutcomeCommand Outcome = "command"
	OutcomeReplied Outcome = "replied"
	OutcomeFailed  Outcome = "failed"
)

const parentLookupTimeout = 3 * time.Second

// Config holds the per-turn knobs of the pipeline.
type Config struct {
	// TriggerNames are the bot names that count as a mention, per platform.
	TriggerNames map[chat.Platform][]string
	HistoryLimit int
	SystemPrompt string
	Model        string
	Timeout      time.Duration
	// ImageTools name the tools whose failures trigger the image fallback.
	ImageTools []string
	// MaxFallbackImages caps secondary image attempts per turn.
	MaxFallbackImages int
}

// Metrics is the slice of the metrics collector the pipeline feeds.
type Metrics interface {
	RecordImageFallback(backend string, success bool)
	RecordDelivery(platform string, success bool)
	RecordTurn(platform, result string)
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Conversations chat.ConversationStore
	Accounts      chat.AccountDirectory
	Binder        *binding.Service
	History       *history.Service
	Capabilities  *capability.Resolver
	Invoker       reasoning.Invoker
	Images        *imagegen.Chain
	Dispatcher    *dispatch.Dispatcher
	Audit         *audit.Recorder
	Metrics       Metrics
	Logger        logging.Logger
}

// Pipeline turns inbound chat messages into reasoning turns. Handle holds no
// per-conversation state and is safe for concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps

	logger logging.Logger
	now    func() time.Time

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	baseCtx  context.Context
	cancelFn context.CancelFunc
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Conversations == nil:
		return nil, fmt.Errorf("pipeline: conversation store is required")
	case deps.Binder == nil:
		return nil, fmt.Errorf("pipeline: binder is required")
	case deps.History == nil:
		return nil, fmt.Errorf("pipeline: history service is required")
	case deps.Capabilities == nil:
		return nil, fmt.Errorf("pipeline: capability resolver is required")
	case deps.Invoker == nil:
		return nil, fmt.Errorf("pipeline: reasoning invoker is required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("pipeline: dispatcher is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 40
	}
	if cfg.MaxFallbackImages <= 0 {
		cfg.MaxFallbackImages = 2
	}
	if deps.Images == nil {
		deps.Images = imagegen.NewChain(nil, 0, deps.Logger)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewRecorder(nil, deps.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   logging.OrNop(deps.Logger),
		now:      time.Now,
		baseCtx:  ctx,
		cancelFn: cancel,
	}, nil
}

// Submit runs Handle on its own goroutine so ingress loops never block. It
// reports false once Shutdown has started.
func (p *Pipeline) Submit(adapter chat.Adapter, msg chat.Inbound) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pipeline panic for %s: %v", msg.Key(), r)
			}
		}()
		_, _ = p.Handle(p.baseCtx, adapter, msg)
	}()
	return true
}

// Shutdown stops accepting work and waits for in-flight turns. When ctx
// expires first, outstanding turns are cancelled, which kills any running
// engine process.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelFn()
		return nil
	case <-ctx.Done():
		p.cancelFn()
		<-done
		return ctx.Err()
	}
}

// Handle processes one inbound message end to end. The returned error is the
// failure that ended the turn, if any; the user has already been told.
func (p *Pipeline) Handle(ctx context.Context, adapter chat.Adapter, msg chat.Inbound) (outcome Outcome, err error) {
	ctx, _ = id.EnsureLogID(ctx, id.NewLogID)
	ctx = id.WithConversationID(ctx, msg.Key().String())
	logger := logging.FromContext(ctx, p.logger)

	ctx, span := startSpan(ctx, spanHandle, msg)
	defer func() {
		markSpanResult(span, outcome, err)
		span.End()
		p.recordTurn(msg.Platform, outcome)
	}()

	names := p.cfg.TriggerNames[msg.Platform]
	input := trigger.Input{
		Text:         msg.Text,
		IsGroup:      msg.IsGroup,
		IsReplyToBot: msg.IsReplyToBot,
		TriggerNames: names,
	}
	decision := trigger.Decide(input)
	if !decision.Trigger && p.repliesToBot(ctx, adapter, msg) {
		input.IsReplyToBot = true
		decision = trigger.Decide(input)
	}
	if !decision.Trigger {
		return OutcomeIgnored, nil
	}
	text := strings.TrimSpace(msg.Text)
	if msg.IsGroup {
		text = trigger.StripMentions(text, names)
	}
	if text == "" {
		return OutcomeIgnored, nil
	}
	logger.Info("turn start %s sender=%s trigger=%s", msg.Key(), msg.SenderID, decision)

	conv, err := p.deps.Conversations.EnsureConversation(ctx, msg.Key(), msg.IsGroup)
	if err != nil {
		logger.Error("ensure conversation %s: %v", msg.Key(), err)
		p.reply(ctx, adapter, msg, msgGenericFailure)
		return OutcomeFailed, err
	}

	cmd, isCommand := parseCommand(text)
	if isCommand && cmd.name == commandBind {
		return OutcomeCommand, p.handleBind(ctx, logger, adapter, msg, conv, cmd.arg)
	}

	bound, err := p.deps.Binder.CheckAccess(ctx, msg.Identity(), conv)
	if err != nil {
		if boterrors.IsAccessDenied(err) {
			logger.Info("access denied for %s in %s: %v", msg.Identity(), msg.Key(), err)
			if !msg.IsGroup && errors.Is(err, boterrors.ErrIdentityNotBound) {
				p.reply(ctx, adapter, msg, msgBindingInstructions)
			}
			return OutcomeDenied, err
		}
		logger.Error("access check for %s: %v", msg.Identity(), err)
		p.reply(ctx, adapter, msg, msgGenericFailure)
		return OutcomeFailed, err
	}
	ctx = id.WithAccountID(ctx, bound.AccountID)
	logger = logging.FromContext(ctx, p.logger)
	if conv.AccountID != bound.AccountID {
		if err := p.deps.Conversations.SetConversationAccount(ctx, conv.Key, bound.AccountID); err != nil {
			logger.Warn("set account of %s: %v", conv.Key, err)
		}
	}

	if isCommand {
		if handled, err := p.handleCommand(ctx, logger, adapter, msg, cmd); handled {
			return OutcomeCommand, err
		}
	}

	return p.runTurn(ctx, logger, adapter, msg, bound.AccountID, text)
}

// repliesToBot asks the adapter whether the parent of a group message was
// sent by the bot.
func (p *Pipeline) repliesToBot(ctx context.Context, adapter chat.Adapter, msg chat.Inbound) bool {
	if !msg.IsGroup || msg.IsReplyToBot || msg.ParentID == "" {
		return false
	}
	resolver, ok := adapter.(chat.ReplyResolver)
	if !ok {
		return false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, parentLookupTimeout)
	defer cancel()
	return resolver.IsBotMessage(lookupCtx, msg.ParentID)
}

func (p *Pipeline) reply(ctx context.Context, adapter chat.Adapter, msg chat.Inbound, text string) {
	if adapter == nil {
		return
	}
	items := []chat.OutboundItem{{Kind: chat.OutboundText, Text: text}}
	if err := p.deps.Dispatcher.Deliver(ctx, adapter, msg.Target(), items); err != nil {
		logging.FromContext(ctx, p.logger).Warn("reply to %s failed: %v", msg.Key(), err)
	}
}

func (p *Pipeline) recordTurn(platform chat.Platform, outcome Outcome) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.RecordTurn(string(platform), string(outcome))
}
