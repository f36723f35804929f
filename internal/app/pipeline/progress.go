package pipeline

import (
	"context"
	"sync"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"
)

const progressUpdateTimeout = 5 * time.Second

// progress drives the optional progress message of one turn. Every failure
// is logged and ignored. Updates may arrive from the engine's listener
// goroutine, also after finish.
type progress struct {
	mu       sync.Mutex
	ctx      context.Context
	logger   logging.Logger
	reporter chat.ProgressReporter
	target   chat.Target
	handle   string
	last     string
}

func startProgress(ctx context.Context, logger logging.Logger, adapter chat.Adapter, target chat.Target) *progress {
	p := &progress{ctx: ctx, logger: logger, target: target}
	reporter, ok := adapter.(chat.ProgressReporter)
	if !ok {
		return p
	}
	handle, err := reporter.SendProgress(ctx, target, progressThinking)
	if err != nil {
		logger.Debug("progress start in %s failed: %v", target.ChatID, err)
		return p
	}
	p.reporter = reporter
	p.handle = handle
	p.last = progressThinking
	return p
}

func (p *progress) update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reporter == nil || text == p.last {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, progressUpdateTimeout)
	defer cancel()
	if err := p.reporter.UpdateProgress(ctx, p.target, p.handle, text); err != nil {
		p.logger.Debug("progress update in %s failed: %v", p.target.ChatID, err)
		return
	}
	p.last = text
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reporter == nil {
		return
	}
	if err := p.reporter.FinishProgress(context.WithoutCancel(p.ctx), p.target, p.handle); err != nil {
		p.logger.Debug("progress finish in %s failed: %v", p.target.ChatID, err)
	}
	p.reporter = nil
}
