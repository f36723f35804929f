package dispatch

import (
	"context"
	"fmt"

	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
)

// Dispatcher delivers planned items through a platform adapter.
type Dispatcher struct {
	maxItems int
	sandbox  Sandbox
	logger   logging.Logger
}

func NewDispatcher(maxItems int, sandbox Sandbox, logger logging.Logger) *Dispatcher {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Dispatcher{maxItems: maxItems, sandbox: sandbox, logger: logging.OrNop(logger)}
}

// Prepare parses raw and lays out the outbound items. extra artifacts, such
// as fallback images, are delivered after the parsed ones.
func (d *Dispatcher) Prepare(raw string, extra ...chat.Artifact) (Parsed, []chat.OutboundItem) {
	parsed := ParseResponse(raw, d.sandbox)
	if parsed.Dropped > 0 {
		d.logger.Warn("dropped %d malformed artifact marker(s)", parsed.Dropped)
	}
	parsed.Artifacts = append(parsed.Artifacts, extra...)
	return parsed, Plan(parsed.Text, parsed.Artifacts, d.maxItems)
}

// Deliver sends items as one batch on the reply path. A failed batch is
// retried once by push; if that fails too every item is pushed on its own
// and failures are counted instead of aborting the rest.
func (d *Dispatcher) Deliver(ctx context.Context, adapter chat.Adapter, target chat.Target, items []chat.OutboundItem) error {
	if len(items) == 0 {
		return nil
	}
	if adapter == nil {
		return &boterrors.DeliveryFailedError{Failed: len(items), Err: fmt.Errorf("no adapter for %s", target.Platform)}
	}

	err := adapter.SendBatch(ctx, target, items)
	if err == nil {
		return nil
	}
	d.logger.Warn("batch delivery to %s failed, retrying via push: %v", target.ChatID, err)

	push := target.Push()
	if err = adapter.SendBatch(ctx, push, items); err == nil {
		return nil
	}
	d.logger.Warn("push batch to %s failed, sending items individually: %v", target.ChatID, err)

	sent, failed := 0, 0
	var firstErr error
	for _, item := range items {
		if ctx.Err() != nil {
			failed++
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			continue
		}
		if err := SendItem(ctx, adapter, push, item); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			d.logger.Warn("delivery of %s item to %s failed: %v", item.Kind, target.ChatID, err)
			continue
		}
		sent++
	}
	if failed > 0 {
		return &boterrors.DeliveryFailedError{Sent: sent, Failed: failed, Err: firstErr}
	}
	return nil
}

// SendItem sends one item with the adapter method matching its kind.
func SendItem(ctx context.Context, adapter chat.Adapter, target chat.Target, item chat.OutboundItem) error {
	switch item.Kind {
	case chat.OutboundText:
		return adapter.SendText(ctx, target, item.Text)
	case chat.OutboundImage:
		return adapter.SendImage(ctx, target, item.Artifact)
	case chat.OutboundFile:
		return adapter.SendFile(ctx, target, item.Artifact)
	default:
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
}
