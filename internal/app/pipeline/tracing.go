package pipeline

import (
	"context"

	"opsbot/internal/app/reasoning"
	"opsbot/internal/domain/chat"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "opsbot.pipeline"

	spanHandle = "opsbot.pipeline.handle"
	spanInvoke = "opsbot.reasoning.invoke"

	attrPlatform     = "opsbot.platform"
	attrConversation = "opsbot.conversation"
	attrGroup        = "opsbot.group"
	attrOutcome      = "opsbot.outcome"
	attrModel        = "opsbot.llm.model"
	attrToolCount    = "opsbot.tool_count"
	attrInputTokens  = "opsbot.llm.input_tokens"
	attrOutputTokens = "opsbot.llm.output_tokens"
)

func startSpan(ctx context.Context, name string, msg chat.Inbound) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, name, trace.WithAttributes(
		attribute.String(attrPlatform, string(msg.Platform)),
		attribute.String(attrConversation, msg.Key().String()),
		attribute.Bool(attrGroup, msg.IsGroup),
	))
}

func markSpanResult(span trace.Span, outcome Outcome, err error) {
	span.SetAttributes(attribute.String(attrOutcome, string(outcome)))
	if err != nil && outcome == OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func startInvokeSpan(ctx context.Context, model string, tools int) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, spanInvoke, trace.WithAttributes(
		attribute.String(attrModel, model),
		attribute.Int(attrToolCount, tools),
	))
}

func markInvokeSpan(span trace.Span, result reasoning.Result, err error) {
	span.SetAttributes(
		attribute.Int(attrInputTokens, result.InputTokens),
		attribute.Int(attrOutputTokens, result.OutputTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
