package main

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"opsbot/internal/app/audit"
	"opsbot/internal/app/binding"
	"opsbot/internal/app/capability"
	"opsbot/internal/app/dispatch"
	"opsbot/internal/app/history"
	"opsbot/internal/app/imagegen"
	"opsbot/internal/app/pipeline"
	"opsbot/internal/app/reasoning"
	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/external/claudecode"
	openaiimages "opsbot/internal/infra/imagegen/openai"
	"opsbot/internal/infra/imagegen/seedream"
	"opsbot/internal/infra/observability"
	"opsbot/internal/shared/config"
	"opsbot/internal/shared/logging"
)

// app is the wired service graph behind the serve command.
type app struct {
	cfg      config.Config
	stores   *stores
	metrics  *observability.Metrics
	tracer   *observability.TracerProvider
	binder   *binding.Service
	pipeline *pipeline.Pipeline
	sandbox  dispatch.Sandbox
	logger   logging.Logger
}

func buildApp(ctx context.Context, cfg config.Config, logger logging.Logger) (*app, error) {
	tracer, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		ServiceName: "opsbot",
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	st, err := openStores(ctx, cfg, logging.NewComponentLogger("Storage"))
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}
	if err := syncAccounts(ctx, st, cfg); err != nil {
		logger.Warn("sync configured accounts: %v", err)
	}

	metrics, err := observability.DefaultMetrics()
	if err != nil {
		st.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	var invoker reasoning.Invoker = claudecode.New(claudecode.Config{
		BinaryPath:   cfg.Reasoning.Binary,
		DefaultModel: cfg.Reasoning.Model,
		WorkingDir:   cfg.Reasoning.WorkingDir,
		Timeout:      cfg.Reasoning.Timeout,
	}, logging.NewComponentLogger("ClaudeCodeExecutor"))
	summarizer := reasoning.NewSummarizer(invoker, cfg.Reasoning.SummaryPrompt, cfg.Reasoning.Model, cfg.Reasoning.Timeout)
	invoker = reasoning.WithAccountRateLimit(invoker, rate.Limit(cfg.Reasoning.RateLimitRPS), cfg.Reasoning.RateLimitBurst, 0)

	backend, err := buildImageBackend(cfg.ImageFallback)
	if err != nil {
		st.Close()
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	sandbox := dispatch.Sandbox{Roots: cfg.Dispatch.SandboxRoots}
	binder := binding.NewService(st.bindings, st.groups, logging.NewComponentLogger("Binder"))

	p, err := pipeline.New(pipeline.Config{
		TriggerNames: map[chat.Platform][]string{
			chat.PlatformLark:   cfg.Channels.Lark.TriggerNames,
			chat.PlatformWeChat: cfg.Channels.WeChat.TriggerNames,
		},
		HistoryLimit: cfg.Reasoning.HistoryLimit,
		SystemPrompt: cfg.Reasoning.SystemPrompt,
		Model:        cfg.Reasoning.Model,
		Timeout:      cfg.Reasoning.Timeout,
		ImageTools:   cfg.ImageFallback.ImageTools,
	}, pipeline.Deps{
		Conversations: st.conversations,
		Accounts:      st.accounts,
		Binder:        binder,
		History:       history.NewService(st.conversations, summarizer, logging.NewComponentLogger("History")),
		Capabilities:  capability.NewResolver(capability.PolicyFromConfig(cfg.Capabilities)),
		Invoker:       invoker,
		Images:        imagegen.NewChain(backend, cfg.ImageFallback.Timeout, logging.NewComponentLogger("ImageFallback")),
		Dispatcher:    dispatch.NewDispatcher(cfg.Dispatch.MaxItems, sandbox, logging.NewComponentLogger("Dispatcher")),
		Audit: audit.NewRecorder(st.audit, logging.NewComponentLogger("Audit"),
			audit.WithMetrics(metrics),
			audit.WithAuditLog(logging.NewAuditLogger("Invocation")),
		),
		Metrics: metrics,
		Logger:  logging.NewComponentLogger("Pipeline"),
	})
	if err != nil {
		st.Close()
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		stores:   st,
		metrics:  metrics,
		tracer:   tracer,
		binder:   binder,
		pipeline: p,
		sandbox:  sandbox,
		logger:   logger,
	}, nil
}

// buildImageBackend returns nil when no fallback backend is configured.
func buildImageBackend(cfg config.ImageFallbackConfig) (imagegen.Backend, error) {
	logger := logging.NewComponentLogger("ImageBackend")
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.ImageBackendSeedream:
		return seedream.New(seedream.Config{
			APIKey:  cfg.Seedream.APIKey,
			Model:   cfg.Seedream.Model,
			BaseURL: cfg.Seedream.BaseURL,
			Size:    cfg.Seedream.Size,
		}, logger)
	case config.ImageBackendOpenAI:
		return openaiimages.New(openaiimages.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Size:    cfg.OpenAI.Size,
		}, logger)
	default:
		return nil, nil
	}
}

// Close drains in-flight turns before releasing storage and tracing.
func (a *app) Close(ctx context.Context) {
	if err := a.pipeline.Shutdown(ctx); err != nil {
		a.logger.Warn("pipeline shutdown: %v", err)
	}
	a.stores.Close()
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics shutdown: %v", err)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown: %v", err)
	}
}
