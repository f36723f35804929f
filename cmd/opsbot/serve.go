package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"opsbot/internal/delivery/channels"
	"opsbot/internal/delivery/channels/lark"
	"opsbot/internal/delivery/channels/wechat"
	adminhttp "opsbot/internal/delivery/server/http"
	"opsbot/internal/shared/config"
	"opsbot/internal/shared/logging"
)

const drainTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateways and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("starting opsbot (storage=%s, image_fallback=%s)", cfg.Storage.Driver, valueOr(cfg.ImageFallback.Backend, "none"))

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		a.Close(drainCtx)
		logger.Info("opsbot stopped")
	}()

	loader := channels.NewArtifactLoader(a.sandbox, logging.NewComponentLogger("ArtifactLoader"))
	var starters []func(context.Context) error

	if cfg.Channels.Lark.Enabled {
		gw, err := lark.NewGateway(lark.Config{
			Enabled:    true,
			AppID:      cfg.Channels.Lark.AppID,
			AppSecret:  cfg.Channels.Lark.AppSecret,
			BaseDomain: cfg.Channels.Lark.BaseDomain,
		}, a.pipeline, loader, logging.NewComponentLogger("LarkGateway"))
		if err != nil {
			return err
		}
		starters = append(starters, gw.Start)
	}
	if cfg.Channels.WeChat.Enabled {
		gw, err := wechat.NewGateway(wechat.Config{
			Enabled:         true,
			LoginMode:       cfg.Channels.WeChat.LoginMode,
			HotLoginStorage: cfg.Channels.WeChat.HotLoginStorage,
		}, a.pipeline, loader, logging.NewComponentLogger("WeChatGateway"))
		if err != nil {
			return err
		}
		starters = append(starters, gw.Start)
	}
	if cfg.Server.Enabled {
		srv, err := adminhttp.NewServer(adminhttp.Config{
			Addr:            cfg.Server.Addr,
			AdminToken:      cfg.Server.AdminToken,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, adminhttp.Deps{
			Binder:  a.binder,
			Groups:  a.stores.groups,
			Metrics: a.metrics.Handler(),
			Logger:  logging.NewComponentLogger("AdminAPI"),
		})
		if err != nil {
			return err
		}
		starters = append(starters, srv.Run)
	}
	if len(starters) == 0 {
		return errors.New("nothing to serve: enable a channel or the admin server")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, start := range starters {
		group.Go(func() error { return start(groupCtx) })
	}
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("opsbot exited: %v", err)
		return err
	}
	return nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
