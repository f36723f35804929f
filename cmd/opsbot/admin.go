package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opsbot/internal/app/binding"
	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/storage/postgres"
	"opsbot/internal/shared/config"
	"opsbot/internal/shared/logging"
)

const commandTimeout = time.Minute

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and sync configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), config.StorageDriverPostgres) {
				return fmt.Errorf("migrate requires the postgres storage driver, got %q", cfg.Storage.Driver)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			logger := logging.NewComponentLogger("Migrate")
			pool, err := postgres.Connect(ctx, cfg.Storage.DatabaseURL, cfg.Storage.MaxConns, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			if err := postgres.NewAccountDirectory(pool).SyncAccounts(ctx, configuredAccounts(cfg)); err != nil {
				return fmt.Errorf("sync accounts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready, %d account(s) synced\n", green("✓"), len(cfg.Accounts))
			return nil
		},
	}
}

func newIssueCodeCommand(opts *rootOptions) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "issue-code <account-id>",
		Short: "Issue a one-time binding code for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), config.StorageDriverMemory) {
				return errors.New("issue-code needs a persistent storage driver (file or postgres)")
			}
			target, err := parsePlatform(platform)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			st, err := openStores(ctx, cfg, logging.NewComponentLogger("Storage"))
			if err != nil {
				return err
			}
			defer st.Close()

			code, err := binding.NewService(st.bindings, st.groups, logging.NewComponentLogger("Binder")).IssueCode(ctx, args[0], target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("code:"), green(code.Code))
			fmt.Fprintf(out, "%s\n", gray(fmt.Sprintf("account %s on %s, expires %s", code.AccountID, code.Platform, code.ExpiresAt.Format(time.RFC3339))))
			fmt.Fprintf(out, "%s\n", gray("send \"/bind "+code.Code+"\" to the bot to link the chat identity"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", string(chat.PlatformLark), "chat platform the code binds (lark or wechat)")
	return cmd
}

func parsePlatform(raw string) (chat.Platform, error) {
	switch chat.Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case chat.PlatformLark:
		return chat.PlatformLark, nil
	case chat.PlatformWeChat:
		return chat.PlatformWeChat, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", raw)
	}
}
