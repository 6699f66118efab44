package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/harunnryd/hibiki/internal/adapter"
	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/index"
	"github.com/harunnryd/hibiki/internal/ingress"
	"github.com/harunnryd/hibiki/internal/tool/kb"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Hibiki HTTP server",
	Long:  `Starts the streaming chat API, optional chat adapters, and the scheduled index refresh when local semantic search is enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		comps, err := buildComponents(cfg)
		if err != nil {
			return err
		}

		timeouts, err := serverTimeouts(&cfg.Server)
		if err != nil {
			return err
		}
		server := ingress.NewHTTPServer(cfg.Server.Port, comps.gateway, comps.orchestrator, cfg.Models.Default, timeouts)

		handler := NewSignalHandler(cmd.Context())
		handler.Start()
		defer handler.Stop()
		ctx := handler.Context()

		var scheduler *index.Scheduler
		if cfg.Semantic.Mode == kb.SemanticModeLocal && comps.index != nil {
			scheduler, err = index.NewScheduler(comps.index, cfg.Semantic.RefreshCron)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		if cfg.Adapters.Telegram.Enabled {
			bridge := adapter.NewBridge(comps.gateway, comps.orchestrator)
			telegram := adapter.NewTelegramAdapter(cfg.Adapters.Telegram.BotToken, bridge, cfg.Adapters.Telegram.UpdateTimeout)
			if err := telegram.Start(ctx); err != nil {
				return fmt.Errorf("start telegram adapter: %w", err)
			}
		}

		var slackAdapter *adapter.SlackAdapter
		if cfg.Adapters.Slack.Enabled {
			slackAdapter = adapter.NewSlackAdapter(cfg.Adapters.Slack.BotToken, cfg.Adapters.Slack.Channel)
			if err := slackAdapter.Send(ctx, "", "Hibiki is up and answering."); err != nil {
				slog.Warn("Slack startup notification failed", "error", err)
			}
		}

		server.Start()
		slog.Info("Hibiki serving", "port", cfg.Server.Port, "model", cfg.Models.Default, "semantic_mode", cfg.Semantic.Mode)

		<-ctx.Done()

		shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			shutdownTimeout = 0
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Stop(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
		if slackAdapter != nil {
			if err := slackAdapter.Send(context.Background(), "", "Hibiki is shutting down."); err != nil {
				slog.Warn("Slack shutdown notification failed", "error", err)
			}
		}

		slog.Info("Hibiki stopped gracefully")
		return nil
	},
}

func serverTimeouts(cfg *config.ServerConfig) (ingress.Timeouts, error) {
	read, err := config.DurationOrDefault(cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return ingress.Timeouts{}, fmt.Errorf("parse read timeout: %w", err)
	}
	write, err := config.DurationOrDefault(cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return ingress.Timeouts{}, fmt.Errorf("parse write timeout: %w", err)
	}
	idle, err := config.DurationOrDefault(cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return ingress.Timeouts{}, fmt.Errorf("parse idle timeout: %w", err)
	}
	return ingress.Timeouts{Read: read, Write: write, Idle: idle}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("semantic.mode", config.DefaultSemanticMode, "semantic search mode (local, backend, off)")
	serveCmd.Flags().String("semantic.refresh_cron", config.DefaultSemanticRefreshCron, "cron spec for local index refresh")
}
