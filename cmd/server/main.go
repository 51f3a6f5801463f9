package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkiaudit/vaultmcp/internal/api"
	"github.com/pkiaudit/vaultmcp/internal/app"
	"github.com/pkiaudit/vaultmcp/internal/auth"
	"github.com/pkiaudit/vaultmcp/internal/config"
	"github.com/pkiaudit/vaultmcp/internal/notifications"
	"github.com/pkiaudit/vaultmcp/internal/scheduler"
)

var version = "dev"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer a.Close()

	if err := a.Vault.Validate(ctx); err != nil {
		logger.Warn("vault connection check failed", "address", cfg.Vault.Address, "error", err)
	}

	opts := []api.ServerOption{api.WithLogger(logger), api.WithVersion(version)}
	if cfg.Auth.Enabled {
		opts = append(opts, api.WithAuth(auth.NewService(auth.Config{
			JWTSecret:   cfg.Auth.JWTSecret,
			TokenExpiry: cfg.Auth.TokenExpiry,
			Clients:     cfg.Auth.Clients,
		})))
	}

	if cfg.Watch.Enabled {
		sched := scheduler.NewScheduler(logger)
		watchOpts := []scheduler.WatchOption{scheduler.WithWatchLogger(logger)}
		if cfg.Watch.Slack.WebhookURL != "" {
			watchOpts = append(watchOpts, scheduler.WithNotifier(notifications.NewService(notifications.SlackConfig{
				WebhookURL:  cfg.Watch.Slack.WebhookURL,
				Channel:     cfg.Watch.Slack.Channel,
				MinSeverity: notifications.Severity(cfg.Watch.Slack.MinSeverity),
			}, logger)))
		}
		watch := scheduler.NewExpiryWatch(a.Builder, cfg.Watch.Mounts, cfg.Watch.ExpiringWithin, watchOpts...)
		if err := sched.AddJob(watch.Job(cfg.Watch.Schedule, cfg.Server.RequestTimeout)); err != nil {
			log.Fatalf("Failed to schedule expiry watch: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	server := api.NewServer(cfg, a.Tools, a.Vault, opts...)
	logger.Info("starting vault PKI MCP server", "addr", cfg.Server.Addr(), "version", version)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
