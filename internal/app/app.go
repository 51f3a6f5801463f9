// Package app wires the configured backends into the tool service.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pkiaudit/vaultmcp/internal/config"
	"github.com/pkiaudit/vaultmcp/internal/connectors"
	awsconn "github.com/pkiaudit/vaultmcp/internal/connectors/aws"
	"github.com/pkiaudit/vaultmcp/internal/connectors/vault"
	"github.com/pkiaudit/vaultmcp/internal/hierarchy"
	"github.com/pkiaudit/vaultmcp/internal/logfilter"
	"github.com/pkiaudit/vaultmcp/internal/tools"
)

type App struct {
	Vault   connectors.VaultConnector
	Logs    connectors.LogsConnector // nil without a log group
	Builder *hierarchy.Builder
	Tools   *tools.Service
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	vc, err := vault.New(vault.Config{
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		Namespace:  cfg.Vault.Namespace,
		SkipVerify: cfg.Vault.SkipVerify,
		Timeout:    cfg.Vault.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vault connector: %w", err)
	}

	a := &App{Vault: vc}
	a.Builder = hierarchy.NewBuilder(vc,
		hierarchy.WithLogger(logger),
		hierarchy.WithConcurrency(cfg.PKI.CertificateConcurrency, cfg.PKI.IssuerConcurrency))

	opts := []tools.Option{tools.WithLogger(logger), tools.WithBuilder(a.Builder)}
	if cfg.AWS.LogGroup != "" {
		ac, err := awsconn.New(ctx, awsconn.Config{
			Region:          cfg.AWS.Region,
			Profile:         cfg.AWS.Profile,
			AssumeRoleARN:   cfg.AWS.AssumeRoleARN,
			ExternalID:      cfg.AWS.ExternalID,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			SessionToken:    cfg.AWS.SessionToken,
			ConnectTimeout:  cfg.AWS.ConnectTimeout,
			ReadTimeout:     cfg.AWS.ReadTimeout,
			FilterTimeout:   cfg.AWS.FilterTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing aws connector: %w", err)
		}
		a.Logs = ac
		opts = append(opts, tools.WithOrchestrator(logfilter.New(ac, logfilter.Config{
			MaxIterations:  cfg.Filter.MaxIterations,
			StreamLimit:    cfg.Filter.StreamLimit,
			StreamRecency:  cfg.Filter.StreamRecency,
			CallTimeout:    cfg.Filter.CallTimeout,
			LocalFiltering: cfg.Filter.LocalFiltering,
		}, logfilter.WithLogger(logger))))
	} else {
		logger.Warn("no CloudWatch log group configured, audit event search is disabled")
	}

	a.Tools = tools.New(a.Vault, a.Logs, tools.Config{
		LogGroup:       cfg.AWS.LogGroup,
		LogStreams:     cfg.AWS.LogStreams,
		AuditDevice:    cfg.Vault.AuditDevice,
		MaxAuditEvents: cfg.Filter.MaxAuditEvents,
	}, opts...)
	return a, nil
}

func (a *App) Close() error {
	if a.Logs != nil {
		_ = a.Logs.Close()
	}
	return a.Vault.Close()
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
