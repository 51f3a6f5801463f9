// Package tools implements the tool operations exposed over MCP and the CLI.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/hierarchy"
	"github.com/pkiaudit/vaultmcp/internal/logfilter"
	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

const (
	ListCertificatesTool     = "list_certificates"
	ListPKIEnginesTool       = "list_pki_secrets_engines"
	FilterPKIAuditEventsTool = "filter_pki_audit_events"
	CertificateHierarchyTool = "get_certificate_hierarchy"
)

const (
	DefaultAuditDevice    = "hcp-main-audit"
	DefaultMaxAuditEvents = 10
)

var ErrUnknownTool = errors.New("unknown tool")

type Config struct {
	LogGroup       string
	LogStreams     []string
	AuditDevice    string
	MaxAuditEvents int
}

// Service binds the tool operations to their backends. logs may be nil when
// no log backend is configured.
type Service struct {
	vault   connectors.VaultConnector
	logs    connectors.LogsConnector
	builder *hierarchy.Builder
	filter  *logfilter.Orchestrator
	config  Config
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithBuilder(b *hierarchy.Builder) Option {
	return func(s *Service) {
		s.builder = b
	}
}

func WithOrchestrator(o *logfilter.Orchestrator) Option {
	return func(s *Service) {
		s.filter = o
	}
}

func New(vault connectors.VaultConnector, logs connectors.LogsConnector, config Config, opts ...Option) *Service {
	if config.AuditDevice == "" {
		config.AuditDevice = DefaultAuditDevice
	}
	if config.MaxAuditEvents <= 0 {
		config.MaxAuditEvents = DefaultMaxAuditEvents
	}
	s := &Service{
		vault:  vault,
		logs:   logs,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builder == nil {
		s.builder = hierarchy.NewBuilder(vault, hierarchy.WithLogger(s.logger))
	}
	if s.filter == nil && logs != nil {
		s.filter = logfilter.New(logs, logfilter.DefaultConfig(), logfilter.WithLogger(s.logger))
	}
	return s
}

// Tool describes one callable operation.
type Tool struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	call         func(ctx context.Context, s *Service, args json.RawMessage) (any, error)
	errorPayload func(*models.ToolError) any
}

// Result is the outcome of a tool call. Payload is the JSON-ready body for
// both success and failure.
type Result struct {
	Payload any
	IsError bool
}

func (s *Service) Tools() []Tool {
	return catalog
}

func (s *Service) Lookup(name string) (Tool, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Call runs the named tool. Tool failures are reported in the Result; an
// error is returned only for an unknown tool.
func (s *Service) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	tool, ok := s.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	started := time.Now()
	payload, err := tool.call(ctx, s, args)
	metrics.ObserveToolCall(name, started, err != nil)
	if err != nil {
		terr := asToolError(err)
		s.logger.Warn("tool call failed", "tool", name, "code", terr.Code, "error", terr.Message)
		return &Result{Payload: tool.errorPayload(terr), IsError: true}, nil
	}
	s.logger.Info("tool call completed", "tool", name, "duration", time.Since(started))
	return &Result{Payload: payload}, nil
}

// decodeArgs treats an empty or null argument object as all defaults.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return models.NewToolError(models.CodeInvalidParameters, "Invalid tool arguments: "+err.Error(), nil)
	}
	return nil
}

// nestedError is the {"error": {...}} shape used by the Vault listing tools.
func nestedError(e *models.ToolError) any {
	return map[string]any{"error": e}
}

// flatError is the {"success": false, ...} shape used by the audit tool.
func flatError(e *models.ToolError) any {
	return map[string]any{
		"success":    false,
		"message":    e.Message,
		"error_code": e.Code,
		"details":    e.Details,
	}
}

func asToolError(err error) *models.ToolError {
	var terr *models.ToolError
	if errors.As(err, &terr) {
		return terr
	}
	return models.NewToolError(models.CodeInternal, err.Error(), map[string]any{
		"error_type": fmt.Sprintf("%T", err),
	})
}

// vaultError maps a Vault backend failure onto a tool error code.
func vaultError(err error, details map[string]any) *models.ToolError {
	var terr *models.ToolError
	if errors.As(err, &terr) {
		return terr
	}
	switch connectors.KindOf(err) {
	case connectors.KindConnection:
		return models.NewToolError(models.CodeVaultConnection, "Failed to connect to Vault: "+err.Error(), details)
	case connectors.KindAuthentication:
		return models.NewToolError(models.CodeAuthentication, "Vault authentication failed: "+err.Error(), details)
	case connectors.KindPermission:
		return models.NewToolError(models.CodePermission, err.Error(), details)
	}
	return models.NewToolError(models.CodeInternal, err.Error(), details)
}
