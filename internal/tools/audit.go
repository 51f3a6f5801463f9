package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/certs"
	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/expr"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

// AuditQuery selects issue and revoke audit records for one certificate.
type AuditQuery struct {
	Subject   string `json:"vault_certificate_subject"`
	PKIPath   string `json:"vault_pki_path"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// AuditEvent holds the audit record fields callers care about. Fields
// absent from the record are omitted.
type AuditEvent struct {
	Timestamp             string `json:"timestamp"`
	AuthDisplayName       any    `json:"auth_display_name,omitempty"`
	AuthEntityID          any    `json:"auth_entity_id,omitempty"`
	RequestRemoteAddress  any    `json:"request_remote_address,omitempty"`
	RequestPath           any    `json:"request_path,omitempty"`
	ResponseMountAccessor any    `json:"response_mount_accessor,omitempty"`
	Time                  any    `json:"time,omitempty"`
}

type AuditStatistics struct {
	EventsScanned int `json:"events_scanned"`
	EventsMatched int `json:"events_matched"`
	APICallsMade  int `json:"api_calls_made"`
}

type AuditEvents struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Events     []AuditEvent    `json:"events"`
		Statistics AuditStatistics `json:"statistics"`
	} `json:"data"`
}

// FilterPKIAuditEvents resolves the certificate by subject, hashes its serial
// through the audit device and searches the audit log for matching records.
func (s *Service) FilterPKIAuditEvents(ctx context.Context, q AuditQuery) (*AuditEvents, error) {
	if s.config.LogGroup == "" || s.filter == nil {
		return nil, models.NewToolError(models.CodeMissingConfiguration,
			"AWS_LOG_GROUP_NAME environment variable is required",
			map[string]any{
				"required_env_var": "AWS_LOG_GROUP_NAME",
				"description":      "CloudWatch log group name must be configured",
			})
	}
	if strings.TrimSpace(q.Subject) == "" {
		return nil, models.NewToolError(models.CodeInvalidParameters, "vault_certificate_subject is required",
			map[string]any{"field": "vault_certificate_subject"})
	}
	mount := strings.Trim(q.PKIPath, "/")
	if mount == "" {
		return nil, models.NewToolError(models.CodeInvalidParameters, "vault_pki_path is required",
			map[string]any{"field": "vault_pki_path"})
	}

	start, err := parseTime("start_time", q.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("end_time", q.EndTime)
	if err != nil {
		return nil, err
	}

	serial, err := s.findSerialBySubject(ctx, mount, q.Subject)
	if err != nil {
		return nil, err
	}
	hash, err := s.vault.AuditHash(ctx, s.config.AuditDevice, serial)
	if err != nil {
		return nil, vaultError(err, map[string]any{"audit_device": s.config.AuditDevice})
	}
	s.logger.Info("resolved audit hash", "mount", mount, "serial", serial)

	criteria := &models.FilterCriteria{
		LogGroup:   s.config.LogGroup,
		LogStreams: s.config.LogStreams,
		StartTime:  start,
		EndTime:    end,
		CompoundExpression: expr.And(
			expr.VaultPKIAuditExpression(mount, hash),
			`$.auth.entity_id != ""`,
			fmt.Sprintf(`$.response.data.expiration != "%s"`, expr.KeyExistsPlaceholder),
		),
		MaxEvents: s.config.MaxAuditEvents,
	}
	results, err := s.filter.Filter(ctx, criteria)
	if err != nil {
		return nil, logsError(err, criteria.LogGroup)
	}

	out := &AuditEvents{
		Success: true,
		Message: fmt.Sprintf("Found %d events matching filter criteria", len(results.Events)),
	}
	out.Data.Events = make([]AuditEvent, 0, len(results.Events))
	for _, ev := range results.Events {
		out.Data.Events = append(out.Data.Events, formatAuditEvent(ev))
	}
	out.Data.Statistics = AuditStatistics{
		EventsScanned: results.EventsScanned,
		EventsMatched: results.EventsMatched,
		APICallsMade:  results.APICallsMade,
	}
	return out, nil
}

// findSerialBySubject scans the mount for the first certificate whose
// subject CN equals subject. Unreadable certificates are skipped.
func (s *Service) findSerialBySubject(ctx context.Context, mount, subject string) (string, error) {
	serials, err := s.vault.ListCertificateSerials(ctx, mount)
	if err != nil {
		return "", vaultError(err, map[string]any{"vault_pki_path": mount})
	}
	if len(serials) == 0 {
		return "", models.NewToolError(models.CodePKIPathNotFound,
			fmt.Sprintf("No certificates found in PKI path '%s'", mount),
			map[string]any{
				"vault_pki_path": mount,
				"suggestion":     "Verify the PKI path exists and contains certificates",
			})
	}

	for _, serial := range serials {
		rec, err := s.vault.ReadCertificate(ctx, mount, serial)
		if err != nil {
			if ctx.Err() != nil {
				return "", vaultError(err, nil)
			}
			s.logger.Warn("skipping unreadable certificate", "mount", mount, "serial", serial, "error", err)
			continue
		}
		x, err := certs.Decode(rec.PEM)
		if err != nil {
			s.logger.Warn("skipping unparsable certificate", "mount", mount, "serial", serial, "error", err)
			continue
		}
		if certs.CommonName(x.Subject.Names) == subject {
			return serial, nil
		}
	}
	return "", models.NewToolError(models.CodeCertificateNotFound,
		fmt.Sprintf("No certificate found with subject '%s' in PKI path '%s'", subject, mount),
		map[string]any{"vault_certificate_subject": subject, "vault_pki_path": mount})
}

func formatAuditEvent(ev models.LogEvent) AuditEvent {
	doc := ev.Metadata
	if len(doc) == 0 {
		doc = models.ParseJSONObject(ev.Message)
	}
	return AuditEvent{
		Timestamp:             ev.Timestamp.UTC().Format(time.RFC3339Nano),
		AuthDisplayName:       expr.ExtractPath("$.auth.display_name", doc),
		AuthEntityID:          expr.ExtractPath("$.auth.entity_id", doc),
		RequestRemoteAddress:  expr.ExtractPath("$.request.remote_address", doc),
		RequestPath:           expr.ExtractPath("$.request.path", doc),
		ResponseMountAccessor: expr.ExtractPath("$.response.mount_accessor", doc),
		Time:                  expr.ExtractPath("$.time", doc),
	}
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTime accepts RFC 3339, ISO 8601 without a zone (taken as UTC) and
// Unix epoch seconds. An empty value means no bound.
func parseTime(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return &t, nil
		}
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		t := time.UnixMilli(int64(secs * 1000)).UTC()
		return &t, nil
	}
	return nil, models.NewToolError(models.CodeInvalidParameters, "Invalid "+field+" format",
		map[string]any{
			"field":           field,
			"expected_format": "ISO 8601 (2023-10-22T10:00:00Z) or Unix timestamp",
		})
}

// logsError maps a fatal log search failure onto a tool error code.
func logsError(err error, group string) *models.ToolError {
	details := map[string]any{"log_group": group}
	switch {
	case errors.Is(err, models.ErrInvertedTimeRange), errors.Is(err, models.ErrMaxEventsRange):
		return models.NewToolError(models.CodeInvalidParameters, "Invalid filter criteria: "+err.Error(), details)
	case connectors.IsNotFound(err):
		return models.NewToolError(models.CodeMissingConfiguration, "Log group not found: "+group, details)
	case connectors.KindOf(err) == connectors.KindAuthentication:
		return models.NewToolError(models.CodeAuthentication, "AWS authentication failed: "+err.Error(), details)
	}
	return models.NewToolError(models.CodeInternal, "Filter operation failed: "+err.Error(), details)
}

func callFilterPKIAuditEvents(ctx context.Context, s *Service, args json.RawMessage) (any, error) {
	var q AuditQuery
	if err := decodeArgs(args, &q); err != nil {
		return nil, err
	}
	out, err := s.FilterPKIAuditEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	return out, nil
}
