package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/certs/certtest"
	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

type fakeVault struct {
	validateErr error
	engines     []models.PKIEngine
	enginesErr  error
	serials     []string
	records     map[string]*connectors.CertificateRecord
	issuers     map[string]*connectors.IssuerRecord
	hashInput   string
}

func (f *fakeVault) Name() string                       { return "fake" }
func (f *fakeVault) Validate(ctx context.Context) error { return f.validateErr }
func (f *fakeVault) Close() error                       { return nil }

func (f *fakeVault) ListPKIEngines(ctx context.Context) ([]models.PKIEngine, error) {
	return f.engines, f.enginesErr
}

func (f *fakeVault) ListCertificateSerials(ctx context.Context, mount string) ([]string, error) {
	return f.serials, nil
}

func (f *fakeVault) ReadCertificate(ctx context.Context, mount, serial string) (*connectors.CertificateRecord, error) {
	rec, ok := f.records[serial]
	if !ok {
		return nil, connectors.NewError(connectors.KindPermission, mount+"/cert/"+serial, errors.New("denied"))
	}
	return rec, nil
}

func (f *fakeVault) ListIssuers(ctx context.Context, mount string) ([]string, error) {
	ids := make([]string, 0, len(f.issuers))
	for id := range f.issuers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeVault) ReadIssuer(ctx context.Context, mount, id string) (*connectors.IssuerRecord, error) {
	return f.issuers[id], nil
}

func (f *fakeVault) DefaultIssuerID(ctx context.Context, mount string) (string, error) {
	return "", nil
}

func (f *fakeVault) AuditHash(ctx context.Context, device, input string) (string, error) {
	f.hashInput = input
	return "hmac-sha256:abc", nil
}

type fakeLogs struct {
	in     connectors.FilterEventsInput
	events []models.RawLogEvent
	err    error
}

func (f *fakeLogs) Name() string                       { return "fake" }
func (f *fakeLogs) Validate(ctx context.Context) error { return nil }
func (f *fakeLogs) Close() error                       { return nil }

func (f *fakeLogs) DescribeLogStreams(ctx context.Context, group string, limit int) ([]connectors.LogStream, error) {
	return []connectors.LogStream{{Name: "vault"}}, nil
}

func (f *fakeLogs) FilterLogEvents(ctx context.Context, in connectors.FilterEventsInput) (*connectors.FilterEventsOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &connectors.FilterEventsOutput{Events: f.events}, nil
}

func newVault(t *testing.T) *fakeVault {
	t.Helper()
	now := time.Now()
	root := certtest.NewRoot(t, "Tools Root")
	return &fakeVault{
		engines: []models.PKIEngine{{Path: "pki", Type: "pki", Config: map[string]any{}}},
		serials: []string{"40:01", "40:02"},
		records: map[string]*connectors.CertificateRecord{
			"40:01": {PEM: root.Issue(t, "api.example.com", 0x4001, now.Add(-time.Hour), now.AddDate(1, 0, 0)), IssuerID: "r"},
			"40:02": {PEM: root.Issue(t, "web.example.com", 0x4002, now.Add(-time.Hour), now.AddDate(1, 0, 0)), IssuerID: "r"},
		},
		issuers: map[string]*connectors.IssuerRecord{
			"r": {ID: "r", PEM: root.PEM, CAChain: certtest.Chain(root)},
		},
	}
}

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestCall_UnknownTool(t *testing.T) {
	s := New(&fakeVault{}, nil, Config{})
	if _, err := s.Call(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestCatalog(t *testing.T) {
	s := New(&fakeVault{}, nil, Config{})
	names := make([]string, 0, 4)
	for _, tool := range s.Tools() {
		names = append(names, tool.Name)
		if tool.InputSchema["type"] != "object" {
			t.Errorf("%s: expected object schema", tool.Name)
		}
	}
	if strings.Join(names, ",") != "list_certificates,get_certificate_hierarchy,list_pki_secrets_engines,filter_pki_audit_events" {
		t.Errorf("unexpected catalog %v", names)
	}
}

func TestListCertificates_Errors(t *testing.T) {
	tests := []struct {
		name  string
		vault *fakeVault
		args  string
		code  models.ErrorCode
	}{
		{"empty mount", &fakeVault{}, `{"pki_mount_path":""}`, models.CodeInvalidParameters},
		{"bad characters", &fakeVault{}, `{"pki_mount_path":"pki/../x"}`, models.CodeInvalidParameters},
		{"bad json", &fakeVault{}, `{"pki_mount_path":`, models.CodeInvalidParameters},
		{
			"unreachable",
			&fakeVault{validateErr: connectors.NewError(connectors.KindConnection, "", errors.New("refused"))},
			`{"pki_mount_path":"pki"}`,
			models.CodeVaultConnection,
		},
		{
			"bad token",
			&fakeVault{validateErr: connectors.NewError(connectors.KindAuthentication, "", errors.New("bad token"))},
			`{"pki_mount_path":"pki"}`,
			models.CodeAuthentication,
		},
		{
			"unknown mount",
			&fakeVault{engines: []models.PKIEngine{{Path: "pki"}}},
			`{"pki_mount_path":"pki_int"}`,
			models.CodePKIPathNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.vault, nil, Config{}).Call(context.Background(), ListCertificatesTool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected error result")
			}
			body := decode(t, res.Payload)
			inner, ok := body["error"].(map[string]any)
			if !ok {
				t.Fatalf("expected nested error, got %v", body)
			}
			if inner["error_code"] != string(tt.code) {
				t.Errorf("expected %s, got %v", tt.code, inner["error_code"])
			}
		})
	}
}

func TestListCertificates_MountCheckSkippedWhenDenied(t *testing.T) {
	v := newVault(t)
	v.enginesErr = connectors.NewError(connectors.KindPermission, "sys/mounts", errors.New("denied"))

	res, err := New(v, nil, Config{}).Call(context.Background(), ListCertificatesTool, json.RawMessage(`{"pki_mount_path":"pki"}`))
	if err != nil || res.IsError {
		t.Fatalf("expected success, got %v %+v", err, res)
	}
	list := res.Payload.(*models.CertificateList)
	if list.Metadata.TotalCertificates != 2 {
		t.Errorf("expected 2 certificates, got %d", list.Metadata.TotalCertificates)
	}
	if got := strings.Join(list.Certificates[0].Issuers, ","); got != "Tools Root" {
		t.Errorf("unexpected issuers %q", got)
	}
}

func TestCertificateHierarchy(t *testing.T) {
	v := newVault(t)
	res, err := New(v, nil, Config{}).Call(context.Background(), CertificateHierarchyTool, json.RawMessage(`{"pki_mount_path":"pki"}`))
	if err != nil || res.IsError {
		t.Fatalf("expected success, got %v %+v", err, res)
	}
	h := res.Payload.(*models.CertificateHierarchy)
	if len(h.RootIssuers) != 1 || h.RootIssuers[0].RootCN != "Tools Root" {
		t.Fatalf("unexpected root groups %+v", h.RootIssuers)
	}
	if got := len(h.RootIssuers[0].DirectCertificates); got != 2 {
		t.Errorf("expected 2 direct certificates, got %d", got)
	}
	if h.Metadata.TotalCertificates != 2 || h.Metadata.RootCACount != 1 {
		t.Errorf("unexpected metadata %+v", h.Metadata)
	}
}

func TestCertificateHierarchy_Errors(t *testing.T) {
	tests := []struct {
		name  string
		vault *fakeVault
		args  string
		code  models.ErrorCode
	}{
		{"missing mount", &fakeVault{}, `{}`, models.CodeInvalidParameters},
		{"bad characters", &fakeVault{}, `{"pki_mount_path":"a b"}`, models.CodeInvalidParameters},
		{"unknown mount", &fakeVault{engines: []models.PKIEngine{{Path: "pki"}}}, `{"pki_mount_path":"kv"}`, models.CodePKIPathNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.vault, nil, Config{}).Call(context.Background(), CertificateHierarchyTool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected error result")
			}
			inner, ok := decode(t, res.Payload)["error"].(map[string]any)
			if !ok || inner["error_code"] != string(tt.code) {
				t.Errorf("expected nested %s error, got %v", tt.code, res.Payload)
			}
		})
	}
}

func TestListPKIEngines(t *testing.T) {
	v := newVault(t)
	res, err := New(v, nil, Config{}).Call(context.Background(), ListPKIEnginesTool, nil)
	if err != nil || res.IsError {
		t.Fatalf("expected success, got %v %+v", err, res)
	}
	body := decode(t, res.Payload)
	engines := body["pki_engines"].([]any)
	if len(engines) != 1 || engines[0].(map[string]any)["path"] != "pki" {
		t.Errorf("unexpected engines %v", engines)
	}
}

func TestFilterPKIAuditEvents(t *testing.T) {
	v := newVault(t)
	logs := &fakeLogs{events: []models.RawLogEvent{{
		EventID:       "e1",
		LogStreamName: "vault",
		Timestamp:     time.Date(2023, 10, 22, 10, 30, 45, 0, time.UTC).UnixMilli(),
		Message:       `{"time":"2023-10-22T10:30:45.123Z","auth":{"display_name":"svc","entity_id":"ent-1"},"request":{"path":"pki/issue/web","remote_address":"10.0.1.42"},"response":{"mount_accessor":"pki_abc"}}`,
	}}}
	s := New(v, logs, Config{LogGroup: "vault-audit", LogStreams: []string{"vault"}})

	args := `{"vault_certificate_subject":"web.example.com","vault_pki_path":"pki","start_time":"2023-10-22T10:00:00","end_time":"1698000000"}`
	res, err := s.Call(context.Background(), FilterPKIAuditEventsTool, json.RawMessage(args))
	if err != nil || res.IsError {
		t.Fatalf("expected success, got %v %+v", err, res.Payload)
	}

	if v.hashInput != "40:02" {
		t.Errorf("expected serial of web.example.com to be hashed, got %q", v.hashInput)
	}
	if !strings.HasPrefix(logs.in.FilterPattern, "{ ") || !strings.Contains(logs.in.FilterPattern, `"hmac-sha256:abc"`) {
		t.Errorf("unexpected filter pattern %q", logs.in.FilterPattern)
	}
	if !strings.Contains(logs.in.FilterPattern, "__CLOUDWATCH_KEY_EXISTS_CHECK_PLACEHOLDER__") {
		t.Error("expected key-exists clause in pattern")
	}
	if logs.in.Limit != DefaultMaxAuditEvents {
		t.Errorf("expected limit %d, got %d", DefaultMaxAuditEvents, logs.in.Limit)
	}
	if logs.in.StartTime == nil || !logs.in.StartTime.Equal(time.Date(2023, 10, 22, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start %v", logs.in.StartTime)
	}

	body := decode(t, res.Payload)
	if body["message"] != "Found 1 events matching filter criteria" || body["success"] != true {
		t.Errorf("unexpected body %v", body)
	}
	data := body["data"].(map[string]any)
	ev := data["events"].([]any)[0].(map[string]any)
	want := map[string]any{
		"timestamp":               "2023-10-22T10:30:45Z",
		"auth_display_name":       "svc",
		"auth_entity_id":          "ent-1",
		"request_remote_address":  "10.0.1.42",
		"request_path":            "pki/issue/web",
		"response_mount_accessor": "pki_abc",
		"time":                    "2023-10-22T10:30:45.123Z",
	}
	for k, v := range want {
		if ev[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, ev[k])
		}
	}
	stats := data["statistics"].(map[string]any)
	if stats["events_matched"] != float64(1) || stats["api_calls_made"] != float64(1) {
		t.Errorf("unexpected statistics %v", stats)
	}
}

func TestFilterPKIAuditEvents_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		logs *fakeLogs
		args string
		code models.ErrorCode
	}{
		{"no log group", Config{}, &fakeLogs{}, `{"vault_certificate_subject":"web.example.com","vault_pki_path":"pki"}`, models.CodeMissingConfiguration},
		{"bad time", Config{LogGroup: "g"}, &fakeLogs{}, `{"vault_certificate_subject":"web.example.com","vault_pki_path":"pki","start_time":"yesterday"}`, models.CodeInvalidParameters},
		{"inverted range", Config{LogGroup: "g"}, &fakeLogs{}, `{"vault_certificate_subject":"web.example.com","vault_pki_path":"pki","start_time":"2024-01-02","end_time":"2024-01-01"}`, models.CodeInvalidParameters},
		{"unknown subject", Config{LogGroup: "g"}, &fakeLogs{}, `{"vault_certificate_subject":"nobody.example.com","vault_pki_path":"pki"}`, models.CodeCertificateNotFound},
		{
			"missing log group",
			Config{LogGroup: "g"},
			&fakeLogs{err: connectors.NewError(connectors.KindNotFound, "g", errors.New("missing"))},
			`{"vault_certificate_subject":"web.example.com","vault_pki_path":"pki"}`,
			models.CodeMissingConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newVault(t), tt.logs, tt.cfg)
			res, err := s.Call(context.Background(), FilterPKIAuditEventsTool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			body := decode(t, res.Payload)
			if !res.IsError || body["success"] != false {
				t.Fatalf("expected failure, got %v", body)
			}
			if body["error_code"] != string(tt.code) {
				t.Errorf("expected %s, got %v (%v)", tt.code, body["error_code"], body["message"])
			}
		})
	}
}

func TestFilterPKIAuditEvents_EmptyMount(t *testing.T) {
	v := newVault(t)
	v.serials = nil
	_, err := New(v, &fakeLogs{}, Config{LogGroup: "g"}).FilterPKIAuditEvents(context.Background(),
		AuditQuery{Subject: "web.example.com", PKIPath: "pki"})
	var terr *models.ToolError
	if !errors.As(err, &terr) || terr.Code != models.CodePKIPathNotFound {
		t.Errorf("expected PKI_PATH_NOT_FOUND, got %v", err)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-10-22T10:00:00Z", time.Date(2023, 10, 22, 10, 0, 0, 0, time.UTC)},
		{"2023-10-22T12:00:00+02:00", time.Date(2023, 10, 22, 10, 0, 0, 0, time.UTC)},
		{"2023-10-22T10:00:00", time.Date(2023, 10, 22, 10, 0, 0, 0, time.UTC)},
		{"2023-10-22T10:00:00.5", time.Date(2023, 10, 22, 10, 0, 0, 500000000, time.UTC)},
		{"1697968800", time.Date(2023, 10, 22, 10, 0, 0, 0, time.UTC)},
		{"1697968800.25", time.Date(2023, 10, 22, 10, 0, 0, 250000000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime("start_time", tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if got, err := parseTime("start_time", " "); got != nil || err != nil {
		t.Errorf("expected no bound, got %v %v", got, err)
	}
}
