package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkiaudit/vaultmcp/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantDebug bool
		wantJSON  bool
	}{
		{"defaults", config.LoggingConfig{}, false, true},
		{"debug json", config.LoggingConfig{Level: "DEBUG", Format: "json"}, true, true},
		{"text", config.LoggingConfig{Level: "info", Format: "text"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.cfg, &buf)
			if got := logger.Enabled(context.Background(), -4); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			logger.Info("hello", "mount", "pki")
			line := strings.TrimSpace(buf.String())
			if isJSON := json.Valid([]byte(line)); isJSON != tt.wantJSON {
				t.Errorf("output %q json = %v, want %v", line, isJSON, tt.wantJSON)
			}
		})
	}
}

func TestNew_WithoutLogGroup(t *testing.T) {
	cfg := &config.Config{}
	cfg.Vault.Address = "http://127.0.0.1:8200"
	cfg.PKI.CertificateConcurrency = 2
	cfg.PKI.IssuerConcurrency = 1

	a, err := New(context.Background(), cfg, NewLogger(config.LoggingConfig{Level: "error"}, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	if a.Logs != nil {
		t.Errorf("Logs = %v, want nil", a.Logs)
	}
	if len(a.Tools.Tools()) != 4 {
		t.Errorf("tools = %d, want 4", len(a.Tools.Tools()))
	}
}

func TestNew_RequiresVaultAddress(t *testing.T) {
	if _, err := New(context.Background(), &config.Config{}, nil); err == nil {
		t.Error("New() error = nil, want missing address")
	}
}
