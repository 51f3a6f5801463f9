package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend(t *testing.T) {
	var got SlackMessage
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	svc := NewService(SlackConfig{WebhookURL: ts.URL, Channel: "#pki"}, nil)

	err := svc.Send(context.Background(), &Notification{
		Title:     "Certificates expiring in pki_int",
		Message:   "2 certificates expire within 30 days",
		Severity:  SeverityCritical,
		Fields:    map[string]string{"total": "9", "mount": "pki_int", "expiring": "2"},
		Timestamp: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hits != 1 {
		t.Fatalf("webhook hits = %d, want 1", hits)
	}
	if got.Channel != "#pki" || got.Username != "Vault PKI Watch" {
		t.Errorf("message = %+v", got)
	}
	att := got.Attachments[0]
	if att.Color != "#FF0000" || att.Timestamp != 1700000000 {
		t.Errorf("attachment = %+v", att)
	}
	order := []string{"mount", "expiring", "total"}
	if len(att.Fields) != len(order) {
		t.Fatalf("fields = %+v", att.Fields)
	}
	for i, f := range att.Fields {
		if f.Title != order[i] {
			t.Errorf("field %d = %s, want %s", i, f.Title, order[i])
		}
	}

	// Below the minimum severity nothing is posted.
	if err := svc.Send(context.Background(), &Notification{Title: "x", Severity: SeverityInfo}); err != nil {
		t.Fatalf("Send(info) error = %v", err)
	}
	if hits != 1 {
		t.Errorf("webhook hits = %d after info, want 1", hits)
	}
}

func TestSend_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"no webhook", ""},
		{"rejected", ts.URL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(SlackConfig{WebhookURL: tt.url}, nil)
			err := svc.Send(context.Background(), &Notification{Title: "x", Severity: SeverityWarning})
			if err == nil {
				t.Error("Send() error = nil")
			}
		})
	}
}
