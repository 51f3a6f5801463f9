package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
	"github.com/pkiaudit/vaultmcp/internal/notifications"
)

type fakeNotifier struct {
	sent []*notifications.Notification
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, n *notifications.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

type fakeLister struct {
	lists map[string]*models.CertificateList
	calls atomic.Int32
}

func (f *fakeLister) List(ctx context.Context, mount string) (*models.CertificateList, error) {
	f.calls.Add(1)
	list, ok := f.lists[mount]
	if !ok {
		return nil, errors.New("mount not found")
	}
	return list, nil
}

func summary(notAfter time.Time, expired, revoked bool) models.CertificateSummary {
	return models.CertificateSummary{
		Expired:  models.YesNo(expired),
		Revoked:  models.YesNo(revoked),
		NotAfter: notAfter,
	}
}

func TestExpiryWatch_CheckMount(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{lists: map[string]*models.CertificateList{
		"pki_watch": {
			Certificates: []models.CertificateSummary{
				summary(now.Add(-time.Hour), true, false),
				summary(now.Add(10*24*time.Hour), false, false),
				summary(now.Add(20*24*time.Hour), false, true),
				summary(now.Add(29*24*time.Hour), false, false),
				summary(now.Add(90*24*time.Hour), false, false),
			},
			Metadata: models.ListMetadata{TotalCertificates: 5, ExpiredCount: 1, RevokedCount: 1},
		},
	}}

	w := NewExpiryWatch(lister, []string{"pki_watch"}, 30*24*time.Hour, WithWatchClock(func() time.Time { return now }))
	counts, err := w.CheckMount(context.Background(), "pki_watch")
	if err != nil {
		t.Fatalf("CheckMount() error = %v", err)
	}
	want := ExpiryCounts{Total: 5, Expired: 1, Revoked: 1, Expiring: 2}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}

	gauges := map[string]float64{"total": 5, "expired": 1, "revoked": 1, "expiring": 2}
	for state, v := range gauges {
		if got := testutil.ToFloat64(metrics.Certificates.WithLabelValues("pki_watch", state)); got != v {
			t.Errorf("gauge %s = %v, want %v", state, got, v)
		}
	}
}

func TestExpiryWatch_Notifies(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{lists: map[string]*models.CertificateList{
		"pki_soon": {
			Certificates: []models.CertificateSummary{summary(now.Add(24*time.Hour), false, false)},
			Metadata:     models.ListMetadata{TotalCertificates: 1},
		},
		"pki_fine": {
			Certificates: []models.CertificateSummary{summary(now.Add(365*24*time.Hour), false, false)},
			Metadata:     models.ListMetadata{TotalCertificates: 1},
		},
	}}
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	w := NewExpiryWatch(lister, []string{"pki_soon", "pki_fine"}, 7*24*time.Hour,
		WithWatchClock(func() time.Time { return now }),
		WithNotifier(notifier))

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, notifier failures must not fail the run", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.sent))
	}
	n := notifier.sent[0]
	if n.Fields["mount"] != "pki_soon" || n.Fields["expiring"] != "1" || n.Severity != notifications.SeverityCritical {
		t.Errorf("notification = %+v", n)
	}
}

func TestExpiryWatch_RunContinuesPastFailures(t *testing.T) {
	lister := &fakeLister{lists: map[string]*models.CertificateList{
		"pki_ok": {Metadata: models.ListMetadata{TotalCertificates: 0}},
	}}
	w := NewExpiryWatch(lister, []string{"pki_missing", "pki_ok"}, time.Hour)

	err := w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "pki_missing") {
		t.Fatalf("Run() error = %v, want failure naming pki_missing", err)
	}
	if lister.calls.Load() != 2 {
		t.Errorf("List calls = %d, want 2", lister.calls.Load())
	}
}

func TestScheduler_AddJob(t *testing.T) {
	s := NewScheduler(nil)

	tests := []struct {
		name    string
		job     *Job
		wantErr bool
	}{
		{"descriptor", &Job{Name: "a", Schedule: "@every 1h", Run: func(context.Context) error { return nil }}, false},
		{"with seconds", &Job{Name: "b", Schedule: "30 */5 * * * *", Run: func(context.Context) error { return nil }}, false},
		{"five fields", &Job{Name: "c", Schedule: "0 6 * * 1", Run: func(context.Context) error { return nil }}, false},
		{"invalid", &Job{Name: "d", Schedule: "every hour", Run: func(context.Context) error { return nil }}, true},
		{"no func", &Job{Name: "e", Schedule: "@daily"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddJob(tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(s.GetNextRuns(tt.job.Name, 2)) != 2 {
				t.Errorf("GetNextRuns() did not return 2 runs")
			}
		})
	}
}

func TestScheduler_RunJobNow(t *testing.T) {
	s := NewScheduler(nil)
	lister := &fakeLister{lists: map[string]*models.CertificateList{"pki": {}}}
	w := NewExpiryWatch(lister, []string{"pki"}, time.Hour)

	if err := s.AddJob(w.Job("@every 1h", time.Minute)); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if err := s.RunJobNow(ExpiryWatchJob); err != nil {
		t.Fatalf("RunJobNow() error = %v", err)
	}
	if lister.calls.Load() != 1 {
		t.Errorf("List calls = %d, want 1", lister.calls.Load())
	}
	if s.jobs[ExpiryWatchJob].LastRun == nil {
		t.Error("LastRun not recorded")
	}

	if err := s.RunJobNow("missing"); err == nil {
		t.Error("RunJobNow(missing) error = nil")
	}

	s.RemoveJob(ExpiryWatchJob)
	if runs := s.GetNextRuns(ExpiryWatchJob, 1); runs != nil {
		t.Errorf("GetNextRuns after remove = %v", runs)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(nil)
	var ran atomic.Int32
	if err := s.AddJob(&Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	s.Start()
	time.Sleep(1500 * time.Millisecond)
	<-s.Stop().Done()
	if ran.Load() == 0 {
		t.Error("job never ran")
	}
}
