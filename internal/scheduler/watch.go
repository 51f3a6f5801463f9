package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
	"github.com/pkiaudit/vaultmcp/internal/notifications"
)

const ExpiryWatchJob = "certificate_expiry_watch"

// Lister produces the flat certificate list of a PKI mount.
type Lister interface {
	List(ctx context.Context, mount string) (*models.CertificateList, error)
}

// Notifier receives an alert for each mount with expiring certificates.
type Notifier interface {
	Send(ctx context.Context, notif *notifications.Notification) error
}

// ExpiryCounts summarises one mount for the certificate gauges.
type ExpiryCounts struct {
	Total    int
	Expired  int
	Revoked  int
	Expiring int
}

// ExpiryWatch lists every watched mount and publishes certificate counts.
type ExpiryWatch struct {
	lister   Lister
	mounts   []string
	window   time.Duration
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type WatchOption func(*ExpiryWatch)

func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *ExpiryWatch) {
		w.logger = logger
	}
}

func WithWatchClock(now func() time.Time) WatchOption {
	return func(w *ExpiryWatch) {
		w.now = now
	}
}

func WithNotifier(n Notifier) WatchOption {
	return func(w *ExpiryWatch) {
		w.notifier = n
	}
}

func NewExpiryWatch(lister Lister, mounts []string, window time.Duration, opts ...WatchOption) *ExpiryWatch {
	w := &ExpiryWatch{
		lister: lister,
		mounts: mounts,
		window: window,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Job wraps the watch for the scheduler.
func (w *ExpiryWatch) Job(schedule string, timeout time.Duration) *Job {
	return &Job{
		Name:     ExpiryWatchJob,
		Schedule: schedule,
		Timeout:  timeout,
		Run:      w.Run,
	}
}

// Run checks every mount. A failing mount is logged and skipped; the joined
// errors are returned once all mounts have been tried.
func (w *ExpiryWatch) Run(ctx context.Context) error {
	var errs []error
	for _, mount := range w.mounts {
		counts, err := w.CheckMount(ctx, mount)
		if err != nil {
			w.logger.Error("expiry watch failed", "mount", mount, "error", err)
			errs = append(errs, fmt.Errorf("mount %s: %w", mount, err))
			continue
		}
		w.logger.Info("expiry watch",
			"mount", mount,
			"total", counts.Total,
			"expired", counts.Expired,
			"revoked", counts.Revoked,
			"expiring", counts.Expiring)
		w.notify(ctx, mount, counts)
	}
	return errors.Join(errs...)
}

func (w *ExpiryWatch) notify(ctx context.Context, mount string, counts ExpiryCounts) {
	if w.notifier == nil || counts.Expiring == 0 {
		return
	}
	severity := notifications.SeverityWarning
	if w.window <= 7*24*time.Hour {
		severity = notifications.SeverityCritical
	}
	err := w.notifier.Send(ctx, &notifications.Notification{
		Title:    "Certificates expiring in " + mount,
		Message:  fmt.Sprintf("%d certificates expire within %s", counts.Expiring, w.window),
		Severity: severity,
		Fields: map[string]string{
			"mount":    mount,
			"expiring": strconv.Itoa(counts.Expiring),
			"expired":  strconv.Itoa(counts.Expired),
			"revoked":  strconv.Itoa(counts.Revoked),
			"total":    strconv.Itoa(counts.Total),
		},
		Timestamp: w.now(),
	})
	if err != nil {
		w.logger.Warn("expiry notification failed", "mount", mount, "error", err)
	}
}

func (w *ExpiryWatch) CheckMount(ctx context.Context, mount string) (ExpiryCounts, error) {
	list, err := w.lister.List(ctx, mount)
	if err != nil {
		return ExpiryCounts{}, err
	}

	deadline := w.now().Add(w.window)
	counts := ExpiryCounts{
		Total:   list.Metadata.TotalCertificates,
		Expired: list.Metadata.ExpiredCount,
		Revoked: list.Metadata.RevokedCount,
	}
	for _, c := range list.Certificates {
		if c.Expired == models.YesNo(false) && c.Revoked == models.YesNo(false) && !c.NotAfter.After(deadline) {
			counts.Expiring++
		}
	}

	metrics.Certificates.WithLabelValues(mount, "total").Set(float64(counts.Total))
	metrics.Certificates.WithLabelValues(mount, "expired").Set(float64(counts.Expired))
	metrics.Certificates.WithLabelValues(mount, "revoked").Set(float64(counts.Revoked))
	metrics.Certificates.WithLabelValues(mount, "expiring").Set(float64(counts.Expiring))
	return counts, nil
}
