package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBackendCall(t *testing.T) {
	ok := testutil.ToFloat64(BackendCalls.WithLabelValues("vault", "test_op", "ok"))
	failed := testutil.ToFloat64(BackendCalls.WithLabelValues("vault", "test_op", "error"))

	ObserveBackendCall("vault", "test_op", nil)
	ObserveBackendCall("vault", "test_op", errors.New("boom"))
	ObserveBackendCall("vault", "test_op", errors.New("boom"))

	if got := testutil.ToFloat64(BackendCalls.WithLabelValues("vault", "test_op", "ok")) - ok; got != 1 {
		t.Errorf("expected 1 ok call, got %v", got)
	}
	if got := testutil.ToFloat64(BackendCalls.WithLabelValues("vault", "test_op", "error")) - failed; got != 2 {
		t.Errorf("expected 2 failed calls, got %v", got)
	}
}

func TestObserveToolCall(t *testing.T) {
	before := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("test_tool", "error"))
	ObserveToolCall("test_tool", time.Now(), true)
	if got := testutil.ToFloat64(ToolCallsTotal.WithLabelValues("test_tool", "error")) - before; got != 1 {
		t.Errorf("expected 1 failed tool call, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	Certificates.WithLabelValues("pki_test", "total").Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `vaultmcp_certificates{mount="pki_test",state="total"} 3`) {
		t.Error("expected certificate gauge in exposition")
	}
}
