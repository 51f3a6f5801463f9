package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vaultmcp_tool_calls_total", Help: "tool calls handled"}, []string{"tool", "status"})
	ToolDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "vaultmcp_tool_duration_seconds", Help: "tool call latency", Buckets: prometheus.DefBuckets}, []string{"tool"})
	BackendCalls   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vaultmcp_backend_calls_total", Help: "calls made to Vault and CloudWatch"}, []string{"backend", "operation", "status"})
	WarningsTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vaultmcp_warnings_total", Help: "degraded items reported as warnings"}, []string{"kind"})
	Certificates   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "vaultmcp_certificates", Help: "certificates per mount by state, from the expiry watch"}, []string{"mount", "state"})
)

func init() {
	prometheus.MustRegister(ToolCallsTotal, ToolDuration, BackendCalls, WarningsTotal, Certificates)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveBackendCall(backend, operation string, err error) {
	BackendCalls.WithLabelValues(backend, operation, status(err)).Inc()
}

func ObserveToolCall(tool string, started time.Time, failed bool) {
	s := "ok"
	if failed {
		s = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, s).Inc()
	ToolDuration.WithLabelValues(tool).Observe(time.Since(started).Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
