// Package metrics exposes the agent's own operational counters — dispatch
// outcomes, audit-write failures, active sessions — on a Prometheus
// /metrics endpoint. This is distinct from the query_metrics tool's
// outbound PromQL client (internal/tool/monitoring.go), which stays
// stdlib net/http: this package is the agent's inbound instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastion_agent_dispatch_total",
		Help: "Tool dispatches by tool name and outcome.",
	}, []string{"tool", "outcome"})

	auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastion_agent_audit_write_failures_total",
		Help: "Audit log writes that failed.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_agent_active_sessions",
		Help: "Number of sessions currently attached to the daemon (0 or 1).",
	})
)

// RecordDispatch increments the dispatch counter for a tool/outcome pair.
// outcome is one of "success", "error", "denied", "timeout".
func RecordDispatch(tool, outcome string) {
	dispatchTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordAuditWriteFailure increments the audit-write-failure counter.
func RecordAuditWriteFailure() {
	auditWriteFailures.Inc()
}

// SetActiveSessions sets the active-session gauge (0 or 1, the daemon
// enforces at most one active session).
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// Serve starts an HTTP server exposing /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
