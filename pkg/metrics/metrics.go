// Package metrics はポータルのPrometheusメトリクスを定義する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/smsportal/pkg/routegate"
)

// Metrics はポータルが公開するメトリクスを保持する。
// nilのMetricsに対する記録呼び出しは何もしない。
type Metrics struct {
	// GateDecisions はルートゲートの判定数。
	GateDecisions *prometheus.CounterVec
	// AuthAttempts は認証フローごとの試行数。
	AuthAttempts *prometheus.CounterVec

	registry *prometheus.Registry
}

// New は専用レジストリにメトリクスを登録して返す。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_gate_decisions_total",
			Help: "Number of route gate decisions by action and rule",
		}, []string{"action", "rule"}),
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_attempts_total",
			Help: "Number of authentication attempts by flow and outcome",
		}, []string{"flow", "outcome"}),
		registry: reg,
	}
	reg.MustRegister(m.GateDecisions, m.AuthAttempts)
	return m
}

// ObserveGateDecision はゲートの判定を記録する。
func (m *Metrics) ObserveGateDecision(d routegate.Decision) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(d.Action.String(), d.Rule).Inc()
}

// ObserveAuth は認証フローの結果を記録する。
func (m *Metrics) ObserveAuth(flow, outcome string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(flow, outcome).Inc()
}

// Handler はメトリクスを公開するHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
