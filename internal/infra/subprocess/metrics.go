package subprocess

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultExited      = "exited"
	resultSpawnFailed = "spawn_failed"
	resultCancelled   = "cancelled"
	resultIOError     = "io_error"
)

// Metrics 记录外部工具调用指标。
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akmods_subprocess_invocations_total",
			Help: "Number of external tool invocations by result",
		}, []string{"tool", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "akmods_subprocess_duration_seconds",
			Help:    "Wall time of external tool invocations, including privilege prompts",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"tool"}),
	}
	reg.MustRegister(m.invocations, m.duration)
	return m
}

func (m *Metrics) observe(tool, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	m.invocations.WithLabelValues(tool, result).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}
