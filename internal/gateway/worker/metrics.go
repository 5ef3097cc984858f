package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK          = "ok"
	resultError       = "error"
	resultCancelled   = "cancelled"
	resultRejected    = "queue_full"
	resultRateLimited = "rate_limited"
)

// Metrics 记录 worker 队列的关键指标。
type Metrics struct {
	queueDepth prometheus.Gauge
	jobsTotal  *prometheus.CounterVec
	coalesced  *prometheus.CounterVec
	waitTime   prometheus.Histogram
	latency    *prometheus.HistogramVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "akmods_worker_queue_depth",
			Help: "Number of jobs waiting for the worker",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akmods_worker_jobs_total",
			Help: "Number of worker jobs by result",
		}, []string{"key", "result"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akmods_worker_coalesced_total",
			Help: "Number of submissions merged into an already queued job",
		}, []string{"key"}),
		waitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "akmods_worker_wait_seconds",
			Help:    "Time jobs spent queued before running",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60},
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "akmods_worker_job_seconds",
			Help:    "Run time of worker jobs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"key"}),
	}
	reg.MustRegister(m.queueDepth, m.jobsTotal, m.coalesced, m.waitTime, m.latency)
	return m
}

func (m *Metrics) incQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Inc()
}

func (m *Metrics) decQueueDepth() {
	if m == nil {
		return
	}
	m.queueDepth.Dec()
}

func (m *Metrics) incResult(key, result string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(labelOrUnknown(key), result).Inc()
}

func (m *Metrics) incCoalesced(key string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(labelOrUnknown(key)).Inc()
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.waitTime.Observe(d.Seconds())
}

func (m *Metrics) observeLatency(key string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelOrUnknown(key)).Observe(d.Seconds())
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
