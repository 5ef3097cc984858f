package akmods

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// Metrics 收敛密钥探测与登记相关指标。
type Metrics struct {
	probeTotal     *prometheus.CounterVec
	probeCacheHits prometheus.Counter
	enrollTotal    *prometheus.CounterVec
	keyState       *prometheus.GaugeVec
}

// NewMetrics 构造指标集合，reg 为空时默认使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akmods_probe_total",
			Help: "Number of key state probes that invoked the helper",
		}, []string{"state", "code"}),
		probeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "akmods_probe_cache_hits_total",
			Help: "Number of key state probes answered from the cache",
		}),
		enrollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "akmods_enroll_total",
			Help: "Number of enrollment attempts by resulting state",
		}, []string{"state", "code"}),
		keyState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "akmods_key_state",
			Help: "Last observed key state, 1 for the active state",
		}, []string{"state"}),
	}
	reg.MustRegister(m.probeTotal, m.probeCacheHits, m.enrollTotal, m.keyState)
	return m
}

func (m *Metrics) observeProbe(state State, err error) {
	if m == nil {
		return
	}
	m.probeTotal.WithLabelValues(state.String(), string(apierrors.CodeOf(err))).Inc()
	m.setState(state)
}

func (m *Metrics) observeCacheHit() {
	if m == nil {
		return
	}
	m.probeCacheHits.Inc()
}

func (m *Metrics) observeEnroll(state State, err error) {
	if m == nil {
		return
	}
	m.enrollTotal.WithLabelValues(state.String(), string(apierrors.CodeOf(err))).Inc()
	m.setState(state)
}

func (m *Metrics) setState(state State) {
	for _, s := range []State{StateEnrolled, StateKeyNotFound, StateNotEnrolled, StatePendingReboot, StateError} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.keyState.WithLabelValues(string(s)).Set(v)
	}
}
