package akmodsapi

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/app/session"
)

// HealthService 为 gRPC health 中表示密钥登记的服务名。
const HealthService = "akmods.v1.KeyEnrollment"

// HealthReporter 将会话快照映射到 gRPC health 状态。
type HealthReporter struct {
	server *health.Server
}

// NewHealthReporter 构造 HealthReporter，初始状态为 NOT_SERVING。
func NewHealthReporter(server *health.Server) *HealthReporter {
	if server == nil {
		server = health.NewServer()
	}
	server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server}
}

// Server 返回底层 health server。
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Observe 适合作为 session.Config.OnChange。密钥已登记或等待重启确认时为 SERVING。
func (h *HealthReporter) Observe(snap session.Snapshot) {
	h.server.SetServingStatus(HealthService, ServingStatus(snap))
}

// Shutdown 将所有服务标记为 NOT_SERVING。
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// ServingStatus 计算快照对应的 health 状态。
func ServingStatus(snap session.Snapshot) healthpb.HealthCheckResponse_ServingStatus {
	if !snap.Enabled || snap.KeyError != "" {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	switch snap.KeyState {
	case akmods.StateEnrolled, akmods.StatePendingReboot:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
