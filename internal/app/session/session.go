package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-sign/akmods/internal/app/akmods"
	"github.com/aegis-sign/akmods/internal/app/secureboot"
	"github.com/aegis-sign/akmods/internal/gateway/worker"
	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/apierrors"
	"github.com/aegis-sign/akmods/pkg/secret"
)

const (
	jobSecureBoot = "secureboot"
	jobKeyState   = "key-state"
	jobEnroll     = "enroll"
)

// Config 描述 Session 依赖。
type Config struct {
	Paths     akmods.Paths
	Elevation akmods.Elevation
	// Mokutil 仅用于非特权的 --sb-state 探测。
	Mokutil   string
	ProbeTTL  time.Duration
	WaitDelay time.Duration
	Worker    worker.Config
	// Runner 为空时使用 subprocess.Runner。
	Runner akmods.Runner
	Clock  akmods.Clock
	// Registerer 非空时注册各组件指标。
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	// OnChange 在 Secure Boot 或密钥状态变化后被调用，不得阻塞。
	OnChange func(Snapshot)
}

// Snapshot 汇总子系统当前状态，不触发任何外部调用。
type Snapshot struct {
	SecureBoot secureboot.State `json:"secureBoot"`
	Enabled    bool             `json:"enabled"`
	KeyState   akmods.State     `json:"keyState,omitempty"`
	KeyError   string           `json:"keyError,omitempty"`
	ErrorCode  apierrors.Code   `json:"errorCode,omitempty"`
	ProbedAt   time.Time        `json:"probedAt,omitempty"`
	Contract   int              `json:"contractVersion"`
}

// Session 持有 akmods 子系统的长期状态，所有阻塞调用都在同一个 worker 上执行。
type Session struct {
	cfg     Config
	logger  *slog.Logger
	gate    *secureboot.Gate
	prober  *akmods.Prober
	orch    *akmods.Orchestrator
	worker  *worker.Dispatcher
	started time.Time

	mu       sync.Mutex
	disabled bool
}

// New 构造 Session 并启动 worker。
func New(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var (
		subMetrics    *subprocess.Metrics
		akmodsMetrics *akmods.Metrics
	)
	if cfg.Registerer != nil {
		subMetrics = subprocess.NewMetrics(cfg.Registerer)
		akmodsMetrics = akmods.NewMetrics(cfg.Registerer)
		if cfg.Worker.Metrics == nil {
			cfg.Worker.Metrics = worker.NewMetrics(cfg.Registerer)
		}
	}
	runner := cfg.Runner
	if runner == nil {
		runner = subprocess.NewRunner(subprocess.Config{WaitDelay: cfg.WaitDelay, Logger: logger, Metrics: subMetrics})
	}
	if cfg.Worker.Logger == nil {
		cfg.Worker.Logger = logger
	}

	prober, err := akmods.NewProber(akmods.ProberConfig{
		Paths:     cfg.Paths,
		Elevation: cfg.Elevation,
		TTL:       cfg.ProbeTTL,
		Runner:    runner,
		Clock:     cfg.Clock,
		Metrics:   akmodsMetrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	orch, err := akmods.NewOrchestrator(akmods.OrchestratorConfig{
		Elevation: cfg.Elevation,
		Runner:    runner,
		Metrics:   akmodsMetrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		gate:    secureboot.New(secureboot.Config{Mokutil: cfg.Mokutil, Runner: runner, Logger: logger}),
		prober:  prober,
		orch:    orch,
		worker:  worker.NewDispatcher(cfg.Worker),
		started: time.Now(),
	}, nil
}

// Setup 在 worker 上探测 Secure Boot。Disabled 或 NotSupported 时关闭子系统；
// 无法判断时保持开启，等待 Reload 重试。
func (s *Session) Setup(ctx context.Context) (secureboot.State, error) {
	st, err := worker.Call(ctx, s.worker, jobSecureBoot, func(ctx context.Context) (secureboot.State, error) {
		return s.gate.Probe(ctx), nil
	})
	if err != nil {
		return secureboot.StateUnknown, err
	}
	s.apply(st)
	return st, nil
}

// Reload 仅在 Secure Boot 状态未知时重新探测，提交受速率限制。
func (s *Session) Reload(ctx context.Context) (secureboot.State, error) {
	if st := s.gate.Last(); st != secureboot.StateUnknown {
		return st, nil
	}
	v, err := s.worker.DoLimited(ctx, jobSecureBoot, func(ctx context.Context) (any, error) {
		return s.gate.Probe(ctx), nil
	})
	if errors.Is(err, worker.ErrRateLimited) {
		return secureboot.StateUnknown, nil
	}
	if err != nil {
		return secureboot.StateUnknown, err
	}
	st, _ := v.(secureboot.State)
	s.apply(st)
	return st, nil
}

// KeyState 返回密钥登记状态，Secure Boot 未启用时拒绝。
func (s *Session) KeyState(ctx context.Context) (akmods.State, error) {
	if err := s.requireSecureBoot(); err != nil {
		return akmods.StateError, err
	}
	state, err := worker.Call(ctx, s.worker, jobKeyState, s.prober.Probe)
	if err != nil && state == "" {
		state = akmods.StateError
	}
	s.notify()
	return state, err
}

// Enroll 以 pw 发起登记，成功或失败后都会使探测缓存失效。pw 在返回前总会被擦除。
func (s *Session) Enroll(ctx context.Context, pw *secret.Password) (akmods.State, error) {
	defer pw.Wipe()
	if err := s.requireSecureBoot(); err != nil {
		return akmods.StateError, err
	}
	state, err := worker.Call(ctx, s.worker, "", func(ctx context.Context) (akmods.State, error) {
		defer s.prober.Invalidate()
		return s.orch.Enroll(ctx, pw)
	})
	if err != nil && state == "" {
		state = akmods.StateError
	}
	s.notify()
	return state, err
}

// SecureBoot 返回已缓存的 Secure Boot 状态。
func (s *Session) SecureBoot() secureboot.State {
	return s.gate.Last()
}

// Enabled 报告子系统是否仍处于开启状态。
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// Snapshot 返回当前状态。
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SecureBoot: s.gate.Last(),
		Enabled:    s.Enabled(),
		Contract:   akmods.ContractVersion,
	}
	if res, ok := s.prober.Last(); ok {
		snap.KeyState = res.State
		snap.ProbedAt = res.At
		if res.Err != nil {
			snap.KeyError = res.Err.Error()
			snap.ErrorCode = apierrors.CodeOf(res.Err)
		}
	}
	return snap
}

// Worker 暴露 worker，供调试接口使用。
func (s *Session) Worker() *worker.Dispatcher {
	return s.worker
}

// Shutdown 停止 worker。
func (s *Session) Shutdown() {
	s.worker.Close()
	s.logger.Info("akmods session stopped", slog.Duration("uptime", time.Since(s.started)))
}

func (s *Session) requireSecureBoot() error {
	if st := s.gate.Last(); st != secureboot.StateEnabled {
		return apierrors.New(apierrors.CodeSecureBootInactive, "Secure Boot is not enabled ("+string(st)+").")
	}
	return nil
}

func (s *Session) apply(st secureboot.State) {
	switch st {
	case secureboot.StateDisabled, secureboot.StateNotSupported:
		s.mu.Lock()
		wasDisabled := s.disabled
		s.disabled = true
		s.mu.Unlock()
		if !wasDisabled {
			s.logger.Info("akmods subsystem disabled", slog.String("secure_boot", string(st)))
		}
	case secureboot.StateEnabled:
		s.mu.Lock()
		s.disabled = false
		s.mu.Unlock()
	}
	s.notify()
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.Snapshot())
	}
}
