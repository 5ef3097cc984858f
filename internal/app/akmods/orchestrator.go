package akmods

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sign/akmods/pkg/apierrors"
	"github.com/aegis-sign/akmods/pkg/secret"
)

// OrchestratorConfig 控制 Orchestrator 行为。
type OrchestratorConfig struct {
	Elevation Elevation
	Runner    Runner
	Metrics   *Metrics
	Logger    *slog.Logger
}

func (c *OrchestratorConfig) normalize() OrchestratorConfig {
	cfg := *c
	cfg.Elevation = cfg.Elevation.normalize()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Orchestrator 通过特权 helper 推进登记流程。它不持有锁，调用方负责串行化。
type Orchestrator struct {
	cfg OrchestratorConfig
}

// NewOrchestrator 构造 Orchestrator。
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, ErrNilRunner
	}
	return &Orchestrator{cfg: cfg.normalize()}, nil
}

// Enroll 以 pw 作为一次性密码发起登记。pw 在返回前总会被擦除。
func (o *Orchestrator) Enroll(ctx context.Context, pw *secret.Password) (State, error) {
	defer pw.Wipe()
	if pw.Empty() {
		return StateError, apierrors.New(apierrors.CodeInvalidArgument, "Password cannot be empty.")
	}

	payload := pw.Repeat(1)
	defer secret.Zero(payload)

	attempt := uuid.NewString()
	logger := o.cfg.Logger.With(slog.String("attempt", attempt))
	logger.Info("akmods enrollment started")
	start := time.Now()

	state, err := StateError, error(nil)
	out, runErr := o.cfg.Runner.Run(ctx, o.cfg.Elevation.command("enroll", FlagEnroll, payload))
	if runErr != nil {
		err = runErr
	} else {
		state, err = InterpretHelperOutcome(out)
	}

	o.cfg.Metrics.observeEnroll(state, err)
	switch {
	case err == nil:
		logger.Info("akmods enrollment finished", slog.String("state", state.String()), slog.Duration("elapsed", time.Since(start)))
	case apierrors.Suppressed(err):
		logger.Info("akmods enrollment aborted", slog.String("code", string(apierrors.CodeOf(err))))
	default:
		logger.Warn("akmods enrollment failed", slog.Any("err", err))
	}
	return state, err
}
