package akmods

import (
	"context"
	"log/slog"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/apierrors"
	"github.com/aegis-sign/akmods/pkg/secret"
)

// Tools 为 helper 直接调用的工具路径。
type Tools struct {
	Mokutil   string
	Kmodgenca string
}

func (t Tools) normalize() Tools {
	if t.Mokutil == "" {
		t.Mokutil = DefaultMokutilPath
	}
	if t.Kmodgenca == "" {
		t.Kmodgenca = DefaultKmodgencaPath
	}
	return t
}

// HelperConfig 控制特权 helper 侧的行为。
type HelperConfig struct {
	Paths  Paths
	Tools  Tools
	Runner Runner
	Logger *slog.Logger
}

func (c *HelperConfig) normalize() HelperConfig {
	cfg := *c
	cfg.Paths = cfg.Paths.normalize()
	cfg.Tools = cfg.Tools.normalize()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Helper 在已提权的进程中直接调用 mokutil 与 kmodgenca。
type Helper struct {
	cfg        HelperConfig
	classifier Classifier
}

// NewHelper 构造 Helper。
func NewHelper(cfg HelperConfig) (*Helper, error) {
	if cfg.Runner == nil {
		return nil, ErrNilRunner
	}
	cfg = cfg.normalize()
	return &Helper{cfg: cfg, classifier: Classifier{KeyFile: cfg.Paths.KeyFile}}, nil
}

// Test 检测密钥状态。
func (h *Helper) Test(ctx context.Context) (State, error) {
	if !dirExists(h.cfg.Paths.KeyDir) {
		return StateError, apierrors.New(apierrors.CodeDirectoryNotFound, "Akmods key directory not found.")
	}
	out, err := h.cfg.Runner.Run(ctx, subprocess.Command{
		Path: h.cfg.Tools.Mokutil,
		Args: []string{"--test-key", h.cfg.Paths.KeyFile},
	})
	if err != nil {
		return StateError, err
	}
	state, err := h.classifier.TestKey(out)
	if apierrors.Is(err, apierrors.CodeUnexpectedOutput) {
		h.cfg.Logger.Warn("unexpected mokutil --test-key output",
			slog.Int("exit_code", out.ExitCode), slog.String("stdout", out.Stdout))
	}
	return state, err
}

// Generate 生成新的 akmods 密钥。
func (h *Helper) Generate(ctx context.Context) (State, error) {
	out, err := h.cfg.Runner.Run(ctx, subprocess.Command{Path: h.cfg.Tools.Kmodgenca, Args: []string{"-a"}})
	if err != nil {
		return StateError, err
	}
	return h.classifier.Generate(out)
}

// Import 提交登记请求，密码按 mokutil 的确认提示写入两次。
func (h *Helper) Import(ctx context.Context, pw *secret.Password) (State, error) {
	if pw.Empty() {
		return StateError, apierrors.New(apierrors.CodeInvalidArgument, "Password cannot be empty.")
	}
	payload := pw.Repeat(2)
	defer secret.Zero(payload)

	out, err := h.cfg.Runner.Run(ctx, subprocess.Command{
		Path:  h.cfg.Tools.Mokutil,
		Args:  []string{"--import", h.cfg.Paths.KeyFile},
		Stdin: payload,
	})
	if err != nil {
		return StateError, err
	}
	return h.classifier.Import(out)
}

// EnsureEnrolled 将密钥推进到 PendingReboot。已登记或已提交时不做任何修改；
// 任一步骤失败立即返回。pw 在返回前总会被擦除。
func (h *Helper) EnsureEnrolled(ctx context.Context, pw *secret.Password) (State, error) {
	defer pw.Wipe()

	state, err := h.Test(ctx)
	if err != nil {
		return StateError, err
	}
	h.cfg.Logger.Debug("akmods key state", slog.String("state", state.String()))

	if state.Terminal() {
		return state, nil
	}
	if state == StateKeyNotFound {
		if state, err = h.Generate(ctx); err != nil {
			return StateError, err
		}
	}
	if state == StateNotEnrolled {
		return h.Import(ctx, pw)
	}
	return state, nil
}
