package secureboot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// State 表示平台 Secure Boot 状态。
type State string

const (
	StateUnknown      State = "UNKNOWN"
	StateDisabled     State = "DISABLED"
	StateEnabled      State = "ENABLED"
	StateNotSupported State = "NOT_SUPPORTED"
)

// Runner 抽象外部进程执行。
type Runner interface {
	Run(ctx context.Context, c subprocess.Command) (subprocess.Outcome, error)
}

// Config 控制 Gate 行为。
type Config struct {
	// Mokutil 为 mokutil 路径，默认按 PATH 查找。
	Mokutil string
	Runner  Runner
	Logger  *slog.Logger
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Mokutil == "" {
		cfg.Mokutil = "mokutil"
	}
	if cfg.Runner == nil {
		cfg.Runner = subprocess.NewRunner(subprocess.Config{Logger: cfg.Logger})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Gate 缓存首个可识别的 Secure Boot 状态，直到 Invalidate。
type Gate struct {
	cfg Config

	mu    sync.RWMutex
	state State
}

// New 构造 Gate，初始状态为 StateUnknown。
func New(cfg Config) *Gate {
	return &Gate{cfg: cfg.normalize(), state: StateUnknown}
}

// Probe 返回 Secure Boot 状态。已缓存时不调用 mokutil；无法识别时返回
// StateUnknown 且不缓存，下次调用会重试。
func (g *Gate) Probe(ctx context.Context) State {
	if st := g.Last(); st != StateUnknown {
		return st
	}

	out, err := g.cfg.Runner.Run(ctx, subprocess.Command{Path: g.cfg.Mokutil, Args: []string{"--sb-state"}})
	if err != nil {
		if !apierrors.Suppressed(err) {
			g.cfg.Logger.Warn("secure boot probe failed", slog.Any("err", err))
		}
		return StateUnknown
	}
	st := Classify(out)
	if st == StateUnknown {
		g.cfg.Logger.Warn("unexpected mokutil --sb-state output",
			slog.Int("exit_code", out.ExitCode),
			slog.String("stdout", out.Stdout),
			slog.String("stderr", out.Stderr))
		return StateUnknown
	}

	g.mu.Lock()
	if g.state == StateUnknown {
		g.state = st
	}
	st = g.state
	g.mu.Unlock()
	g.cfg.Logger.Info("secure boot state", slog.String("state", string(st)))
	return st
}

// Last 返回已缓存的状态，不产生任何副作用。
func (g *Gate) Last() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Invalidate 清除缓存。
func (g *Gate) Invalidate() {
	g.mu.Lock()
	g.state = StateUnknown
	g.mu.Unlock()
}

// Classify 将 mokutil --sb-state 的输出映射为 State，忽略退出码。
func Classify(o subprocess.Outcome) State {
	switch {
	case hasPrefixFold(o.Stdout, "SecureBoot enabled\n"):
		return StateEnabled
	case hasPrefixFold(o.Stdout, "SecureBoot disabled\n"):
		return StateDisabled
	case o.Stdout == "" && hasPrefixFold(o.Stderr, "EFI variables are not supported on this system\n"):
		return StateNotSupported
	default:
		return StateUnknown
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
