package akmods

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-sign/akmods/pkg/apierrors"
)

// DefaultProbeTTL 为探测结果的缓存时长。
const DefaultProbeTTL = 5 * time.Second

// ErrNilRunner 表示未注入 Runner。
var ErrNilRunner = errors.New("akmods: runner is required")

// ProberConfig 控制 Prober 行为。
type ProberConfig struct {
	Paths     Paths
	Elevation Elevation
	// TTL 为缓存有效期，<=0 时使用 DefaultProbeTTL。
	TTL     time.Duration
	Runner  Runner
	Clock   Clock
	Metrics *Metrics
	Logger  *slog.Logger
}

func (c *ProberConfig) normalize() ProberConfig {
	cfg := *c
	cfg.Paths = cfg.Paths.normalize()
	cfg.Elevation = cfg.Elevation.normalize()
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultProbeTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// ProbeResult 为最近一次经 helper 得到的探测结果。
type ProbeResult struct {
	State State
	Err   error
	At    time.Time
}

// Prober 通过特权 helper 判断密钥登记状态，并在 TTL 内复用上一次结果。
// 并发探测不做合并：两个调用都可能未命中缓存并各自调用 helper。
type Prober struct {
	cfg ProberConfig

	mu     sync.Mutex
	last   ProbeResult
	cached bool
}

// NewProber 构造 Prober。
func NewProber(cfg ProberConfig) (*Prober, error) {
	if cfg.Runner == nil {
		return nil, ErrNilRunner
	}
	return &Prober{cfg: cfg.normalize()}, nil
}

// Probe 返回当前密钥状态。
func (p *Prober) Probe(ctx context.Context) (State, error) {
	if !dirExists(p.cfg.Paths.KeyDir) {
		return StateError, apierrors.New(apierrors.CodeDirectoryNotFound, "Akmods key directory not found.")
	}

	now := p.cfg.Clock.Now()
	p.mu.Lock()
	if p.cached && now.Sub(p.last.At) < p.cfg.TTL {
		res := p.last
		p.mu.Unlock()
		p.cfg.Metrics.observeCacheHit()
		return res.State, res.Err
	}
	p.mu.Unlock()

	state, err := p.run(ctx)

	cachedErr := err
	if apierrors.Is(err, apierrors.CodeCancelled) {
		// 取消只属于本次调用方，缓存中记录为普通失败。
		cachedErr = apierrors.New(apierrors.CodeToolFailure, "Previous key probe was cancelled.")
	}
	p.mu.Lock()
	p.last = ProbeResult{State: state, Err: cachedErr, At: p.cfg.Clock.Now()}
	p.cached = true
	p.mu.Unlock()

	p.cfg.Metrics.observeProbe(state, err)
	if err != nil && !apierrors.Suppressed(err) {
		p.cfg.Logger.Warn("akmods key probe failed", slog.String("state", state.String()), slog.Any("err", err))
	} else {
		p.cfg.Logger.Debug("akmods key probed", slog.String("state", state.String()))
	}
	return state, err
}

func (p *Prober) run(ctx context.Context) (State, error) {
	out, err := p.cfg.Runner.Run(ctx, p.cfg.Elevation.command("probe", FlagTest, nil))
	if err != nil {
		return StateError, err
	}
	return InterpretHelperOutcome(out)
}

// Invalidate 丢弃缓存，下一次 Probe 必定调用 helper。
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.cached = false
	p.mu.Unlock()
}

// Last 返回最近一次探测结果，不触发任何调用。
func (p *Prober) Last() (ProbeResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.cached
}
