package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegis-sign/akmods/pkg/apierrors"
)

const defaultWaitDelay = 500 * time.Millisecond

// Command 描述一次外部工具调用。
type Command struct {
	// Name 用作指标与日志标签，为空时取 Path 的 basename。
	Name string
	Path string
	Args []string
	// Stdin 非 nil 时写入进程标准输入并关闭。内容可能是敏感数据，不会被记录。
	Stdin []byte
}

// String 返回不含标准输入的命令行。
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

func (c Command) label() string {
	if c.Name != "" {
		return c.Name
	}
	if idx := strings.LastIndexByte(c.Path, '/'); idx >= 0 {
		return c.Path[idx+1:]
	}
	return c.Path
}

// Config 控制 Runner 行为。
type Config struct {
	// WaitDelay 为取消后等待输出管道关闭的上限。
	WaitDelay time.Duration
	Logger    *slog.Logger
	Metrics   *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Runner 负责启动外部进程、写入标准输入并完整收集两路输出。
type Runner struct {
	cfg Config
}

// NewRunner 构造 Runner。
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg.normalize()}
}

// Run 执行命令并等待其退出。任意退出码都作为 Outcome 返回；
// 只有启动失败、取消或标准输入写入失败才返回 error。
func (r *Runner) Run(ctx context.Context, c Command) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	outcome := Outcome{Command: c.String(), ExitCode: -1}
	label := c.label()
	if err := ctx.Err(); err != nil {
		r.cfg.Metrics.observe(label, resultCancelled, 0)
		return outcome, cancelledError(c, err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.WaitDelay = r.cfg.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return outcome, r.spawnFailed(c, label, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return outcome, r.spawnFailed(c, label, err)
	}
	var stdin io.WriteCloser
	if c.Stdin != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return outcome, r.spawnFailed(c, label, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return outcome, r.spawnFailed(c, label, err)
	}

	var outBuf, errBuf bytes.Buffer
	var stdinErr error
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	if stdin != nil {
		g.Go(func() error {
			stdinErr = feed(stdin, c.Stdin)
			return nil
		})
	}

	// 取消时关闭管道，使仍持有写端的子进程无法阻塞读取。
	stop := context.AfterFunc(ctx, func() {
		if stdin != nil {
			_ = stdin.Close()
		}
		_ = stdout.Close()
		_ = stderr.Close()
	})
	drainErr := g.Wait()
	stop()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	outcome.Stdout = outBuf.String()
	outcome.Stderr = errBuf.String()
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		outcome.Detail = exitErr.Error()
	} else if waitErr != nil {
		outcome.Detail = waitErr.Error()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.cfg.Metrics.observe(label, resultCancelled, elapsed)
		return outcome, cancelledError(c, ctxErr)
	}
	if drainErr != nil {
		r.cfg.Metrics.observe(label, resultIOError, elapsed)
		return outcome, apierrors.Wrap(apierrors.CodeToolFailure,
			fmt.Sprintf("Failed to read output of '%s': %v", c, drainErr), drainErr)
	}
	if stdinErr != nil {
		r.cfg.Metrics.observe(label, resultIOError, elapsed)
		return outcome, apierrors.Wrap(apierrors.CodeToolFailure,
			fmt.Sprintf("Failed to enter input to '%s': %v", c, stdinErr), stdinErr)
	}

	r.cfg.Metrics.observe(label, resultExited, elapsed)
	r.cfg.Logger.Debug("subprocess finished",
		slog.String("command", c.String()),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Int("stdout_bytes", len(outcome.Stdout)),
		slog.Int("stderr_bytes", len(outcome.Stderr)),
		slog.Duration("elapsed", elapsed))
	return outcome, nil
}

func feed(w io.WriteCloser, payload []byte) error {
	_, err := w.Write(payload)
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	}
	// 进程未读取输入便已退出时由退出状态决定结果。
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func spawnError(c Command, err error) error {
	return apierrors.Wrap(apierrors.CodeSpawnFailed, fmt.Sprintf("Failed to call '%s': %v", c, err), err)
}

func cancelledError(c Command, err error) error {
	return apierrors.Wrap(apierrors.CodeCancelled, fmt.Sprintf("'%s' was cancelled", c), err)
}

func (r *Runner) spawnFailed(c Command, label string, err error) error {
	r.cfg.Metrics.observe(label, resultSpawnFailed, 0)
	r.cfg.Logger.Debug("subprocess spawn failed", slog.String("command", c.String()), slog.Any("err", err))
	return spawnError(c, err)
}
