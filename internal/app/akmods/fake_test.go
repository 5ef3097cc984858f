package akmods

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aegis-sign/akmods/internal/infra/subprocess"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type reply struct {
	out subprocess.Outcome
	err error
}

// recordingRunner 按顺序返回预设结果，并记录每次调用（标准输入在调用时拷贝）。
type recordingRunner struct {
	mu      sync.Mutex
	replies []reply
	calls   []subprocess.Command
	stdin   []string
}

func (r *recordingRunner) Run(_ context.Context, c subprocess.Command) (subprocess.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	r.stdin = append(r.stdin, string(c.Stdin))
	if len(r.replies) == 0 {
		return subprocess.Outcome{ExitCode: -1}, errors.New("unexpected invocation")
	}
	next := r.replies[0]
	r.replies = r.replies[1:]
	return next.out, next.err
}

func (r *recordingRunner) push(out subprocess.Outcome) *recordingRunner {
	r.mu.Lock()
	r.replies = append(r.replies, reply{out: out})
	r.mu.Unlock()
	return r
}

func (r *recordingRunner) pushErr(err error) *recordingRunner {
	r.mu.Lock()
	r.replies = append(r.replies, reply{out: subprocess.Outcome{ExitCode: -1}, err: err})
	r.mu.Unlock()
	return r
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
