package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrQueueFull 当队列无可用 slot 时返回。
	ErrQueueFull = errors.New("worker queue full")
	// ErrRateLimited 表示命中速率限制。
	ErrRateLimited = errors.New("worker rate limited")
	// ErrClosed 表示 Dispatcher 已关闭。
	ErrClosed = errors.New("worker closed")
)

// Func 为在 worker 上执行的任务。
type Func func(ctx context.Context) (any, error)

type ctxKey struct{}

// Dispatcher 在单个后台 goroutine 上按 FIFO 顺序执行阻塞任务，
// 保证同一时刻只有一个登记或探测在进行。
type Dispatcher struct {
	cfg     Config
	queue   chan *job
	stopCh  chan struct{}
	metrics *Metrics
	logger  *slog.Logger
	limiter atomic.Pointer[rate.Limiter]

	seq       atomic.Uint64
	processed atomic.Uint64

	mu      sync.Mutex
	closed  bool
	pending map[string]*job
	running string

	wg sync.WaitGroup
}

type job struct {
	id       uint64
	key      string
	ctx      context.Context
	fn       Func
	enqueued time.Time

	done  chan struct{}
	value any
	err   error
}

func (j *job) finish(value any, err error) {
	j.value, j.err = value, err
	close(j.done)
}

// NewDispatcher 创建并启动后台 worker。
func NewDispatcher(cfg Config) *Dispatcher {
	normalized := cfg.normalize()
	d := &Dispatcher{
		cfg:     normalized,
		queue:   make(chan *job, normalized.MaxQueue),
		stopCh:  make(chan struct{}),
		metrics: normalized.Metrics,
		logger:  normalized.Logger,
		pending: make(map[string]*job),
	}
	d.UpdateRateLimit(normalized.RateLimit)
	d.wg.Add(1)
	go d.workerLoop()
	return d
}

// Do 提交任务并等待结果。key 非空时，与仍在排队的同 key 任务合并，
// 所有等待者得到同一结果。ctx 取消时立即返回 ctx.Err()。
// 在 worker 内部调用时直接执行 fn。
func (d *Dispatcher) Do(ctx context.Context, key string, fn Func) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.InWorker(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if key != "" {
		if queued := d.pending[key]; queued != nil && queued.ctx.Err() == nil {
			d.mu.Unlock()
			d.metrics.incCoalesced(key)
			return d.wait(ctx, queued)
		}
	}
	j := &job{
		id:       d.seq.Add(1),
		key:      key,
		ctx:      context.WithValue(ctx, ctxKey{}, d),
		fn:       fn,
		enqueued: time.Now(),
		done:     make(chan struct{}),
	}
	select {
	case d.queue <- j:
	default:
		d.mu.Unlock()
		d.metrics.incResult(key, resultRejected)
		return nil, ErrQueueFull
	}
	if key != "" {
		d.pending[key] = j
	}
	d.mu.Unlock()

	d.metrics.incQueueDepth()
	d.logger.Debug("worker job enqueued", slog.String("key", key), slog.Uint64("job", j.id))
	return d.wait(ctx, j)
}

// DoLimited 与 Do 相同，但先经过速率限制。
func (d *Dispatcher) DoLimited(ctx context.Context, key string, fn Func) (any, error) {
	if limiter := d.limiter.Load(); limiter != nil && !limiter.Allow() {
		d.metrics.incResult(key, resultRateLimited)
		return nil, ErrRateLimited
	}
	return d.Do(ctx, key, fn)
}

// Call 是 Do 的类型化封装。
func Call[T any](ctx context.Context, d *Dispatcher, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := d.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	out, _ := v.(T)
	return out, err
}

// InWorker 报告 ctx 是否属于该 Dispatcher 正在执行的任务。
func (d *Dispatcher) InWorker(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(ctxKey{}).(*Dispatcher)
	return owner == d
}

// UpdateRateLimit 热更新速率限制。
func (d *Dispatcher) UpdateRateLimit(rateValue float64) {
	if rateValue <= 0 {
		d.limiter.Store(nil)
		return
	}
	d.limiter.Store(rate.NewLimiter(rate.Limit(rateValue), d.cfg.RateBurst))
}

// Close 停止 worker，等待当前任务结束，排队中的任务以 ErrClosed 结束。可重复调用。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
	for {
		select {
		case j := <-d.queue:
			d.metrics.decQueueDepth()
			j.finish(nil, ErrClosed)
		default:
			return
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context, j *job) (any, error) {
	select {
	case <-j.done:
		return j.value, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case j := <-d.queue:
			d.handleJob(j)
		}
	}
}

func (d *Dispatcher) handleJob(j *job) {
	d.mu.Lock()
	if j.key != "" && d.pending[j.key] == j {
		delete(d.pending, j.key)
	}
	d.running = j.key
	d.mu.Unlock()
	d.metrics.decQueueDepth()
	d.metrics.observeWait(time.Since(j.enqueued))

	if err := j.ctx.Err(); err != nil {
		d.metrics.incResult(j.key, resultCancelled)
		d.complete(j, nil, err)
		return
	}

	start := time.Now()
	value, err := d.run(j)
	elapsed := time.Since(start)
	d.metrics.observeLatency(j.key, elapsed)
	if err != nil {
		d.metrics.incResult(j.key, resultError)
	} else {
		d.metrics.incResult(j.key, resultOK)
	}
	d.logger.Debug("worker job finished",
		slog.String("key", j.key),
		slog.Uint64("job", j.id),
		slog.Duration("elapsed", elapsed),
		slog.Bool("ok", err == nil))
	d.complete(j, value, err)
}

func (d *Dispatcher) complete(j *job, value any, err error) {
	d.mu.Lock()
	d.running = ""
	d.mu.Unlock()
	d.processed.Add(1)
	j.finish(value, err)
}

func (d *Dispatcher) run(j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker job panicked", slog.String("key", j.key), slog.Any("panic", r))
			value, err = nil, errors.New("worker job panicked")
		}
	}()
	return j.fn(j.ctx)
}
