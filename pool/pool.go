// Package pool manages a fixed-size set of worker channels: it dispatches
// tasks to the first idle handle or queues them FIFO, and replaces a
// handle whose worker crashes, re-running the full initialize handshake.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/poseworks/posepool/backoff"
	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/id"
	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/wire"
)

var (
	// ErrPoolClosed is returned for work submitted after Close, and
	// delivered to tasks still queued when Close runs.
	ErrPoolClosed = errors.New("posepool: pool closed")

	// ErrNotInitialized is returned when Execute is called before
	// Initialize has succeeded.
	ErrNotInitialized = errors.New("posepool: pool not initialized")

	// ErrThrottled is returned when the optional rate limiter drops a
	// submission instead of queueing it.
	ErrThrottled = errors.New("posepool: submission dropped by rate limiter")
)

// Task is one unit of work: a full request/response round trip delegated
// to whichever channel the pool assigns it.
type Task func(ctx context.Context, ch *channel.Channel) (any, error)

// Option configures a Pool.
type Option func(*Pool)

// WithChannelOptions sets options applied to every channel the pool
// creates, including crash replacements.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(p *Pool) { p.chOpts = opts }
}

// WithRestartBackoff sets the delay strategy between restart attempts.
func WithRestartBackoff(s backoff.Strategy) Option {
	return func(p *Pool) { p.restartBackoff = s }
}

// WithMaxRestartAttempts bounds how many times a crashed handle is
// relaunched before it is declared dead.
func WithMaxRestartAttempts(n int) Option {
	return func(p *Pool) { p.maxRestartAttempts = n }
}

// WithPingInterval enables periodic liveness pings of idle handles.
// A worker that fails its ping is restarted. Zero disables pinging.
func WithPingInterval(d time.Duration) Option {
	return func(p *Pool) { p.pingInterval = d }
}

// WithRateLimit drops Execute submissions beyond the sustained rate
// (token bucket). Useful when callers feed frames faster than the pool
// can infer; dropping stale frames beats queueing them. Zero disables.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pool) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// handle is one pool-owned worker slot. A handle is busy for the entire
// span between dispatch and settlement of its current task; a restarting
// handle is excluded from dispatch the same way.
type handle struct {
	id         id.WorkerID
	ch         *channel.Channel
	busy       bool
	restarting bool
	dead       bool
	lastUsedAt time.Time
}

type queuedTask struct {
	taskID id.TaskID
	task   Task
	ctx    context.Context
	done   chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Pool owns N channels and the FIFO task queue.
type Pool struct {
	launcher channel.Launcher
	logger   *slog.Logger
	chOpts   []channel.Option

	restartBackoff     backoff.Strategy
	maxRestartAttempts int
	pingInterval       time.Duration
	limiter            *rate.Limiter

	mu          sync.Mutex
	handles     map[string]*handle
	order       []string
	queue       []*queuedTask
	initialized bool
	closed      bool
	lastModel   *modelSpec

	listenerMu sync.RWMutex
	listeners  []func(Event)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// modelSpec remembers the last LoadModelAll arguments so a restarted
// worker comes back with the same model as its siblings.
type modelSpec struct {
	typ string
	cfg *model.Config
}

// New creates a Pool. Workers are not launched until Initialize.
func New(launcher channel.Launcher, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		launcher:           launcher,
		logger:             logger,
		restartBackoff:     backoff.DefaultStrategy(),
		maxRestartAttempts: 3,
		handles:            make(map[string]*handle),
		stopCh:             make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize creates size handles in parallel, each wrapping a fresh
// channel that performs the full bootstrap+initialize handshake. The
// first failure aborts the whole pool — no automatic retry, no degraded
// partial pool.
func (p *Pool) Initialize(ctx context.Context, size int) error {
	if size < 1 {
		return fmt.Errorf("posepool: pool size %d, need at least 1", size)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.initialized {
		p.mu.Unlock()
		return fmt.Errorf("posepool: pool already initialized")
	}
	p.mu.Unlock()

	p.logger.Info("initializing worker pool", slog.Int("size", size))

	var (
		createdMu sync.Mutex
		created   []*handle
	)
	g, gctx := errgroup.WithContext(ctx)
	for range size {
		g.Go(func() error {
			wid := id.NewWorkerID()
			ch, err := p.spawn(gctx, wid)
			if err != nil {
				return err
			}
			h := &handle{id: wid, ch: ch, lastUsedAt: time.Now().UTC()}
			createdMu.Lock()
			created = append(created, h)
			createdMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range created {
			_ = h.ch.Close()
		}
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		for _, h := range created {
			_ = h.ch.Close()
		}
		return ErrPoolClosed
	}
	for _, h := range created {
		p.handles[h.id.String()] = h
		p.order = append(p.order, h.id.String())
	}
	p.initialized = true
	p.mu.Unlock()

	if p.pingInterval > 0 {
		p.wg.Add(1)
		go p.pingLoop()
	}

	p.logger.Info("worker pool initialized", slog.Int("workers", size))
	p.emit(Event{Type: EventInitialized, Data: map[string]any{"workers": size}})
	return nil
}

// spawn launches one worker process, wraps it in a channel wired to the
// pool's crash and event handling, and runs the initialize handshake.
func (p *Pool) spawn(ctx context.Context, wid id.WorkerID) (*channel.Channel, error) {
	transport, err := p.launcher.Launch(ctx, wid)
	if err != nil {
		return nil, err
	}
	ch := channel.New(wid, transport, p.chOpts...)
	ch.OnCrash(func(cause error) { p.handleCrash(wid.String(), cause) })
	ch.OnEvent(func(evt wire.Event) {
		p.emit(Event{Type: EventWorker, WorkerID: wid.String(), WorkerEvent: &evt})
	})

	if err := ch.Initialize(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("posepool: worker %s initialize: %w", wid, err)
	}
	return ch, nil
}

// Execute runs task on the first idle handle, or queues it FIFO until one
// frees up. It returns when the task settles.
func (p *Pool) Execute(ctx context.Context, task Task) (any, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return nil, ErrThrottled
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if !p.initialized {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}

	// Dispatch immediately only when nothing is already waiting; queued
	// tasks go first.
	if len(p.queue) == 0 {
		if h := p.idleLocked(); h != nil {
			h.busy = true
			p.mu.Unlock()
			value, err := task(ctx, h.ch)
			p.release(h.id.String())
			return value, err
		}
	}

	qt := &queuedTask{
		taskID: id.NewTaskID(),
		task:   task,
		ctx:    ctx,
		done:   make(chan taskResult, 1),
	}
	p.queue = append(p.queue, qt)
	depth := len(p.queue)
	p.mu.Unlock()

	p.logger.Debug("task queued",
		slog.String("task_id", qt.taskID.String()),
		slog.Int("queue_depth", depth),
	)

	select {
	case res := <-qt.done:
		return res.value, res.err
	case <-ctx.Done():
		if p.dequeue(qt) {
			return nil, ctx.Err()
		}
		// Already dispatched; the task sees ctx cancellation itself.
		res := <-qt.done
		return res.value, res.err
	}
}

// idleLocked returns the first idle, healthy handle. Caller holds p.mu.
func (p *Pool) idleLocked() *handle {
	for _, key := range p.order {
		h := p.handles[key]
		if h == nil || h.busy || h.restarting || h.dead {
			continue
		}
		if !h.ch.IsReady() {
			continue
		}
		return h
	}
	return nil
}

// dequeue removes a not-yet-dispatched task, reporting whether it was
// still queued.
func (p *Pool) dequeue(qt *queuedTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.queue {
		if cur == qt {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

// release returns a handle to idle and dispatches the queue head, if any.
func (p *Pool) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.handles[key]
	if h == nil {
		return
	}
	h.busy = false
	h.lastUsedAt = time.Now().UTC()
	p.dispatchLocked()
}

// dispatchLocked pairs queued tasks with idle handles. Caller holds p.mu.
func (p *Pool) dispatchLocked() {
	for len(p.queue) > 0 {
		h := p.idleLocked()
		if h == nil {
			return
		}
		qt := p.queue[0]
		p.queue = p.queue[1:]
		h.busy = true
		go p.runQueued(h, qt)
	}
}

func (p *Pool) runQueued(h *handle, qt *queuedTask) {
	value, err := qt.task(qt.ctx, h.ch)
	qt.done <- taskResult{value: value, err: err}
	p.release(h.id.String())
}

// LoadModelAll loads the same model on every worker so any of them can
// serve a predict, and remembers it for crash replacements.
func (p *Pool) LoadModelAll(ctx context.Context, modelType string, cfg *model.Config) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.lastModel = &modelSpec{typ: modelType, cfg: cfg}
	chans := make([]*channel.Channel, 0, len(p.handles))
	for _, h := range p.handles {
		if h.restarting || h.dead {
			continue
		}
		chans = append(chans, h.ch)
	}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range chans {
		g.Go(func() error {
			_, err := ch.LoadModel(gctx, modelType, cfg)
			return err
		})
	}
	return g.Wait()
}

// Predict runs single-frame inference on any idle worker.
func (p *Pool) Predict(ctx context.Context, frame model.Frame) (*wire.PredictResult, error) {
	value, err := p.Execute(ctx, func(ctx context.Context, ch *channel.Channel) (any, error) {
		return ch.Predict(ctx, frame)
	})
	if err != nil {
		return nil, err
	}
	return value.(*wire.PredictResult), nil
}

// handleCrash is invoked (via the channel's crash callback) when a worker
// transport dies outside of Close. The handle is excluded from dispatch
// for the whole restart so the queue does not starve on a dead worker.
func (p *Pool) handleCrash(key string, cause error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	h := p.handles[key]
	if h == nil || h.restarting || h.dead {
		p.mu.Unlock()
		return
	}
	h.restarting = true
	p.mu.Unlock()

	p.logger.Error("worker crashed",
		slog.String("worker_id", key),
		slog.String("error", cause.Error()),
	)
	p.emit(Event{Type: EventError, WorkerID: key, Err: cause})

	p.wg.Add(1)
	go p.restart(h, cause)
}

// restart replaces a crashed handle's worker, keeping the handle id, and
// re-runs the initialize handshake (plus the model load the pool last
// broadcast). Attempts are spaced by the restart backoff.
func (p *Pool) restart(h *handle, cause error) {
	defer p.wg.Done()

	_ = h.ch.Close() // reap whatever is left of the dead worker

	key := h.id.String()
	for attempt := 1; attempt <= p.maxRestartAttempts; attempt++ {
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.restartBackoff.Delay(attempt)):
		}

		p.logger.Info("restarting worker",
			slog.String("worker_id", key),
			slog.Int("attempt", attempt),
		)

		ch, err := p.spawn(context.Background(), h.id)
		if err != nil {
			p.logger.Warn("worker restart attempt failed",
				slog.String("worker_id", key),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.mu.Lock()
		last := p.lastModel
		p.mu.Unlock()
		if last != nil {
			if _, err := ch.LoadModel(context.Background(), last.typ, last.cfg); err != nil {
				p.logger.Warn("model reload on restarted worker failed",
					slog.String("worker_id", key),
					slog.String("error", err.Error()),
				)
				_ = ch.Close()
				continue
			}
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = ch.Close()
			return
		}
		h.ch = ch
		h.restarting = false
		h.busy = false
		h.lastUsedAt = time.Now().UTC()
		p.dispatchLocked()
		p.mu.Unlock()

		p.logger.Info("worker restarted", slog.String("worker_id", key))
		p.emit(Event{Type: EventWorkerRestarted, WorkerID: key, Data: map[string]any{
			"attempt": attempt,
			"cause":   cause.Error(),
		}})
		return
	}

	p.mu.Lock()
	h.dead = true
	p.mu.Unlock()
	err := fmt.Errorf("posepool: worker %s could not be restarted after %d attempts (crash: %w)",
		key, p.maxRestartAttempts, cause)
	p.logger.Error("worker permanently failed", slog.String("worker_id", key))
	p.emit(Event{Type: EventError, WorkerID: key, Err: err})
}

// pingLoop periodically pings idle handles; a failed ping is treated as a
// crash and triggers restart.
func (p *Pool) pingLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pingIdle()
		}
	}
}

func (p *Pool) pingIdle() {
	p.mu.Lock()
	idle := make([]*handle, 0, len(p.handles))
	for _, key := range p.order {
		h := p.handles[key]
		if h != nil && !h.busy && !h.restarting && !h.dead {
			idle = append(idle, h)
		}
	}
	p.mu.Unlock()

	for _, h := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := h.ch.Ping(ctx)
		cancel()
		if err != nil {
			p.handleCrash(h.id.String(), fmt.Errorf("posepool: health ping failed: %w", err))
		}
	}
}

// Close terminates every worker, clears the handle map and the queue, and
// fails still-queued tasks with ErrPoolClosed. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	hs := make([]*handle, 0, len(p.handles))
	for _, h := range p.handles {
		hs = append(hs, h)
	}
	p.handles = make(map[string]*handle)
	p.order = nil
	stranded := p.queue
	p.queue = nil
	p.mu.Unlock()

	close(p.stopCh)

	for _, qt := range stranded {
		qt.done <- taskResult{err: ErrPoolClosed}
	}

	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ch.Close()
		}()
	}
	wg.Wait()
	p.wg.Wait()

	p.logger.Info("worker pool closed")
	return nil
}
