// Package channel implements the caller-side RPC layer around one worker:
// it serializes requests onto the worker's request stream, correlates
// responses back to waiting callers by id, applies per-call timeouts, and
// fans unsolicited event notifications out to registered listeners.
package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poseworks/posepool/id"
	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/wire"
)

var (
	// ErrTimeout is returned when no response arrives within the per-call
	// window. The in-flight computation inside the worker is not cancelled;
	// its eventual response is dropped.
	ErrTimeout = errors.New("posepool: request timed out")

	// ErrWorkerCrash is returned for requests that were pending when the
	// worker's transport died.
	ErrWorkerCrash = errors.New("posepool: worker crashed")

	// ErrChannelClosed is returned for requests attempted or pending after
	// Close.
	ErrChannelClosed = errors.New("posepool: channel closed")
)

// RemoteError is a failure reported by the worker runtime itself (an error
// frame), as opposed to a transport-level failure.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Default per-call timeouts. Initialize is bounded tighter because it
// covers dependency bootstrap, which either succeeds promptly from one of
// the configured sources or is not going to succeed at all.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultInitializeTimeout = 10 * time.Second
)

// Option configures a Channel.
type Option func(*Channel)

// WithCodec sets the wire codec. Defaults to msgpack.
func WithCodec(c wire.Codec) Option {
	return func(ch *Channel) { ch.codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ch *Channel) { ch.logger = l }
}

// WithRequestTimeout sets the general per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(ch *Channel) { ch.requestTimeout = d }
}

// WithInitializeTimeout sets the timeout for the initialize handshake.
func WithInitializeTimeout(d time.Duration) Option {
	return func(ch *Channel) { ch.initTimeout = d }
}

// pending is one entry in the correlation table. The read loop (or the
// crash path) sends exactly one outcome; the buffered channel means the
// sender never blocks on a caller that already gave up.
type pending struct {
	ch chan outcome
}

type outcome struct {
	payload json.RawMessage
	err     error
}

// Channel wraps one worker transport. Safe for concurrent use: any number
// of goroutines may issue requests; a single read loop settles them.
type Channel struct {
	workerID  id.WorkerID
	transport Transport
	codec     wire.Codec
	logger    *slog.Logger

	requestTimeout time.Duration
	initTimeout    time.Duration

	writeMu sync.Mutex
	writer  *wire.Writer

	mu      sync.Mutex
	pending map[string]*pending

	nextID atomic.Uint64
	ready  atomic.Bool
	closed atomic.Bool

	listenerMu sync.RWMutex
	listeners  []func(wire.Event)
	onCrash    func(error)

	crashOnce sync.Once
	readDone  chan struct{}
}

// New wraps a transport and starts its read and stderr-relay loops.
// The channel is not ready until Initialize resolves.
func New(workerID id.WorkerID, transport Transport, opts ...Option) *Channel {
	ch := &Channel{
		workerID:       workerID,
		transport:      transport,
		codec:          wire.GetCodec(""),
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
		initTimeout:    DefaultInitializeTimeout,
		pending:        make(map[string]*pending),
		readDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.writer = wire.NewWriter(transport.Requests(), ch.codec)

	go ch.readLoop()
	if stderr := transport.Stderr(); stderr != nil {
		go ch.stderrLoop(stderr)
	}
	go func() {
		// Reap the worker so a crashed process never lingers as a zombie.
		// Wait closes the exec pipes, so it must not run until the read
		// loop has drained stdout.
		<-ch.readDone
		_ = transport.Wait()
	}()
	return ch
}

// WorkerID returns the handle id this channel serves.
func (c *Channel) WorkerID() id.WorkerID { return c.workerID }

// IsReady reports whether Initialize has resolved and the underlying
// context is still alive.
func (c *Channel) IsReady() bool {
	return c.ready.Load() && !c.closed.Load()
}

// OnEvent registers a listener for unsolicited worker notifications.
// Listeners run on the read loop and must not block.
func (c *Channel) OnEvent(fn func(wire.Event)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// OnCrash registers the crash callback, invoked at most once when the
// transport dies outside of Close. The pool uses this to trigger restart.
func (c *Channel) OnCrash(fn func(error)) {
	c.listenerMu.Lock()
	c.onCrash = fn
	c.listenerMu.Unlock()
}

// Initialize sends the initialize request and waits for the worker to
// report completed dependency bootstrap and backend setup.
func (c *Channel) Initialize(ctx context.Context) error {
	if _, err := c.send(ctx, wire.TypeInitialize, nil, c.initTimeout); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// LoadModel asks the worker to dispose any previously loaded model and
// load the requested one.
func (c *Channel) LoadModel(ctx context.Context, modelType string, cfg *model.Config) (*wire.LoadModelResult, error) {
	raw, err := c.send(ctx, wire.TypeLoadModel, wire.LoadModelPayload{
		ModelType: modelType,
		Config:    cfg,
	}, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var res wire.LoadModelResult
	if err := c.codec.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("posepool: decode loadModel result: %w", err)
	}
	return &res, nil
}

// Predict ships a frame to the worker and returns the detected poses.
func (c *Channel) Predict(ctx context.Context, frame model.Frame) (*wire.PredictResult, error) {
	raw, err := c.send(ctx, wire.TypePredict, wire.PredictPayload{Frame: frame}, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var res wire.PredictResult
	if err := c.codec.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("posepool: decode predict result: %w", err)
	}
	return &res, nil
}

// Ping checks worker liveness and returns its runtime state.
func (c *Channel) Ping(ctx context.Context) (*wire.PingResult, error) {
	raw, err := c.send(ctx, wire.TypePing, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var res wire.PingResult
	if err := c.codec.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("posepool: decode ping result: %w", err)
	}
	return &res, nil
}

// send performs one request/response round trip. Every request gets a
// fresh monotonic correlation id; exactly one of response, crash, timeout
// or context cancellation settles it, and the pending entry is removed by
// whichever happens first.
func (c *Channel) send(ctx context.Context, typ wire.Type, payload any, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}

	reqID := strconv.FormatUint(c.nextID.Add(1), 10)
	m, err := wire.NewRequest(c.codec, reqID, typ, payload)
	if err != nil {
		return nil, fmt.Errorf("posepool: encode %s request: %w", typ, err)
	}

	pr := &pending{ch: make(chan outcome, 1)}
	c.mu.Lock()
	c.pending[reqID] = pr
	c.mu.Unlock()

	// The write runs off the caller's goroutine so that a worker which has
	// stopped reading its request stream stalls the pipe, not the promise:
	// the timeout and ctx arms below cover the write too. A write failure
	// means a dead transport; the crash path settles this entry along with
	// every other pending request.
	go func() {
		c.writeMu.Lock()
		err := c.writer.Write(m)
		c.writeMu.Unlock()
		if err == nil {
			return
		}
		c.handleCrash(err)
		// The crash path runs once; if this request was registered after
		// it already drained the table, settle the entry here.
		if c.removePending(reqID) {
			failure := ErrChannelClosed
			if !c.closed.Load() {
				failure = fmt.Errorf("%w: %v", ErrWorkerCrash, err)
			}
			pr.ch <- outcome{err: failure}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-pr.ch:
		return out.payload, out.err
	case <-timer.C:
		if c.removePending(reqID) {
			return nil, fmt.Errorf("%w: no %s response within %s from worker %s",
				ErrTimeout, typ, timeout, c.workerID)
		}
		// The read loop settled the entry in the same instant; take the
		// real outcome, which is already in flight.
		out := <-pr.ch
		return out.payload, out.err
	case <-ctx.Done():
		if c.removePending(reqID) {
			return nil, ctx.Err()
		}
		out := <-pr.ch
		return out.payload, out.err
	}
}

// removePending deletes a correlation entry, reporting whether this caller
// owned the removal. False means the read loop (or crash path) got there
// first and an outcome is guaranteed to arrive on the entry's channel.
func (c *Channel) removePending(reqID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[reqID]; !ok {
		return false
	}
	delete(c.pending, reqID)
	return true
}

// readLoop classifies inbound messages: correlated responses settle their
// pending entry, id-less messages are events fanned out to listeners.
func (c *Channel) readLoop() {
	defer close(c.readDone)

	reader := wire.NewReader(c.transport.Responses(), c.codec)
	for {
		m, err := reader.Read()
		if err != nil {
			c.handleCrash(err)
			return
		}

		if m.IsEvent() {
			c.dispatchEvent(m)
			continue
		}
		c.settle(m)
	}
}

func (c *Channel) settle(m *wire.Message) {
	c.mu.Lock()
	pr, ok := c.pending[m.ID]
	delete(c.pending, m.ID)
	c.mu.Unlock()

	if !ok {
		// Timed-out or cancelled request finally answered; drop it.
		c.logger.Debug("dropping late response",
			slog.String("worker_id", c.workerID.String()),
			slog.String("request_id", m.ID),
			slog.String("type", string(m.Type)),
		)
		return
	}

	if m.Type == wire.TypeError {
		pr.ch <- outcome{err: &RemoteError{Message: m.Error}}
		return
	}
	pr.ch <- outcome{payload: m.Payload}
}

func (c *Channel) dispatchEvent(m *wire.Message) {
	var evt wire.Event
	if err := c.codec.Unmarshal(m.Payload, &evt); err != nil {
		c.logger.Warn("undecodable worker event",
			slog.String("worker_id", c.workerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.listenerMu.RLock()
	listeners := make([]func(wire.Event), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

// handleCrash fails every pending request and, unless the channel was
// deliberately closed, reports the crash upward. Runs at most once.
func (c *Channel) handleCrash(cause error) {
	c.crashOnce.Do(func() {
		c.ready.Store(false)
		deliberate := c.closed.Load()

		failure := ErrChannelClosed
		if !deliberate {
			failure = fmt.Errorf("%w: %v", ErrWorkerCrash, cause)
			c.logger.Error("worker transport died",
				slog.String("worker_id", c.workerID.String()),
				slog.String("error", cause.Error()),
			)
		}

		c.mu.Lock()
		stranded := c.pending
		c.pending = make(map[string]*pending)
		c.mu.Unlock()
		for _, pr := range stranded {
			pr.ch <- outcome{err: failure}
		}

		if deliberate {
			return
		}
		c.listenerMu.RLock()
		onCrash := c.onCrash
		c.listenerMu.RUnlock()
		if onCrash != nil {
			go onCrash(cause)
		}
	})
}

// closeGrace is how long Close waits for the worker to exit on its own
// after the request stream ends before force-killing it.
const closeGrace = 2 * time.Second

// Close terminates the underlying worker and clears the pending-request
// table. Idempotent; IsReady is false afterwards.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.ready.Store(false)

	// Closing the request stream tells a healthy worker to exit.
	_ = c.transport.Close()

	select {
	case <-c.readDone:
	case <-time.After(closeGrace):
		c.logger.Warn("worker did not exit after stdin close, killing",
			slog.String("worker_id", c.workerID.String()),
		)
		_ = c.transport.Kill()
		<-c.readDone
	}
	return nil
}

// stderrLoop relays worker log lines into the caller's logger, mapping the
// worker's JSON log level onto ours.
func (c *Channel) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		attr := slog.String("worker_id", c.workerID.String())
		switch {
		case strings.Contains(line, `"level":"ERROR"`):
			c.logger.Error(line, attr)
		case strings.Contains(line, `"level":"WARN"`):
			c.logger.Warn(line, attr)
		default:
			c.logger.Debug(line, attr)
		}
	}
}
