package channel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/poseworks/posepool/channel"
	"github.com/poseworks/posepool/id"
	"github.com/poseworks/posepool/model"
	"github.com/poseworks/posepool/wire"
)

// fakeTransport is an in-memory stand-in for a worker process: the test
// drives the far ends of its pipes as the scripted worker.
type fakeTransport struct {
	reqR *io.PipeReader
	reqW *io.PipeWriter
	resR *io.PipeReader
	resW *io.PipeWriter

	exited      chan struct{}
	waitStarted chan struct{}
	exitOnce    sync.Once
	closeOnce   sync.Once
	waitOnce    sync.Once
}

func newFakeTransport() *fakeTransport {
	ft := &fakeTransport{
		exited:      make(chan struct{}),
		waitStarted: make(chan struct{}),
	}
	ft.reqR, ft.reqW = io.Pipe()
	ft.resR, ft.resW = io.Pipe()
	return ft
}

func (f *fakeTransport) Requests() io.Writer  { return f.reqW }
func (f *fakeTransport) Responses() io.Reader { return f.resR }
func (f *fakeTransport) Stderr() io.Reader    { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { _ = f.reqW.Close() })
	return nil
}

func (f *fakeTransport) Kill() error {
	f.exit()
	return nil
}

func (f *fakeTransport) Wait() error {
	f.waitOnce.Do(func() { close(f.waitStarted) })
	<-f.exited
	return nil
}

// waitEntered reports whether the channel's reaper has called Wait.
func (f *fakeTransport) waitEntered() bool {
	select {
	case <-f.waitStarted:
		return true
	default:
		return false
	}
}

// exit simulates worker process death: both streams end.
func (f *fakeTransport) exit() {
	f.exitOnce.Do(func() {
		_ = f.resW.Close()
		_ = f.reqR.Close()
		close(f.exited)
	})
}

// scriptedWorker reads requests and answers through handler. A nil reply
// means stay silent. The worker exits when the request stream ends.
type scriptedWorker struct {
	ft      *fakeTransport
	codec   wire.Codec
	writeMu sync.Mutex
	writer  *wire.Writer
}

func startWorker(t *testing.T, ft *fakeTransport, handler func(w *scriptedWorker, m *wire.Message) *wire.Message) *scriptedWorker {
	t.Helper()
	codec := wire.GetCodec("")
	w := &scriptedWorker{ft: ft, codec: codec, writer: wire.NewWriter(ft.resW, codec)}
	go func() {
		defer ft.exit()
		reader := wire.NewReader(ft.reqR, codec)
		for {
			m, err := reader.Read()
			if err != nil {
				return
			}
			if reply := handler(w, m); reply != nil {
				if err := w.send(reply); err != nil {
					return
				}
			}
		}
	}()
	return w
}

func (w *scriptedWorker) send(m *wire.Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.writer.Write(m)
}

func (w *scriptedWorker) respond(t *testing.T, reqID string, payload any) *wire.Message {
	t.Helper()
	m, err := wire.NewResponse(w.codec, reqID, payload)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	return m
}

// okHandler answers every request type with a plausible success payload.
func okHandler(t *testing.T) func(w *scriptedWorker, m *wire.Message) *wire.Message {
	return func(w *scriptedWorker, m *wire.Message) *wire.Message {
		switch m.Type {
		case wire.TypeInitialize:
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		case wire.TypePing:
			return w.respond(t, m.ID, wire.PingResult{State: "Initialized"})
		case wire.TypePredict:
			return w.respond(t, m.ID, wire.PredictResult{ModelType: "MoveNet"})
		default:
			return w.respond(t, m.ID, wire.LoadModelResult{ModelType: "MoveNet"})
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChannel(t *testing.T, ft *fakeTransport, opts ...channel.Option) *channel.Channel {
	t.Helper()
	opts = append([]channel.Option{channel.WithLogger(discardLogger())}, opts...)
	ch := channel.New(id.NewWorkerID(), ft, opts...)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestChannel_InitializeAndClose(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, okHandler(t))
	ch := newChannel(t, ft)

	if ch.IsReady() {
		t.Fatal("channel ready before initialize")
	}
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !ch.IsReady() {
		t.Fatal("channel not ready after initialize")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.IsReady() {
		t.Fatal("channel still ready after close")
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := ch.Ping(context.Background()); !errors.Is(err, channel.ErrChannelClosed) {
		t.Fatalf("Ping after close = %v, want ErrChannelClosed", err)
	}
}

func TestChannel_CorrelatesConcurrentRequests(t *testing.T) {
	ft := newFakeTransport()

	// Hold every other request so replies go out pairwise swapped; the
	// correlation table, not arrival order, must match them up.
	var held *wire.Message
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type == wire.TypeInitialize {
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		}
		var p wire.PredictPayload
		if err := w.codec.Unmarshal(m.Payload, &p); err != nil {
			t.Errorf("decode predict payload: %v", err)
			return nil
		}
		reply := w.respond(t, m.ID, wire.PredictResult{
			InferenceTimeMs: float64(p.Frame.Width),
		})
		if held == nil {
			held = reply
			return nil
		}
		prev := held
		held = nil
		if err := w.send(reply); err != nil {
			return nil
		}
		return prev
	})

	ch := newChannel(t, ft)
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(width int) {
			defer wg.Done()
			res, err := ch.Predict(context.Background(), model.Frame{Width: width, Height: 1, Pixels: []byte{0, 0, 0, 0}})
			if err != nil {
				errCh <- err
				return
			}
			if int(res.InferenceTimeMs) != width {
				t.Errorf("request for width %d got result for %v", width, res.InferenceTimeMs)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Predict: %v", err)
	}
}

func TestChannel_RemoteError(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type == wire.TypeInitialize {
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		}
		return wire.NewError(m.ID, errors.New("posepool: no model loaded"))
	})

	ch := newChannel(t, ft)
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := ch.Predict(context.Background(), model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}})
	var remote *channel.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Predict = %v, want RemoteError", err)
	}
	if remote.Message != "posepool: no model loaded" {
		t.Fatalf("remote message = %q", remote.Message)
	}
}

func TestChannel_TimeoutDropsLateResponse(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		switch m.Type {
		case wire.TypeInitialize:
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		case wire.TypePing:
			return w.respond(t, m.ID, wire.PingResult{State: "Initialized"})
		case wire.TypePredict:
			// Answer well past the caller's deadline.
			reply := w.respond(t, m.ID, wire.PredictResult{})
			go func() {
				time.Sleep(150 * time.Millisecond)
				_ = w.send(reply)
			}()
			return nil
		}
		return nil
	})

	ch := newChannel(t, ft, channel.WithRequestTimeout(40*time.Millisecond))
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := ch.Predict(context.Background(), model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}})
	if !errors.Is(err, channel.ErrTimeout) {
		t.Fatalf("Predict = %v, want ErrTimeout", err)
	}

	// The late response must be dropped, not cross-delivered: the channel
	// keeps working afterwards.
	time.Sleep(200 * time.Millisecond)
	if _, err := ch.Ping(context.Background()); err != nil {
		t.Fatalf("Ping after dropped late response: %v", err)
	}
}

func TestChannel_TimeoutAgainstWedgedWorker(t *testing.T) {
	// Nothing ever reads the request stream, as with a worker whose
	// single-threaded loop wedged inside a handler without crashing: the
	// pipe write blocks forever, but the caller's promise must still
	// settle on the timeout.
	ft := newFakeTransport()
	ch := newChannel(t, ft, channel.WithRequestTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := ch.Ping(context.Background())
	if !errors.Is(err, channel.ErrTimeout) {
		t.Fatalf("Ping = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout against wedged worker took %v", elapsed)
	}

	// Context cancellation must rescue a blocked write the same way.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := ch.Predict(ctx, model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Predict = %v, want context.Canceled", err)
	}

	// Let the cleanup Close skip the kill grace.
	ft.exit()
}

func TestChannel_ReapsAfterResponseStreamDrained(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, okHandler(t))
	ch := newChannel(t, ft)

	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Wait closes the exec pipes, so the reaper must stay out of it while
	// responses may still arrive.
	time.Sleep(30 * time.Millisecond)
	if ft.waitEntered() {
		t.Fatal("transport reaped while response stream still open")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline := time.After(time.Second)
	for !ft.waitEntered() {
		select {
		case <-deadline:
			t.Fatal("transport never reaped after close")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestChannel_ContextCancellation(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type == wire.TypeInitialize {
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		}
		return nil // never answer
	})

	ch := newChannel(t, ft)
	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := ch.Predict(ctx, model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Predict = %v, want context.Canceled", err)
	}
}

func TestChannel_CrashFailsPendingAndNotifies(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type == wire.TypeInitialize {
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		}
		// Die mid-request without answering.
		ft.exit()
		return nil
	})

	ch := newChannel(t, ft)
	crashed := make(chan error, 1)
	ch.OnCrash(func(cause error) { crashed <- cause })

	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := ch.Predict(context.Background(), model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}})
	if !errors.Is(err, channel.ErrWorkerCrash) {
		t.Fatalf("Predict = %v, want ErrWorkerCrash", err)
	}

	select {
	case cause := <-crashed:
		if cause == nil {
			t.Fatal("crash callback got nil cause")
		}
	case <-time.After(time.Second):
		t.Fatal("crash callback never invoked")
	}

	if ch.IsReady() {
		t.Fatal("channel still ready after crash")
	}
	if _, err := ch.Predict(context.Background(), model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}}); !errors.Is(err, channel.ErrWorkerCrash) {
		t.Fatalf("Predict after crash = %v, want ErrWorkerCrash", err)
	}
}

func TestChannel_CloseFailsPendingWithoutCrashCallback(t *testing.T) {
	ft := newFakeTransport()
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type == wire.TypeInitialize {
			return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
		}
		return nil // never answer
	})

	ch := newChannel(t, ft)
	crashed := make(chan error, 1)
	ch.OnCrash(func(cause error) { crashed <- cause })

	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := ch.Predict(context.Background(), model.Frame{Width: 1, Height: 1, Pixels: []byte{0, 0, 0, 0}})
		result <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, channel.ErrChannelClosed) {
			t.Fatalf("pending Predict = %v, want ErrChannelClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request never settled after Close")
	}

	select {
	case cause := <-crashed:
		t.Fatalf("crash callback invoked on deliberate close: %v", cause)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_EventsFanOut(t *testing.T) {
	ft := newFakeTransport()
	codec := wire.GetCodec("")
	startWorker(t, ft, func(w *scriptedWorker, m *wire.Message) *wire.Message {
		if m.Type != wire.TypeInitialize {
			return nil
		}
		evt, err := wire.NewEvent(codec, wire.EventWorkerReady, map[string]any{"source": "local"})
		if err != nil {
			t.Errorf("encode event: %v", err)
			return nil
		}
		_ = w.send(evt)
		return w.respond(t, m.ID, wire.InitializeResult{Source: "local"})
	})

	ch := newChannel(t, ft)
	got := make(chan wire.Event, 2)
	ch.OnEvent(func(evt wire.Event) { got <- evt })

	if err := ch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	select {
	case evt := <-got:
		if evt.Name != wire.EventWorkerReady {
			t.Fatalf("event name = %q, want %q", evt.Name, wire.EventWorkerReady)
		}
		if evt.Data["source"] != "local" {
			t.Fatalf("event data = %v", evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}
