package pool

import "github.com/poseworks/posepool/wire"

// EventType classifies pool lifecycle notifications.
type EventType string

const (
	// EventInitialized fires once all workers finished their handshake.
	EventInitialized EventType = "initialized"

	// EventWorkerRestarted fires when a crashed worker is back in service.
	EventWorkerRestarted EventType = "workerRestarted"

	// EventError fires on a worker crash and again if the replacement
	// ultimately fails.
	EventError EventType = "error"

	// EventWorker relays an unsolicited notification a worker pushed over
	// its channel, such as inference-complete.
	EventWorker EventType = "worker"
)

// Event is a pool lifecycle notification delivered to OnEvent listeners.
type Event struct {
	Type        EventType
	WorkerID    string
	Err         error
	Data        map[string]any
	WorkerEvent *wire.Event
}

// OnEvent registers a listener for pool events. Listeners are invoked
// synchronously from pool goroutines and must not block.
func (p *Pool) OnEvent(fn func(Event)) {
	p.listenerMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.listenerMu.Unlock()
}

func (p *Pool) emit(evt Event) {
	p.listenerMu.RLock()
	listeners := make([]func(Event), len(p.listeners))
	copy(listeners, p.listeners)
	p.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(evt)
	}
}
