package pool

import "time"

// WorkerStatus is a point-in-time view of one handle.
type WorkerStatus struct {
	ID         string    `json:"id"`
	Busy       bool      `json:"busy"`
	Restarting bool      `json:"restarting"`
	Dead       bool      `json:"dead"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Status is a point-in-time snapshot of the pool. A restarting handle
// counts as busy: it exists but cannot take work.
type Status struct {
	Initialized  bool           `json:"initialized"`
	TotalWorkers int            `json:"totalWorkers"`
	BusyWorkers  int            `json:"busyWorkers"`
	QueueLength  int            `json:"queueLength"`
	Workers      []WorkerStatus `json:"workers"`
}

// Status reports the current pool state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Initialized:  p.initialized && !p.closed,
		TotalWorkers: len(p.handles),
		QueueLength:  len(p.queue),
		Workers:      make([]WorkerStatus, 0, len(p.handles)),
	}
	for _, key := range p.order {
		h := p.handles[key]
		if h == nil {
			continue
		}
		if h.busy || h.restarting {
			st.BusyWorkers++
		}
		st.Workers = append(st.Workers, WorkerStatus{
			ID:         key,
			Busy:       h.busy,
			Restarting: h.restarting,
			Dead:       h.dead,
			LastUsedAt: h.lastUsedAt,
		})
	}
	return st
}
