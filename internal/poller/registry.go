// Package poller drives periodic status reconciliation, one cancellable
// goroutine per job. The registry only schedules; all decision logic lives
// in the orchestrating service.
package poller

import (
	"context"
	"sync"
	"time"
)

// ReconcileFunc performs one reconciliation for a job. It returns true when
// the job has reached a terminal state and polling must stop. The context
// is cancelled when the poller is stopped; implementations must not write
// after observing cancellation.
type ReconcileFunc func(ctx context.Context, jobID string) (done bool)

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the set of active pollers, keyed by job id. At most one
// poller is active per id at any time.
type Registry struct {
	interval time.Duration

	mu      sync.Mutex
	pollers map[string]*entry
}

// NewRegistry creates an empty registry with the given tick interval.
func NewRegistry(interval time.Duration) *Registry {
	return &Registry{
		interval: interval,
		pollers:  make(map[string]*entry),
	}
}

// Start begins polling for a job. If a poller for the same id is already
// active it is cancelled first, so a stale poller can never outlive a
// restart. Ticks never overlap for the same id: the reconcile call runs
// inline in the poller's goroutine, and a tick arriving while one is still
// in flight is dropped by the ticker.
func (r *Registry) Start(jobID string, fn ReconcileFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if prev, ok := r.pollers[jobID]; ok {
		prev.cancel()
	}
	r.pollers[jobID] = e
	r.mu.Unlock()

	go r.run(ctx, jobID, e, fn)
}

func (r *Registry) run(ctx context.Context, jobID string, e *entry, fn ReconcileFunc) {
	defer close(e.done)
	defer r.remove(jobID, e)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fn(ctx, jobID) {
				return
			}
		}
	}
}

// remove deregisters an entry, but only if it is still the one registered
// for the id — a replacement started in the meantime must not be evicted.
func (r *Registry) remove(jobID string, e *entry) {
	r.mu.Lock()
	if cur, ok := r.pollers[jobID]; ok && cur == e {
		delete(r.pollers, jobID)
	}
	r.mu.Unlock()
}

// Stop cancels the poller for a job and waits until its goroutine has
// exited, so a caller deleting the job cannot race an in-flight
// reconciliation. Stopping a job with no active poller is a no-op.
func (r *Registry) Stop(jobID string) {
	r.mu.Lock()
	e, ok := r.pollers[jobID]
	if ok {
		delete(r.pollers, jobID)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
		<-e.done
	}
}

// StopAll stops every active poller and waits for all of them to exit.
// Intended for process shutdown, before the store is closed.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.pollers))
	for id, e := range r.pollers {
		entries = append(entries, e)
		delete(r.pollers, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}

// Active reports whether a poller is currently registered for the job.
func (r *Registry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pollers[jobID]
	return ok
}

// Len returns the number of active pollers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}
