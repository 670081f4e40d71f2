package engine

import (
	"sync"
	"time"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// thumbWaiters coordinates UI consumers blocked on a thumbnail load.
// This is the one place where a mutex guards engine state: multiple UI
// goroutines may wait on the same photo at once, each with a bounded
// timeout, while the load itself runs on the engine side. Each in-flight
// load owns a channel that finish closes, so a completion can never slip
// past a waiter that has not parked yet.
type thumbWaiters struct {
	mu      sync.Mutex
	loading map[models.PhotoID]chan struct{}
}

func newThumbWaiters() *thumbWaiters {
	return &thumbWaiters{loading: make(map[models.PhotoID]chan struct{})}
}

// begin marks a photo as loading. Returns false when a load was already
// in flight, in which case the caller should just wait.
func (w *thumbWaiters) begin(id models.PhotoID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.loading[id]; ok {
		return false
	}
	w.loading[id] = make(chan struct{})
	return true
}

// finish clears the loading mark and releases all waiters. Finishing a
// photo that is not loading is a no-op.
func (w *thumbWaiters) finish(id models.PhotoID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if done, ok := w.loading[id]; ok {
		delete(w.loading, id)
		close(done)
	}
}

// wait blocks until the photo's load finishes or the timeout elapses.
// Returns true when the load finished within the window.
func (w *thumbWaiters) wait(id models.PhotoID, timeout time.Duration) bool {
	w.mu.Lock()
	done, ok := w.loading[id]
	w.mu.Unlock()
	if !ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
