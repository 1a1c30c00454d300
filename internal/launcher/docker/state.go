package docker

import (
	"sync"

	"docjobs/internal/apperrors"
)

// workerState is the container backing one launched job.
type workerState struct {
	containerID string
}

// stateRepo tracks launched workers with thread-safe access.
type stateRepo struct {
	mu      sync.RWMutex
	workers map[string]*workerState
}

func newStateRepo() *stateRepo {
	return &stateRepo{
		workers: make(map[string]*workerState),
	}
}

// reserve claims a job ID slot with a nil state until commit is called.
func (r *stateRepo) reserve(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[jobID]; exists {
		return apperrors.Conflict("worker", "worker for job "+jobID+" already launched")
	}
	r.workers[jobID] = nil
	return nil
}

// commit fills in a reserved slot.
func (r *stateRepo) commit(jobID string, ws *workerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[jobID] = ws
}

// release removes a job. Returns the state if it existed.
func (r *stateRepo) release(jobID string) (*workerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ws, exists := r.workers[jobID]
	if exists {
		delete(r.workers, jobID)
	}
	return ws, exists
}

// get returns (nil, true) if the job is reserved but not yet committed.
func (r *stateRepo) get(jobID string) (*workerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws, exists := r.workers[jobID]
	return ws, exists
}

// list returns a snapshot of committed workers.
func (r *stateRepo) list() map[string]*workerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*workerState, len(r.workers))
	for id, ws := range r.workers {
		if ws != nil {
			result[id] = ws
		}
	}
	return result
}
