package orchestrator

import "sync"

// jobLocks serializes all orchestrator operations per job within this
// process. Cross-process races are caught by the store's conditional updates.
type jobLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire blocks until the caller holds the lock for id and returns the
// release function.
func (l *jobLocks) acquire(id int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
