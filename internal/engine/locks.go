package engine

import "sync"

// keyedLocks linearizes mutating operations per project. Operations on
// different projects proceed in parallel; there is no global lock. Entries
// are never removed: the set of live projects in one workspace is small.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the project's mutex and returns the release func.
func (k *keyedLocks) acquire(projectID string) func() {
	k.mu.Lock()
	m, ok := k.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		k.locks[projectID] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
