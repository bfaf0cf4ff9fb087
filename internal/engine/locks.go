package engine

import "sync"

// keyedLocks serializes critical sections per int64 key. The engine
// keeps one map for instance ids (so concurrent triggers, a dismiss tap
// racing a fired-to-missed timeout, cannot lose updates) and one for
// alarm ids (so next-instance synthesis cannot double-insert). The maps
// only ever hold user-scale counts of alarms, so entries are not
// reclaimed.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for the given key and returns the unlock
// function.
func (l *keyedLocks) Lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
