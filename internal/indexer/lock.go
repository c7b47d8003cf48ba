package indexer

import "sync/atomic"

// BuildLock admits one writer at a time without blocking. A second caller
// is told to retry instead of queueing behind a long build.
type BuildLock struct {
	state atomic.Int32 // 0 = free, 1 = held
	owner atomic.Value // run id of the holder
}

// TryAcquire takes the lock for runID and reports whether it succeeded
func (l *BuildLock) TryAcquire(runID string) bool {
	if !l.state.CompareAndSwap(0, 1) {
		return false
	}
	l.owner.Store(runID)
	return true
}

// Release frees the lock. Only the holder may call it.
func (l *BuildLock) Release() {
	l.owner.Store("")
	l.state.Store(0)
}

// Held reports whether a build is running and, if so, its run id
func (l *BuildLock) Held() (string, bool) {
	if l.state.Load() == 0 {
		return "", false
	}
	id, _ := l.owner.Load().(string)
	return id, true
}
