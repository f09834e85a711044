package instance

import "sync"

// LockTable serializes work per instance id. Acquisition never blocks:
// callers either get the lock immediately or fail with ErrActionInProgress,
// and the sweeper skips busy instances instead of queuing behind them.
type LockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]struct{})}
}

// TryAcquire attempts to take the exclusive lock for id without waiting.
func (l *LockTable) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[id]; taken {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for id. Releasing an unheld lock is a no-op.
func (l *LockTable) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether the lock for id is currently taken.
func (l *LockTable) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[id]
	return taken
}
