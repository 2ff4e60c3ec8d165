package send

import "sync"

// nonceLocks is the set of nonces with a flow in progress.
type nonceLocks struct {
	mu     sync.Mutex
	active map[[32]byte]struct{}
}

func newNonceLocks() *nonceLocks {
	return &nonceLocks{active: make(map[[32]byte]struct{})}
}

// tryLock claims nonce and reports whether it was free.
func (l *nonceLocks) tryLock(nonce [32]byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[nonce]; busy {
		return false
	}
	l.active[nonce] = struct{}{}
	return true
}

func (l *nonceLocks) unlock(nonce [32]byte) {
	l.mu.Lock()
	delete(l.active, nonce)
	l.mu.Unlock()
}
