package vault

import (
	"sync"

	"autotp/internal/solana"
)

// keyedLocks serializes requests per vault owner.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[solana.PublicKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[solana.PublicKey]*refLock)}
}

// lock acquires the lock for key and returns its release func.
func (k *keyedLocks) lock(key solana.PublicKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
