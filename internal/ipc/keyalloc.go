package ipc

import "sync/atomic"

// KeyAllocator mints successive candidate SHM/SEM keys. It replaces the
// global mutable counter the original design relied on: every Host owns
// one instance and passes it by reference into whatever needs a fresh
// key, instead of reaching for process-global state.
type KeyAllocator struct {
	counter atomic.Int64
}

// NewKeyAllocator returns an allocator whose first Next() call yields
// seed.
func NewKeyAllocator(seed int) *KeyAllocator {
	a := &KeyAllocator{}
	a.counter.Store(int64(seed) - 1)
	return a
}

// Next returns the next candidate key. CreateWithFreeKey probes Create
// with it and calls Next again on ErrKeyInUse; semaphore keys passed to
// OpenOrCreate are used once, without retry.
func (a *KeyAllocator) Next() int {
	return int(a.counter.Add(1))
}
