package rpc

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// recursiveMutex is a reentrant mutex scoped to the goroutine that
// currently holds it, the same shape as Qt's QMutex::Recursive the
// original endpoint mutex relies on: the owning goroutine can re-enter
// Lock without blocking on itself (WaitFor dispatching into Handle,
// which may itself call Send), but any other goroutine calling Lock
// blocks on the real mutex until the owner fully unwinds — spec.md §5's
// "the endpoint mutex is shared among all threads that call send,
// receive, or wait_for."
//
// Ownership is tracked by goroutine ID, parsed out of runtime.Stack the
// same way chazu-maggie's vm.getGoroutineID does, since Go exposes no
// goroutine-local storage of its own.
type recursiveMutex struct {
	real sync.Mutex

	guard sync.Mutex
	owner int64
	depth int
}

func (m *recursiveMutex) Lock() {
	id := goroutineID()

	m.guard.Lock()
	if m.depth > 0 && m.owner == id {
		m.depth++
		m.guard.Unlock()
		return
	}
	m.guard.Unlock()

	m.real.Lock()

	m.guard.Lock()
	m.owner = id
	m.depth = 1
	m.guard.Unlock()
}

func (m *recursiveMutex) Unlock() {
	id := goroutineID()

	m.guard.Lock()
	if m.depth == 0 || m.owner != id {
		m.guard.Unlock()
		panic("rpc: recursiveMutex.Unlock called by a goroutine that does not hold the lock")
	}
	m.depth--
	if m.depth > 0 {
		m.guard.Unlock()
		return
	}
	m.owner = 0
	m.guard.Unlock()
	m.real.Unlock()
}

// goroutineID parses the calling goroutine's numeric ID out of its own
// stack trace header ("goroutine 37 [running]:...").
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
