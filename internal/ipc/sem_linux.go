//go:build linux

package ipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/POZAlabs/lmms/rpcerr"
)

// sembuf mirrors struct sembuf from <sys/sem.h>.
type sembuf struct {
	semNum uint16
	semOp  int16
	semFlg int16
}

// OpenOrCreate opens (SemOpen) or creates (SemCreate) a single-member
// semaphore set at key. SemCreate additionally sets the initial count;
// SemOpen leaves whatever count is already there untouched.
func OpenOrCreate(key int, initial int, mode SemMode) (*Semaphore, error) {
	var flags uintptr = permOwner
	if mode == SemCreate {
		flags |= ipcCreat | ipcExcl
	}
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), 1, flags)
	if errno != 0 {
		return nil, fmt.Errorf("%w: semget(key=%d): %v", rpcerr.ErrResourceUnavailable, key, errno)
	}
	sem := &Semaphore{key: key, id: int(id)}
	if mode == SemCreate {
		// SETVAL = 16 on linux.
		if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, 16, uintptr(initial), 0, 0); errno != 0 {
			return nil, fmt.Errorf("%w: semctl(SETVAL): %v", rpcerr.ErrResourceUnavailable, errno)
		}
	}
	return sem, nil
}

// Acquire blocks until the semaphore's count is positive, then
// decrements it. A call on an invalidated semaphore returns immediately
// without blocking, so a pathological invalidate-during-wait ordering
// cannot deadlock a caller.
func (s *Semaphore) Acquire() error {
	if s.invalid.Load() {
		return nil
	}
	op := sembuf{semNum: 0, semOp: -1, semFlg: 0}
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.id), uintptr(unsafe.Pointer(&op)), 1)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return fmt.Errorf("%w: semop(acquire): %v", rpcerr.ErrTransportFailure, errno)
	}
}

// Release increments the semaphore's count by one.
func (s *Semaphore) Release() error {
	op := sembuf{semNum: 0, semOp: 1, semFlg: 0}
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.id), uintptr(unsafe.Pointer(&op)), 1)
	if errno != 0 {
		return fmt.Errorf("%w: semop(release): %v", rpcerr.ErrTransportFailure, errno)
	}
	return nil
}

// Invalidate marks the semaphore so that any later Acquire returns
// immediately, and releases once, which wakes one currently blocked
// waiter. Further waiters already blocked in semop stay blocked.
func (s *Semaphore) Invalidate() {
	s.invalid.Store(true)
	s.Release()
}

// Close removes the semaphore set. Only the creator should call this;
// peers that merely opened it should let the creator destroy it.
func (s *Semaphore) Close() error {
	// IPC_RMID = 0.
	_, _, errno := unix.Syscall(unix.SYS_SEMCTL, uintptr(s.id), 0, 0)
	if errno != 0 {
		return fmt.Errorf("%w: semctl(IPC_RMID): %v", rpcerr.ErrResourceUnavailable, errno)
	}
	return nil
}
