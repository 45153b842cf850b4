//go:build linux

package ipc

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/POZAlabs/lmms/rpcerr"
)

const (
	ipcCreat  = 0o1000
	ipcExcl   = 0o2000
	permOwner = 0o600

	ipcStat = 2
	ipcRmid = 0
	shmRdOnly = 0o10000

	// shmIPCPermSize is sizeof(struct ipc_perm) on linux/amd64 and
	// linux/arm64 (glibc ABI): five 4-byte fields, four 2-byte fields,
	// two 8-byte reserved fields, padded to an 8-byte boundary.
	shmIPCPermSize = 48
	// shmSegszOffset is the byte offset of shm_segsz within struct
	// shmid_ds, immediately after shm_perm.
	shmSegszOffset = shmIPCPermSize
	shmidDSSize    = 112
)

// Create allocates a new System V shared memory segment of size bytes at
// key and attaches it read-write. It fails if a segment already exists
// at that key.
func Create(key int, size int) (*Segment, error) {
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(key), uintptr(size), uintptr(ipcCreat|ipcExcl|permOwner))
	if errno != 0 {
		if errno == unix.EEXIST {
			return nil, ErrKeyInUse
		}
		return nil, fmt.Errorf("%w: shmget(key=%d): %v", rpcerr.ErrResourceUnavailable, key, errno)
	}
	data, err := attachID(int(id), size, false)
	if err != nil {
		return nil, err
	}
	return &Segment{key: key, id: int(id), size: size, role: RoleMaster, data: data}, nil
}

// Attach attaches an existing segment at key. If readOnly is true the
// returned Segment's Bytes slice must not be written through.
func Attach(key int, readOnly bool) (*Segment, error) {
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(key), 0, uintptr(permOwner))
	if errno != 0 {
		return nil, fmt.Errorf("%w: shmget(key=%d): %v", rpcerr.ErrResourceUnavailable, key, errno)
	}
	size, err := segmentSize(int(id))
	if err != nil {
		return nil, err
	}
	data, err := attachID(int(id), size, readOnly)
	if err != nil {
		return nil, err
	}
	return &Segment{key: key, id: int(id), size: size, role: RoleAttached, data: data}, nil
}

// CreateWithFreeKey probes alloc for successive candidate keys, retrying
// Create until one succeeds. This preserves the original "probe an
// incrementing counter" strategy while owning the counter explicitly
// instead of reaching for a process-global one.
func CreateWithFreeKey(alloc *KeyAllocator, size int) (*Segment, int, error) {
	for {
		key := alloc.Next()
		seg, err := Create(key, size)
		if err == nil {
			return seg, key, nil
		}
		if err == ErrKeyInUse {
			continue
		}
		return nil, 0, err
	}
}

// Detach detaches the segment from this process's address space. If the
// caller holds the master role, this additionally marks the segment for
// destruction once the last attachment drops.
func (s *Segment) Detach() error {
	if s.closed {
		return ErrNotAttached
	}
	s.closed = true
	if s.data != nil {
		addr := uintptr(unsafe.Pointer(&s.data[0]))
		if _, _, errno := unix.Syscall(unix.SYS_SHMDT, addr, 0, 0); errno != 0 {
			return fmt.Errorf("%w: shmdt: %v", rpcerr.ErrResourceUnavailable, errno)
		}
	}
	if s.role == RoleMaster {
		unix.Syscall(unix.SYS_SHMCTL, uintptr(s.id), ipcRmid, 0)
	}
	s.data = nil
	return nil
}

func attachID(id int, size int, readOnly bool) ([]byte, error) {
	var flag uintptr
	if readOnly {
		flag = shmRdOnly
	}
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, uintptr(id), 0, flag)
	if errno != 0 {
		return nil, fmt.Errorf("%w: shmat: %v", rpcerr.ErrResourceUnavailable, errno)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// segmentSize reads shm_segsz back out of struct shmid_ds via
// shmctl(IPC_STAT), used when attaching to a segment whose size we did
// not choose ourselves.
func segmentSize(id int) (int, error) {
	buf := make([]byte, shmidDSSize)
	_, _, errno := unix.Syscall(unix.SYS_SHMCTL, uintptr(id), ipcStat, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return 0, fmt.Errorf("%w: shmctl(IPC_STAT): %v", rpcerr.ErrResourceUnavailable, errno)
	}
	return int(binary.LittleEndian.Uint64(buf[shmSegszOffset : shmSegszOffset+8])), nil
}
