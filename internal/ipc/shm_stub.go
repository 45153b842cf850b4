//go:build !linux

package ipc

import "github.com/POZAlabs/lmms/rpcerr"

// ErrPlatformUnsupported is returned by every ipc operation on
// platforms without a System V shared memory implementation here.
var ErrPlatformUnsupported = rpcerr.New(rpcerr.KindResourceUnavailable, "system v shared memory unsupported on this platform")

func Create(key int, size int) (*Segment, error) {
	return nil, ErrPlatformUnsupported
}

func Attach(key int, readOnly bool) (*Segment, error) {
	return nil, ErrPlatformUnsupported
}

func CreateWithFreeKey(alloc *KeyAllocator, size int) (*Segment, int, error) {
	return nil, 0, ErrPlatformUnsupported
}

func (s *Segment) Detach() error {
	return ErrPlatformUnsupported
}
