//go:build !linux

package ipc

func OpenOrCreate(key int, initial int, mode SemMode) (*Semaphore, error) {
	return nil, ErrPlatformUnsupported
}

func (s *Semaphore) Acquire() error {
	return ErrPlatformUnsupported
}

func (s *Semaphore) Release() error {
	return ErrPlatformUnsupported
}

func (s *Semaphore) Invalidate() {}

func (s *Semaphore) Close() error {
	return ErrPlatformUnsupported
}
