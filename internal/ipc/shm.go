// Package ipc wraps the two System V IPC facilities the control channel and
// the audio buffer are built on: shared memory segments and counting
// semaphores, both addressed by an integer key rather than a filesystem
// path. Keys are minted by a KeyAllocator owned by whichever side is
// responsible for publishing fresh segments (the host).
package ipc

import "github.com/POZAlabs/lmms/rpcerr"

// Role distinguishes the segment's creator from everyone else attached
// to it. Only the master may destroy the segment; attached readers and
// writers see the master's size after attach.
type Role int

const (
	RoleMaster Role = iota
	RoleAttached
)

// Segment is a System V shared memory segment identified by an integer
// key. The zero value is not usable; obtain one via Create or Attach.
type Segment struct {
	key    int
	id     int
	size   int
	role   Role
	data   []byte
	closed bool
}

// Key returns the integer key this segment was created or attached at.
func (s *Segment) Key() int { return s.key }

// Size returns the segment's size in bytes.
func (s *Segment) Size() int { return s.size }

// Bytes exposes the segment's backing memory. Callers must not retain
// the slice past Detach.
func (s *Segment) Bytes() []byte { return s.data }

// Role reports whether this handle is the segment's master or an
// attached peer.
func (s *Segment) Role() Role { return s.role }

// ErrKeyInUse is returned by Create when a segment already exists at
// the requested key.
var ErrKeyInUse = rpcerr.New(rpcerr.KindResourceUnavailable, "shm key already in use")

// ErrNotAttached is returned by Detach on a Segment that has already
// been detached — distinct from a detach that fails for some other
// reason, resolving the spec's open question about conflating the two.
var ErrNotAttached = rpcerr.New(rpcerr.KindResourceUnavailable, "segment not attached")
