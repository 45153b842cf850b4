// Package fifo implements the shared-memory ring FIFO control channel:
// a bounded byte ring living inside one ipc.Segment, guarded by a pair
// of ipc.Semaphores, used as a wire.Channel by both the host and the
// client when the configured transport is the shared-memory flavor.
//
// Grounded on the retry-on-full / compaction-on-write / busy-wait
// structure of a shared-memory SPSC ring, generalized from futex-wait to
// a named counting semaphore acquire, and on the original
// key-padded-to-32-bytes header layout so the on-wire shape stays ABI
// stable across 32-bit and 64-bit peers.
package fifo

import (
	"sync/atomic"
	"time"

	"github.com/POZAlabs/lmms/internal/ipc"
	"github.com/POZAlabs/lmms/rpcerr"
)

// Capacity is the default size of a FIFO's byte ring, used when Create
// is asked for no specific size. A write larger than the ring is
// dropped per the over-size-message contract; a write that fits the
// ring but not its current free space waits for the reader to drain.
const Capacity = 512 * 1024

const (
	keyFieldSize     = 32 // padded so the header stays ABI-stable across widths
	dataSemKeyOffset = 0
	msgSemKeyOffset  = keyFieldSize
	startOffset      = keyFieldSize * 2
	endOffset        = startOffset + 4
	dataOffset       = endOffset + 4
	headerSize       = dataOffset

	retrySleep = 5 * time.Microsecond
)

// Fifo is one direction's worth of control channel: the host allocates
// a pair (one per direction, keys swapped for the child's view) and the
// client attaches to both. A single Fifo value implements wire.Channel.
type Fifo struct {
	seg        *ipc.Segment
	dataSem    *ipc.Semaphore
	messageSem *ipc.Semaphore
	capacity   int

	depth   atomic.Int32
	invalid atomic.Bool
}

// Create allocates a fresh shared-memory segment and semaphore pair,
// minting keys from alloc, and returns the master-side Fifo. capacity
// sizes the byte ring; a value <= 0 falls back to Capacity. The
// returned key must be communicated to the peer (directly, via argv, or
// swapped for the paired direction); the peer's Attach derives the same
// capacity from the segment's actual size, so no separate handshake
// field is needed.
func Create(alloc *ipc.KeyAllocator, capacity int) (*Fifo, int, error) {
	if capacity <= 0 {
		capacity = Capacity
	}
	seg, shmKey, err := ipc.CreateWithFreeKey(alloc, headerSize+capacity)
	if err != nil {
		return nil, 0, err
	}
	dataSem, err := ipc.OpenOrCreate(alloc.Next(), 1, ipc.SemCreate)
	if err != nil {
		seg.Detach()
		return nil, 0, err
	}
	messageSem, err := ipc.OpenOrCreate(alloc.Next(), 0, ipc.SemCreate)
	if err != nil {
		seg.Detach()
		return nil, 0, err
	}

	putKey(seg.Bytes(), dataSemKeyOffset, dataSem.Key())
	putKey(seg.Bytes(), msgSemKeyOffset, messageSem.Key())
	putI32(seg.Bytes(), startOffset, 0)
	putI32(seg.Bytes(), endOffset, 0)

	return &Fifo{seg: seg, dataSem: dataSem, messageSem: messageSem, capacity: capacity}, shmKey, nil
}

// Attach attaches to an existing Fifo's segment by its shared-memory key
// and opens the semaphore pair whose keys are recorded in the header.
// The ring's capacity is derived from the segment's actual size rather
// than a fixed constant, so it always matches whatever capacity Create
// was given on the other side.
func Attach(shmKey int) (*Fifo, error) {
	seg, err := ipc.Attach(shmKey, false)
	if err != nil {
		return nil, err
	}
	dataSem, err := ipc.OpenOrCreate(getKey(seg.Bytes(), dataSemKeyOffset), 0, ipc.SemOpen)
	if err != nil {
		seg.Detach()
		return nil, err
	}
	messageSem, err := ipc.OpenOrCreate(getKey(seg.Bytes(), msgSemKeyOffset), 0, ipc.SemOpen)
	if err != nil {
		seg.Detach()
		return nil, err
	}
	capacity := seg.Size() - headerSize
	return &Fifo{seg: seg, dataSem: dataSem, messageSem: messageSem, capacity: capacity}, nil
}

// Close detaches the underlying segment. Only the master side (the
// creator) additionally removes the semaphore pair.
func (f *Fifo) Close() error {
	if f.seg.Role() == ipc.RoleMaster {
		f.dataSem.Close()
		f.messageSem.Close()
	}
	return f.seg.Detach()
}

// Lock acquires the FIFO's recursive mutex. Only the outermost
// acquire touches the real semaphore; nested calls on the same logical
// critical section just bump a depth counter.
func (f *Fifo) Lock() {
	if f.depth.Add(1) == 1 {
		f.dataSem.Acquire()
	}
}

// Unlock releases one level of the recursive mutex.
func (f *Fifo) Unlock() {
	if f.depth.Add(-1) == 0 {
		f.dataSem.Release()
	}
}

// WaitForMessage blocks until at least one pending message has been
// announced via MessageSent, or the channel is invalidated.
func (f *Fifo) WaitForMessage() {
	f.messageSem.Acquire()
}

// MessageSent announces one complete message is now in the ring.
func (f *Fifo) MessageSent() {
	f.messageSem.Release()
}

// MessagesLeft reports whether unread bytes remain in the ring. It does
// not guarantee a full message is present; callers pair it with
// WaitForMessage bookkeeping at the codec layer.
func (f *Fifo) MessagesLeft() bool {
	f.Lock()
	defer f.Unlock()
	start, end := f.bounds()
	return end > start
}

// Invalidate marks the channel invalid; every subsequent Read zero-fills
// and every Write is a no-op. A spurious MessageSent is issued so any
// consumer blocked in WaitForMessage unblocks.
func (f *Fifo) Invalidate() {
	f.invalid.Store(true)
	f.dataSem.Invalidate()
	f.messageSem.Invalidate()
}

// IsInvalid reports whether Invalidate has been called.
func (f *Fifo) IsInvalid() bool {
	return f.invalid.Load()
}

// Capacity returns the size of this Fifo's byte ring, satisfying
// wire.Channel's Capacity method.
func (f *Fifo) Capacity() int {
	return f.capacity
}

// Write implements io.Writer. A write larger than the ring's capacity is
// dropped per the over-size-message contract: nothing is written, the
// channel stays valid, and a rpcerr.KindOverSizeMessage error is
// returned; callers must not retry it.
func (f *Fifo) Write(p []byte) (int, error) {
	if f.IsInvalid() {
		return 0, nil
	}
	if len(p) > f.capacity {
		return 0, rpcerr.New(rpcerr.KindOverSizeMessage, "write exceeds fifo capacity")
	}

	f.Lock()
	defer f.Unlock()

	for {
		if f.IsInvalid() {
			return 0, nil
		}
		start, end := f.bounds()
		if end+len(p) <= f.capacity {
			data := f.dataArea()
			copy(data[end:end+len(p)], p)
			f.setEnd(end + len(p))
			return len(p), nil
		}
		if start > 0 {
			f.compact(start, end)
			continue
		}
		f.waitForSpace()
	}
}

// Read implements io.Reader, filling p entirely before returning (the
// FIFO never returns a short non-error read). Once the channel is
// invalid, Read zero-fills p and returns immediately.
func (f *Fifo) Read(p []byte) (int, error) {
	f.Lock()
	defer f.Unlock()

	for {
		if f.IsInvalid() {
			for i := range p {
				p[i] = 0
			}
			return len(p), nil
		}
		start, end := f.bounds()
		if end-start >= len(p) {
			data := f.dataArea()
			copy(p, data[start:start+len(p)])
			newStart := start + len(p)
			if newStart == end {
				f.setStart(0)
				f.setEnd(0)
			} else {
				f.setStart(newStart)
			}
			return len(p), nil
		}
		f.waitForSpace()
	}
}

// waitForSpace drops the real semaphore regardless of current nesting
// depth, sleeps briefly, and reacquires it, restoring the depth
// afterward — the retry primitive both Read and Write spin on while
// they wait for the peer to drain or fill the ring.
func (f *Fifo) waitForSpace() {
	depth := f.depth.Swap(0)
	f.dataSem.Release()
	time.Sleep(retrySleep)
	f.dataSem.Acquire()
	f.depth.Store(depth)
}

// compact slides the live [start, end) region down to offset 0, making
// room at the tail without losing any unread bytes.
func (f *Fifo) compact(start, end int) {
	data := f.dataArea()
	copy(data[0:end-start], data[start:end])
	f.setStart(0)
	f.setEnd(end - start)
}

func (f *Fifo) bounds() (start, end int) {
	b := f.seg.Bytes()
	return int(getI32(b, startOffset)), int(getI32(b, endOffset))
}

func (f *Fifo) setStart(v int) { putI32(f.seg.Bytes(), startOffset, v) }
func (f *Fifo) setEnd(v int)   { putI32(f.seg.Bytes(), endOffset, v) }

func (f *Fifo) dataArea() []byte {
	return f.seg.Bytes()[dataOffset : dataOffset+f.capacity]
}
