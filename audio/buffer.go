// Package audio implements the shared-memory audio buffer spec.md §3
// names "Audio SHM": one float32 region sized
// (input_channels+output_channels)×frames_per_period, laid out inputs
// first then outputs, planar by channel unless the engine's own channel
// count matches in which case an interleaved fast path applies. The
// host owns the segment; the client re-attaches whenever the host
// publishes a new key via ChangeSharedMemoryKey.
package audio

import (
	"unsafe"

	"github.com/POZAlabs/lmms/internal/ipc"
)

const bytesPerSample = 4

// Buffer is the host- or client-side handle to one period's worth of
// shared audio memory. The zero value is not usable; obtain one via
// Allocate (host) or Attach (client).
type Buffer struct {
	seg     *ipc.Segment
	key     int
	inCh    int
	outCh   int
	frames  int
}

// Size returns the exact byte size an (in, out, frames) combination
// requires.
func Size(inChannels, outChannels, frames int) int {
	return (inChannels + outChannels) * frames * bytesPerSample
}

// Allocate creates a fresh segment sized for the given channel counts
// and frames-per-period, minting its key from alloc. This is what
// host.Host calls whenever channel counts or frames-per-period change,
// per spec.md §4.7 point 4 ("on any change... reallocate audio SHM").
func Allocate(alloc *ipc.KeyAllocator, inChannels, outChannels, frames int) (*Buffer, error) {
	seg, key, err := ipc.CreateWithFreeKey(alloc, Size(inChannels, outChannels, frames))
	if err != nil {
		return nil, err
	}
	return &Buffer{seg: seg, key: key, inCh: inChannels, outCh: outChannels, frames: frames}, nil
}

// Attach attaches the client side to a segment the host published via
// ChangeSharedMemoryKey.
func Attach(key int, inChannels, outChannels, frames int) (*Buffer, error) {
	seg, err := ipc.Attach(key, false)
	if err != nil {
		return nil, err
	}
	return &Buffer{seg: seg, key: key, inCh: inChannels, outCh: outChannels, frames: frames}, nil
}

// Key returns the shared-memory key this buffer is attached at — the
// value the host sends via wire.ChangeSharedMemoryKey.
func (b *Buffer) Key() int { return b.key }

// Close detaches the underlying segment.
func (b *Buffer) Close() error { return b.seg.Detach() }

// InputChannels, OutputChannels, and Frames report the dimensions this
// buffer was sized for.
func (b *Buffer) InputChannels() int  { return b.inCh }
func (b *Buffer) OutputChannels() int { return b.outCh }
func (b *Buffer) Frames() int         { return b.frames }

// Zero clears the entire buffer, mirroring the original's
// "memset(m_shm, 0, m_shmSize)" at the top of every process() call.
func (b *Buffer) Zero() {
	clearBytes(b.seg.Bytes())
}

// Inputs returns a float32 view over the input region: inCh×frames
// values, planar by channel.
func (b *Buffer) Inputs() []float32 {
	return floatView(b.seg.Bytes()[:b.inCh*b.frames*bytesPerSample])
}

// Outputs returns a float32 view over the output region, immediately
// following the input region.
func (b *Buffer) Outputs() []float32 {
	off := b.inCh * b.frames * bytesPerSample
	return floatView(b.seg.Bytes()[off : off+b.outCh*b.frames*bytesPerSample])
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// floatView reinterprets a byte slice as a float32 slice in place,
// without copying — the same "raw pointer into SHM" access the
// original has, expressed as an explicit, bounds-checked conversion
// instead of a bare unsafe.Pointer cast. Every platform this module
// builds on (linux/amd64, linux/arm64) is little-endian, matching
// spec.md §6's "little-endian float32" layout.
func floatView(b []byte) []float32 {
	if len(b)%bytesPerSample != 0 {
		panic("audio: buffer region not a multiple of sample size")
	}
	n := len(b) / bytesPerSample
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}
