// Package vstsync implements the small fixed-layout handshake segment
// spec.md §4.8 calls the "VST-sync SHM": a read-only shared memory
// block the host publishes up front carrying the sample rate and
// frames-per-period it's already committed to, so a client that can
// attach to it skips the SampleRateInformation/BufferSizeInformation
// request/reply round trip entirely and sends HostInfoGotten straight
// away. Grounded on original_source/include/RemotePlugin.h's
// RemotePluginClient constructor (attach-or-query-fallback) and its
// VstSyncData handshake block.
package vstsync

import (
	"encoding/binary"

	"github.com/POZAlabs/lmms/internal/ipc"
)

const (
	sampleRateOffset = 0
	bufferSizeOffset = 4
	segmentSize      = 8
)

// Data is the host's (sampleRate, framesPerPeriod) pair as published
// into the handshake segment.
type Data struct {
	SampleRate      uint32
	FramesPerPeriod uint32
}

// Segment is the host- or client-side handle to the handshake SHM.
type Segment struct {
	seg *ipc.Segment
	key int
}

// Publish creates the handshake segment and writes d into it. Called
// once, before the child is spawned, so the key can travel in argv.
func Publish(alloc *ipc.KeyAllocator, d Data) (*Segment, error) {
	seg, key, err := ipc.CreateWithFreeKey(alloc, segmentSize)
	if err != nil {
		return nil, err
	}
	s := &Segment{seg: seg, key: key}
	s.write(d)
	return s, nil
}

// Update rewrites the published data in place. host.Host does not call
// it when its sample rate or frames-per-period change, so the segment
// keeps the values given to Publish. A live client is notified of
// changes via the ordinary SampleRateInformation/BufferSizeInformation
// messages, not by re-reading this segment.
func (s *Segment) Update(d Data) { s.write(d) }

func (s *Segment) write(d Data) {
	b := s.seg.Bytes()
	binary.LittleEndian.PutUint32(b[sampleRateOffset:], d.SampleRate)
	binary.LittleEndian.PutUint32(b[bufferSizeOffset:], d.FramesPerPeriod)
}

// Key is the value passed in argv so the client can Attach.
func (s *Segment) Key() int { return s.key }

// Close detaches the segment.
func (s *Segment) Close() error { return s.seg.Detach() }

// Attach attempts to attach the handshake segment read-only. Failure is
// expected and non-fatal: the client falls back to querying the host
// directly for sample rate and buffer size.
func Attach(key int) (*Segment, Data, error) {
	seg, err := ipc.Attach(key, true)
	if err != nil {
		return nil, Data{}, err
	}
	b := seg.Bytes()
	d := Data{
		SampleRate:      binary.LittleEndian.Uint32(b[sampleRateOffset:]),
		FramesPerPeriod: binary.LittleEndian.Uint32(b[bufferSizeOffset:]),
	}
	return &Segment{seg: seg, key: key}, d, nil
}
