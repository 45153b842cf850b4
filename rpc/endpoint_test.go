package rpc

import (
	"net"
	"testing"
	"time"

	"github.com/POZAlabs/lmms/wire"
)

// pipeChannel is a minimal wire.Channel over a net.Pipe connection,
// used so these tests exercise Endpoint without any real shared memory.
type pipeChannel struct {
	net.Conn
	invalid  bool
	capacity int
}

func (p *pipeChannel) Lock()   {}
func (p *pipeChannel) Unlock() {}

func (p *pipeChannel) WaitForMessage() {}
func (p *pipeChannel) MessageSent()    {}
func (p *pipeChannel) MessagesLeft() bool {
	return false
}
func (p *pipeChannel) Invalidate() {
	p.invalid = true
	p.Conn.Close()
}
func (p *pipeChannel) IsInvalid() bool { return p.invalid }
func (p *pipeChannel) Capacity() int   { return p.capacity }

func newPipePair() (a, b *Endpoint) {
	c1, c2 := net.Pipe()
	aIn, aOut := &pipeChannel{Conn: c1}, &pipeChannel{Conn: c1}
	bIn, bOut := &pipeChannel{Conn: c2}, &pipeChannel{Conn: c2}
	return New(aIn, aOut, nil), New(bIn, bOut, nil)
}

// TestEndpointOverCapacitySendDropsWithoutInvalidating is the
// endpoint-layer sibling of fifo.TestOverSizeWriteDropped: a message
// bigger than the out-channel's capacity must be dropped whole by
// Endpoint.Send, leaving the endpoint valid and the next, normal-sized
// message able to round-trip.
func TestEndpointOverCapacitySendDropsWithoutInvalidating(t *testing.T) {
	c1, c2 := net.Pipe()
	aOut := &pipeChannel{Conn: c1, capacity: 32}
	bIn := &pipeChannel{Conn: c2}
	a := New(&pipeChannel{Conn: c1, capacity: 32}, aOut, nil)

	oversize := wire.NewMessage(wire.SaveSettingsToString)
	oversize.AddBytes(make([]byte, 64))
	n, err := a.Send(oversize)
	if n != 0 {
		t.Fatalf("Send(oversize) wrote %d bytes, want 0", n)
	}
	if err == nil {
		t.Fatal("Send(oversize) returned nil error, want KindOverSizeMessage")
	}
	if a.IsInvalid() {
		t.Fatal("oversize Send must not invalidate the endpoint")
	}

	fits := wire.NewMessage(wire.DebugMessage)
	fits.AddString("ok")
	go func() {
		if _, err := a.Send(fits); err != nil {
			t.Errorf("Send(fits): %v", err)
		}
	}()

	b := New(bIn, &pipeChannel{Conn: c2}, nil)
	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != wire.DebugMessage || got.ArgString(0) != "ok" {
		t.Fatalf("got %+v, want DebugMessage(\"ok\")", got)
	}
}

func TestWaitForReturnsUndefinedAfterInvalidate(t *testing.T) {
	a, _ := newPipePair()
	a.Invalidate()

	msg, err := a.WaitFor(wire.InitDone, false)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if msg.ID != wire.Undefined {
		t.Fatalf("got id %v, want Undefined", msg.ID)
	}
}

func TestRecursiveMutexDepth(t *testing.T) {
	var m recursiveMutex
	m.Lock()
	m.Lock()
	m.Lock()
	if m.depth != 3 {
		t.Fatalf("depth = %d, want 3", m.depth)
	}
	m.Unlock()
	m.Unlock()
	if m.depth != 1 {
		t.Fatalf("depth = %d, want 1", m.depth)
	}
	m.Unlock()
	if m.depth != 0 {
		t.Fatalf("depth = %d, want 0", m.depth)
	}
}

func TestRecursiveMutexExcludesOtherGoroutines(t *testing.T) {
	var m recursiveMutex
	m.Lock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
		m.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired the lock while the owner still held it")
	case <-time.After(50 * time.Millisecond):
	}

	m.Unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second goroutine never acquired the lock after the owner released it")
	}
}

func TestRecursiveMutexUnlockByNonOwnerPanics(t *testing.T) {
	var m recursiveMutex
	m.Lock()

	done := make(chan struct{})
	go func() {
		defer func() {
			if recover() == nil {
				t.Error("Unlock by non-owner goroutine did not panic")
			}
			close(done)
		}()
		m.Unlock()
	}()
	<-done

	m.Unlock()
}

func TestWaitDepthEnterLeave(t *testing.T) {
	var d WaitDepth
	d.Enter()
	d.Enter()
	if d.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", d.Count())
	}
	d.Leave()
	if d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", d.Count())
	}
	d.Leave()
	if d.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", d.Count())
	}
}

func TestDispatchOneHandlesMessage(t *testing.T) {
	a, b := newPipePair()
	seen := make(chan wire.ID, 1)
	b.SetHandler(HandlerFunc(func(msg wire.Message) bool {
		seen <- msg.ID
		return true
	}))

	go func() {
		if _, err := a.Send(wire.NewMessage(wire.DebugMessage)); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	go func() {
		if _, err := b.DispatchOne(); err != nil {
			t.Errorf("DispatchOne: %v", err)
		}
	}()

	select {
	case id := <-seen:
		if id != wire.DebugMessage {
			t.Fatalf("handled id = %v, want DebugMessage", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
