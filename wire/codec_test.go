package wire

import (
	"bytes"
	"sync"
	"testing"

	"github.com/POZAlabs/lmms/rpcerr"
)

// memChannel is a minimal Channel backed by an in-memory buffer, used
// only to exercise the codec in isolation from any real transport.
type memChannel struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	invalid  bool
	pending  int
	capacity int // 0 means unlimited, matching wire.Channel.Capacity's contract
}

func (c *memChannel) Read(p []byte) (int, error)  { return c.buf.Read(p) }
func (c *memChannel) Write(p []byte) (int, error) { return c.buf.Write(p) }
func (c *memChannel) Lock()                       { c.mu.Lock() }
func (c *memChannel) Unlock()                     { c.mu.Unlock() }
func (c *memChannel) WaitForMessage()             {}
func (c *memChannel) MessageSent()                { c.pending++ }
func (c *memChannel) MessagesLeft() bool          { return c.pending > 0 }
func (c *memChannel) Invalidate()                 { c.invalid = true }
func (c *memChannel) IsInvalid() bool             { return c.invalid }
func (c *memChannel) Capacity() int               { return c.capacity }

func TestSendReceiveRoundTrip(t *testing.T) {
	ch := &memChannel{}
	want := NewMessage(MidiEvent)
	want.AddInt(0x90).AddInt(0).AddInt(60).AddInt(100).AddInt(0)

	if _, err := Send(ch, want); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := Receive(ch)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != want.ID || got.Argc() != want.Argc() {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want.Args {
		if got.ArgString(i) != want.ArgString(i) {
			t.Fatalf("arg %d: got %q want %q", i, got.ArgString(i), want.ArgString(i))
		}
	}
}

func TestSendReceiveEmptyArgs(t *testing.T) {
	ch := &memChannel{}
	want := NewMessage(Quit)
	if _, err := Send(ch, want); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := Receive(ch)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != Quit || got.Argc() != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestReceiveAfterInvalidateReturnsUndefined(t *testing.T) {
	ch := &memChannel{}
	ch.Invalidate()
	got, err := Receive(ch)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != Undefined {
		t.Fatalf("got id %v, want Undefined", got.ID)
	}
}

func TestSendOverCapacityDropsWithoutInvalidatingOrCorrupting(t *testing.T) {
	ch := &memChannel{capacity: 64}

	oversize := NewMessage(SaveSettingsToString)
	oversize.AddBytes(make([]byte, 128))
	n, err := Send(ch, oversize)
	if n != 0 {
		t.Fatalf("Send(oversize) wrote %d bytes, want 0", n)
	}
	kind, ok := rpcerr.KindOf(err)
	if !ok || kind != rpcerr.KindOverSizeMessage {
		t.Fatalf("Send(oversize) err = %v, want KindOverSizeMessage", err)
	}
	if ch.IsInvalid() {
		t.Fatal("oversize Send must not invalidate the channel")
	}
	if ch.buf.Len() != 0 {
		t.Fatalf("oversize Send left %d bytes in the channel, want 0 (nothing written)", ch.buf.Len())
	}

	fits := NewMessage(DebugMessage)
	fits.AddString("still fine")
	if _, err := Send(ch, fits); err != nil {
		t.Fatalf("Send after oversize drop: %v", err)
	}
	got, err := Receive(ch)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != DebugMessage || got.ArgString(0) != "still fine" {
		t.Fatalf("got %+v, want DebugMessage(\"still fine\")", got)
	}
}

func TestEncodedSizeMatchesBytesWritten(t *testing.T) {
	ch := &memChannel{}
	m := NewMessage(DebugMessage)
	m.AddString("hello world")
	n, err := Send(ch, m)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != m.EncodedSize() {
		t.Fatalf("wrote %d bytes, EncodedSize() = %d", n, m.EncodedSize())
	}
}
