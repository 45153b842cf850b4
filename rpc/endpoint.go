// Package rpc implements the symmetric RPC base both the host and the
// client build on: a bidirectional Endpoint wrapping one in-channel and
// one out-channel, a dispatch loop, and the wait-for-reply machinery
// spec.md §4.6 describes. Neither host.Host nor client.Client embeds an
// Endpoint through inheritance — each composes one and supplies a
// Handler, per the "polymorphism over subclassing" redesign in
// spec.md §9.
package rpc

import (
	"sync"
	"time"

	"github.com/POZAlabs/lmms/rpcerr"
	"github.com/POZAlabs/lmms/wire"
)

// Handler is the required callback an Endpoint's owner supplies.
// Handle processes one received message and reports whether the
// dispatch loop should continue (true) or stop (false) — the
// Continue|Stop result spec.md §9 calls for in place of a C++ virtual
// with boolean return.
type Handler interface {
	Handle(msg wire.Message) (cont bool)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(msg wire.Message) bool

func (f HandlerFunc) Handle(msg wire.Message) bool { return f(msg) }

// Endpoint is one side of a bidirectional RPC attachment: an in-channel
// to receive on, an out-channel to send on, and a recursive mutex that
// lets a WaitFor loop re-enter Handle, which may itself call Send,
// without deadlocking — spec.md §5's "the endpoint mutex is recursive
// because a wait_for loop invokes handle, which may itself call send."
type Endpoint struct {
	in, out wire.Channel
	handler Handler
	pump    EventPump

	mu    recursiveMutex
	depth WaitDepth

	invalid bool
	invMu   sync.Mutex
}

// New builds an Endpoint over the given channel pair. handler may be
// nil for an Endpoint used only to Send/Receive directly (e.g. before
// the owner has finished its own construction); SetHandler can attach
// one later. The Endpoint starts with NullPump as its event pump;
// SetEventPump replaces it.
func New(in, out wire.Channel, handler Handler) *Endpoint {
	return &Endpoint{in: in, out: out, handler: handler, pump: NullPump{}}
}

// SetHandler attaches or replaces the dispatch handler.
func (e *Endpoint) SetHandler(h Handler) { e.handler = h }

// SetEventPump attaches the cooperative event pump busy waits use.
func (e *Endpoint) SetEventPump(p EventPump) {
	if p == nil {
		p = NullPump{}
	}
	e.pump = p
}

// Lock and Unlock bracket a request/reply pair (a Send followed by a
// WaitFor) so that the pair is atomic with respect to other callers,
// and so that WaitFor's dispatch of an interleaved message back into
// Handle — which may itself call Send — re-enters the same recursive
// mutex instead of deadlocking. Send already acquires this lock
// internally, so callers only need to bracket explicitly when a
// request spans more than one Send/Receive call.
func (e *Endpoint) Lock()   { e.mu.Lock() }
func (e *Endpoint) Unlock() { e.mu.Unlock() }

// Send enqueues one message on the out-channel and returns the number
// of bytes written.
func (e *Endpoint) Send(msg wire.Message) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wire.Send(e.out, msg)
}

// Receive blocks until one message is read from the in-channel, or the
// endpoint is invalid, in which case it returns the sentinel Undefined
// message.
func (e *Endpoint) Receive() (wire.Message, error) {
	if e.IsInvalid() {
		return wire.Message{ID: wire.Undefined}, nil
	}
	return wire.Receive(e.in)
}

// DispatchOne receives one message and hands it to the attached
// Handler, returning the handler's continue/stop verdict. If the
// message is the invalidation sentinel it reports false; if there is no
// handler attached the message is discarded and it reports true.
func (e *Endpoint) DispatchOne() (cont bool, err error) {
	msg, err := e.Receive()
	if err != nil {
		return false, err
	}
	if msg.ID == wire.Undefined {
		return false, nil
	}
	if e.handler == nil {
		return true, nil
	}
	return e.handler.Handle(msg), nil
}

// WaitFor loops Receive+Handle until a message with id == expected
// arrives, or the Undefined sentinel is seen (endpoint invalidated).
// Messages that don't match are dispatched to Handle so out-of-order
// replies are never silently dropped, per spec.md §5.
//
// When busy is true, WaitFor cooperatively pumps foreground events
// through the attached EventPump for a bounded slice between polls
// instead of blocking directly in Receive, and increments this
// Endpoint's WaitDepth counter for the duration — spec.md §4.6's
// busy-wait mode.
func (e *Endpoint) WaitFor(expected wire.ID, busy bool) (wire.Message, error) {
	if !busy {
		return e.waitForBlocking(expected)
	}

	e.depth.Enter()
	defer e.depth.Leave()

	for {
		if e.IsInvalid() {
			return wire.Message{ID: wire.Undefined}, nil
		}
		if e.in.MessagesLeft() {
			msg, err := e.receiveAndMatch(expected)
			if msg.ID == expected || msg.ID == wire.Undefined || err != nil {
				return msg, err
			}
			continue
		}
		e.pump.Pump(busyWaitSlice)
	}
}

const busyWaitSlice = 50 * time.Millisecond

func (e *Endpoint) waitForBlocking(expected wire.ID) (wire.Message, error) {
	for {
		msg, err := e.receiveAndMatch(expected)
		if msg.ID == expected || msg.ID == wire.Undefined || err != nil {
			return msg, err
		}
	}
}

func (e *Endpoint) receiveAndMatch(expected wire.ID) (wire.Message, error) {
	msg, err := e.Receive()
	if err != nil {
		return msg, err
	}
	if msg.ID == expected || msg.ID == wire.Undefined {
		return msg, nil
	}
	if e.handler != nil {
		e.handler.Handle(msg)
	}
	return msg, nil
}

// Drain dispatches every currently buffered message without blocking
// for more.
func (e *Endpoint) Drain() {
	for e.in.MessagesLeft() {
		if cont, err := e.DispatchOne(); err != nil || !cont {
			return
		}
	}
}

// Invalidate flips the invalid flag on both channels and wakes any
// blocked waiter, per spec.md §4.6.
func (e *Endpoint) Invalidate() {
	e.invMu.Lock()
	e.invalid = true
	e.invMu.Unlock()
	e.in.Invalidate()
	e.out.Invalidate()
}

// IsInvalid reports whether Invalidate has been called or either
// channel invalidated itself (e.g. on a transport error).
func (e *Endpoint) IsInvalid() bool {
	e.invMu.Lock()
	flagged := e.invalid
	e.invMu.Unlock()
	return flagged || e.in.IsInvalid() || e.out.IsInvalid()
}

// WaitDepthCount reports the current nesting depth of busy waits on
// this endpoint, observable by collaborators that want to defer
// foreground work while a busy wait is outstanding.
func (e *Endpoint) WaitDepthCount() int { return e.depth.Count() }

// ErrIfUndefined is a convenience for call sites that want a typed
// rpcerr.ErrProtocolMismatch when WaitFor returns Undefined instead of
// the expected id.
func ErrIfUndefined(msg wire.Message, expected wire.ID) error {
	if msg.ID == wire.Undefined && expected != wire.Undefined {
		return rpcerr.New(rpcerr.KindProtocolMismatch, "wait_for observed Undefined")
	}
	return nil
}
