// Package transport selects, at configuration time rather than compile
// time, between the two control-channel flavors this protocol supports:
// a shared-memory ring FIFO pair or a local stream socket. Both satisfy
// wire.Channel; callers above this package never switch on which one
// they got.
package transport

import (
	"fmt"

	"github.com/POZAlabs/lmms/internal/fifo"
	"github.com/POZAlabs/lmms/internal/ipc"
	"github.com/POZAlabs/lmms/wire"
)

// Kind is the sealed set of control-channel flavors. Unlike the
// original build-time #ifdef, this is an ordinary runtime value read
// out of configuration.
type Kind int

const (
	KindFifo Kind = iota
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindFifo:
		return "fifo"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// ParseKind parses the config-file spelling of a transport kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "fifo", "shm-fifo", "":
		return KindFifo, nil
	case "socket":
		return KindSocket, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// Pair is one endpoint's view of a bidirectional control channel: one
// Channel to read from, one to write to.
type Pair struct {
	In  wire.Channel
	Out wire.Channel
}

// ChildArgs is whatever of a Pair's identity needs to cross into the
// child's argv, already rendered as decimal strings in argv order.
type ChildArgs []string

// Listener is the host-side half of a control channel: it knows how to
// produce a Pair plus the argv fragment the child needs to attach to
// the matching peer.
type Listener struct {
	kind Kind

	// fifo flavor
	hostIn, hostOut *fifo.Fifo

	// socket flavor
	sock *socketListener

	childArgs ChildArgs
}

// Listen sets up the host side of a control channel of the requested
// kind. For KindFifo it eagerly allocates both directions' shared
// memory (no separate accept step is needed: the keys travel in argv).
// For KindSocket it binds a listener on a fresh temporary path and
// returns immediately; the accept happens in Accept once the child has
// been spawned.
func Listen(kind Kind, alloc *ipc.KeyAllocator, socketDir string, fifoCapacity int) (*Listener, error) {
	switch kind {
	case KindFifo:
		hostOut, outKey, err := fifo.Create(alloc, fifoCapacity)
		if err != nil {
			return nil, err
		}
		hostIn, inKey, err := fifo.Create(alloc, fifoCapacity)
		if err != nil {
			hostOut.Close()
			return nil, err
		}
		l := &Listener{kind: KindFifo, hostIn: hostIn, hostOut: hostOut}
		l.childArgs = ChildArgs{fmt.Sprint(outKey), fmt.Sprint(inKey)}
		return l, nil
	case KindSocket:
		sl, err := newSocketListener(socketDir)
		if err != nil {
			return nil, err
		}
		l := &Listener{kind: KindSocket, sock: sl}
		l.childArgs = ChildArgs{sl.path}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %d", kind)
	}
}

// ChildArgs returns the argv fragment (before the VST-sync key) the
// child needs to attach to this listener's channels.
func (l *Listener) ChildArgs() ChildArgs { return l.childArgs }

// Accept completes the handshake: for KindFifo the Pair is already
// available; for KindSocket this blocks for the child's single
// connection.
func (l *Listener) Accept() (*Pair, error) {
	switch l.kind {
	case KindFifo:
		return &Pair{In: l.hostIn, Out: l.hostOut}, nil
	case KindSocket:
		ch, err := l.sock.accept()
		if err != nil {
			return nil, err
		}
		in, out := ch.directions()
		return &Pair{In: in, Out: out}, nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %d", l.kind)
	}
}

// Close releases every resource the Listener holds: FIFO segments and
// semaphores, or the socket and its temporary path.
func (l *Listener) Close() error {
	switch l.kind {
	case KindFifo:
		var firstErr error
		if err := l.hostIn.Close(); err != nil {
			firstErr = err
		}
		if err := l.hostOut.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	case KindSocket:
		return l.sock.close()
	default:
		return nil
	}
}

// Dial is the child-side counterpart: given the kind and the argv
// fragment Listen produced, attach to the host's channels. For
// KindFifo, args are [host-out-key, host-in-key]; the child's view is
// swapped from the host's — it reads what the host writes (hostOut)
// and writes what the host reads (hostIn).
func Dial(kind Kind, args ChildArgs) (*Pair, error) {
	switch kind {
	case KindFifo:
		if len(args) != 2 {
			return nil, fmt.Errorf("fifo transport expects 2 argv fields, got %d", len(args))
		}
		hostOutKey, err := parseKey(args[0])
		if err != nil {
			return nil, err
		}
		hostInKey, err := parseKey(args[1])
		if err != nil {
			return nil, err
		}
		in, err := fifo.Attach(hostOutKey)
		if err != nil {
			return nil, err
		}
		out, err := fifo.Attach(hostInKey)
		if err != nil {
			in.Close()
			return nil, err
		}
		return &Pair{In: in, Out: out}, nil
	case KindSocket:
		if len(args) != 1 {
			return nil, fmt.Errorf("socket transport expects 1 argv field, got %d", len(args))
		}
		ch, err := dialSocket(args[0])
		if err != nil {
			return nil, err
		}
		in, out := ch.directions()
		return &Pair{In: in, Out: out}, nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %d", kind)
	}
}

func parseKey(s string) (int, error) {
	var key int
	if _, err := fmt.Sscanf(s, "%d", &key); err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return key, nil
}
