package transport

import (
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/POZAlabs/lmms/rpcerr"
)

// socketListener binds a Unix-domain stream socket at a fresh temporary
// path and accepts exactly one connection, per spec.md §4.4's "listens
// for exactly one connection."
type socketListener struct {
	ln   *net.UnixListener
	path string
}

func newSocketListener(dir string) (*socketListener, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "lmms-rpc-*.sock")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindResourceUnavailable, "create temp socket path", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindResourceUnavailable, "resolve unix addr", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindResourceUnavailable, "listen on socket path", err)
	}
	return &socketListener{ln: ln, path: path}, nil
}

func (l *socketListener) accept() (*socketChannel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindTransportFailure, "accept child connection", err)
	}
	return newSocketChannel(conn), nil
}

func (l *socketListener) close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

// dialSocket is the child-side counterpart: connect to the host's
// listening path.
func dialSocket(path string) (*socketChannel, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindTransportFailure, "dial host socket", err)
	}
	return newSocketChannel(conn), nil
}

// socketChannel is a full-duplex control channel over one net.Conn.
// Two independent mutexes, one per direction, let a send and a receive
// proceed concurrently without serializing on each other — spec.md
// §4.4's "two mutexes (one per direction)." The codec only ever Locks
// the channel it's actively using (In for Receive, Out for Send), so
// the two directions() views each close over their own mutex.
type socketChannel struct {
	conn    net.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
	invalid atomic.Bool
}

func newSocketChannel(conn net.Conn) *socketChannel {
	return &socketChannel{conn: conn}
}

func (c *socketChannel) Invalidate()     { c.invalid.Store(true) }
func (c *socketChannel) IsInvalid() bool { return c.invalid.Load() }

// directions returns the In and Out wire.Channel views of this
// connection: In reads and locks readMu, Out writes and locks writeMu.
// Both share the same underlying socket and invalid flag.
func (c *socketChannel) directions() (in, out *socketEndpoint) {
	return &socketEndpoint{ch: c, mu: &c.readMu}, &socketEndpoint{ch: c, mu: &c.writeMu}
}

// socketEndpoint adapts one direction of a socketChannel to
// wire.Channel. Unlike fifo.Fifo, a socket has no separate messageSem:
// WaitForMessage and MessageSent are no-ops because Receive's io.ReadFull
// already blocks on the socket directly, and bytes are on the wire the
// instant Write returns.
type socketEndpoint struct {
	ch *socketChannel
	mu *sync.Mutex
}

func (e *socketEndpoint) Lock()   { e.mu.Lock() }
func (e *socketEndpoint) Unlock() { e.mu.Unlock() }

func (e *socketEndpoint) WaitForMessage()    {}
func (e *socketEndpoint) MessageSent()       {}
func (e *socketEndpoint) Invalidate()        { e.ch.Invalidate() }
func (e *socketEndpoint) IsInvalid() bool    { return e.ch.IsInvalid() }

// Capacity reports no fixed limit: a stream socket has nothing like the
// FIFO's fixed ring, so oversize messages are never dropped here.
func (e *socketEndpoint) Capacity() int { return 0 }

// Read fills p entirely from the socket. A short read, zero-byte read,
// or error invalidates the channel and zero-fills the remainder of p,
// matching the FIFO transport's post-invalidate read contract.
func (e *socketEndpoint) Read(p []byte) (int, error) {
	if e.ch.IsInvalid() {
		zero(p)
		return len(p), nil
	}
	read := 0
	for read < len(p) {
		n, err := e.ch.conn.Read(p[read:])
		if err != nil || n == 0 {
			e.ch.Invalidate()
			zero(p[read:])
			return len(p), nil
		}
		read += n
	}
	return read, nil
}

// Write writes p to the socket in full. A short write or error
// invalidates the channel; subsequent Writes are then no-ops per
// spec.md §7.
func (e *socketEndpoint) Write(p []byte) (int, error) {
	if e.ch.IsInvalid() {
		return 0, nil
	}
	n, err := e.ch.conn.Write(p)
	if err != nil || n < len(p) {
		e.ch.Invalidate()
		return n, rpcerr.Wrap(rpcerr.KindTransportFailure, "short or failed socket write", err)
	}
	return n, nil
}

// MessagesLeft polls the underlying file descriptor for readability
// without blocking, per spec.md §4.4.
func (e *socketEndpoint) MessagesLeft() bool {
	uc, ok := e.ch.conn.(*net.UnixConn)
	if !ok {
		return false
	}
	rc, err := uc.SyscallConn()
	if err != nil {
		return false
	}
	var ready bool
	rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, _ := unix.Poll(fds, 0)
		ready = n > 0 && fds[0].Revents&unix.POLLIN != 0
	})
	return ready
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
