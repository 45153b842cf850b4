// Codec for the control-channel wire format, grounded on the
// length-prefixed-field discipline of a shared-memory frame codec but
// flattened to the single layout this protocol needs:
//
//	message := id:i32  argc:i32  arg[0..argc)
//	arg     := len:i32  bytes[0..len)
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/POZAlabs/lmms/rpcerr"
)

// Channel is a byte-stream transport carrying framed messages: either a
// shared-memory ring FIFO or a local stream socket. Implementations
// serialize concurrent access themselves (a recursive lock for a FIFO,
// one mutex per direction for a socket).
type Channel interface {
	io.Reader
	io.Writer

	// Lock/Unlock bracket one full Send or Receive so that no two
	// callers interleave partial messages. Implementations may make
	// this recursive.
	Lock()
	Unlock()

	// WaitForMessage blocks until at least one complete message is
	// available to read, or the channel is invalidated.
	WaitForMessage()
	// MessageSent announces that a complete message was just written.
	MessageSent()
	// MessagesLeft reports, without blocking, whether unread bytes are
	// buffered; it does not guarantee that a complete message is.
	MessagesLeft() bool

	Invalidate()
	IsInvalid() bool

	// Capacity returns the largest Message.EncodedSize this channel can
	// carry in one Send, or a value <= 0 if the channel has no fixed
	// limit (e.g. a stream socket).
	Capacity() int
}

// Send writes m to ch and announces it. It returns the number of bytes
// written to the underlying channel.
//
// If m is too large for ch's capacity, the whole message is dropped
// before a single byte reaches the channel: nothing is written, the
// channel is not invalidated, and a KindOverSizeMessage error is
// returned for the caller to ignore, per the over-size-message
// contract. Writing the frame piece by piece and only discovering the
// overflow partway through would both corrupt the ring (the pieces
// already written are never unwound) and, under the old behavior of
// invalidating on that failure, kill the channel outright — the
// opposite of "drop the message, keep the channel."
func Send(ch Channel, m Message) (int, error) {
	ch.Lock()
	defer ch.Unlock()

	if ch.IsInvalid() {
		return 0, rpcerr.ErrTransportFailure
	}

	if cap := ch.Capacity(); cap > 0 && m.EncodedSize() > cap {
		return 0, rpcerr.New(rpcerr.KindOverSizeMessage, "message exceeds channel capacity")
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(m.Args)))
	n, err := ch.Write(hdr[:])
	total := n
	if err != nil {
		ch.Invalidate()
		return total, fmt.Errorf("%w: write header: %v", rpcerr.ErrTransportFailure, err)
	}

	var lenBuf [4]byte
	for _, arg := range m.Args {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(arg)))
		n, err = ch.Write(lenBuf[:])
		total += n
		if err != nil {
			ch.Invalidate()
			return total, fmt.Errorf("%w: write arg length: %v", rpcerr.ErrTransportFailure, err)
		}
		if len(arg) > 0 {
			n, err = ch.Write(arg)
			total += n
			if err != nil {
				ch.Invalidate()
				return total, fmt.Errorf("%w: write arg bytes: %v", rpcerr.ErrTransportFailure, err)
			}
		}
	}

	ch.MessageSent()
	return total, nil
}

// Receive blocks until one full message is read from ch, or the channel
// is invalidated, in which case it returns the sentinel Undefined
// message with no error.
func Receive(ch Channel) (Message, error) {
	ch.WaitForMessage()

	ch.Lock()
	defer ch.Unlock()

	if ch.IsInvalid() {
		return Message{ID: Undefined}, nil
	}

	var hdr [8]byte
	if _, err := io.ReadFull(ch, hdr[:]); err != nil {
		ch.Invalidate()
		return Message{ID: Undefined}, nil
	}
	id := ID(binary.LittleEndian.Uint32(hdr[0:4]))
	argc := binary.LittleEndian.Uint32(hdr[4:8])

	msg := Message{ID: id, Args: make([][]byte, 0, argc)}
	var lenBuf [4]byte
	for i := uint32(0); i < argc; i++ {
		if _, err := io.ReadFull(ch, lenBuf[:]); err != nil {
			ch.Invalidate()
			return Message{ID: Undefined}, nil
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(ch, buf); err != nil {
				ch.Invalidate()
				return Message{ID: Undefined}, nil
			}
		}
		msg.Args = append(msg.Args, buf)
	}
	return msg, nil
}
